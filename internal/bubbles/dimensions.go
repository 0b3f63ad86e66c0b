package bubbles

// Capacity bounds the text of a single bubble.
type Capacity struct {
	MaxCharsPerLine   int `json:"max_chars_per_line"`
	MaxLinesPerBubble int `json:"max_lines_per_bubble"`
}

// Layout is what the engine knows about the current display when it asks for
// a capacity. Viewport and device details belong to the resolver itself.
type Layout struct {
	EntityCount int
	BubbleCount int
}

// DimensionResolver is supplied by the host and queried on every text update.
type DimensionResolver interface {
	Resolve(Layout) Capacity
}

// ResolverFunc adapts a function to DimensionResolver.
type ResolverFunc func(Layout) Capacity

func (f ResolverFunc) Resolve(l Layout) Capacity { return f(l) }

// StaticResolver always returns the same capacity.
type StaticResolver Capacity

func (s StaticResolver) Resolve(Layout) Capacity { return Capacity(s) }

// SharedWidthResolver splits a base line width between the entities on
// screen and the bubbles each one shows.
type SharedWidthResolver struct {
	BaseCharsPerLine int
	LinesPerBubble   int
	MinCharsPerLine  int
}

func (r SharedWidthResolver) Resolve(l Layout) Capacity {
	chars := r.BaseCharsPerLine / max(l.EntityCount, 1) / max(l.BubbleCount, 1)
	floor := r.MinCharsPerLine
	if floor <= 0 {
		floor = 8
	}
	return Capacity{
		MaxCharsPerLine:   max(chars, floor),
		MaxLinesPerBubble: max(r.LinesPerBubble, 1),
	}
}
