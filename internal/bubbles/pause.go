package bubbles

import "time"

const (
	DefaultWPM      = 200
	DefaultMinPause = 1500 * time.Millisecond
	DefaultMaxPause = 8000 * time.Millisecond

	// keeps wordCount*time.Minute inside int64
	maxPauseWords = 1 << 20
)

// PauseBounds clamps reading pauses.
type PauseBounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPauseBounds returns the 1.5s..8s reading window.
func DefaultPauseBounds() PauseBounds {
	return PauseBounds{Min: DefaultMinPause, Max: DefaultMaxPause}
}

// ReadingPause is how long a bubble of wordCount words is held at the given
// reading speed, clamped to the default bounds. wpm <= 0 means DefaultWPM.
func ReadingPause(wordCount, wpm int) time.Duration {
	return DefaultPauseBounds().Pause(wordCount, wpm)
}

func (b PauseBounds) Pause(wordCount, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultWPM
	}
	wordCount = min(max(wordCount, 0), maxPauseWords)
	d := time.Duration(wordCount) * time.Minute / time.Duration(wpm)
	if d < b.Min {
		return b.Min
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
