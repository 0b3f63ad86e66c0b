// Package bubbles turns streamed character replies into a bounded queue of
// speech bubbles: it segments text to bubble capacity, walks each bubble
// through its slide/fade lifecycle and paces promotions by reading time.
//
// Every entity (character) has its own queue. Operations on one entity never
// touch another, and all mutations for an entity are serialized by the
// Engine. Animation completions arrive as inbound commands from whatever
// renders the bubbles; the engine never calls into the renderer.
package bubbles

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// MaxBubbles is the size of the on-screen window per entity.
const MaxBubbles = 2

// DefaultCapacity is used when no resolver is configured.
var DefaultCapacity = Capacity{MaxCharsPerLine: 40, MaxLinesPerBubble: 3}

var ErrUnknownCommand = errors.New("unknown bubble command")

// Bubble is a displayed bubble as the renderer sees it.
type Bubble struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Slot   Slot   `json:"slot"`
	Status Status `json:"status"`
}

// BubbleView is a Bubble together with its current animation.
type BubbleView struct {
	Bubble
	Animation Animation `json:"animation"`
	WordCount int       `json:"word_count"`
}

// Snapshot is a copy of one entity's queue. Version increases with every
// mutation so consumers can drop out-of-order snapshots.
type Snapshot struct {
	EntityID      string       `json:"entity_id"`
	Version       uint64       `json:"version"`
	Bubbles       []BubbleView `json:"bubbles"`
	Retiring      []BubbleView `json:"retiring,omitempty"`
	Pending       []Segment    `json:"pending,omitempty"`
	Transitioning bool         `json:"transitioning"`
	TimerArmed    bool         `json:"timer_armed"`
	Streaming     bool         `json:"streaming"`
}

// Change is reported to the observer after each mutation.
type Change struct {
	Snapshot
	Reason  string `json:"reason"`
	Cleared bool   `json:"cleared,omitempty"`
}

type Stats struct {
	Entities    int `json:"entities"`
	Bubbles     int `json:"bubbles"`
	Retiring    int `json:"retiring"`
	Pending     int `json:"pending"`
	ArmedTimers int `json:"armed_timers"`
}

// Recorder receives engine events for metrics.
type Recorder interface {
	ObserveBubbleEvent(event string)
	ObserveReadingPause(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBubbleEvent(string)         {}
func (nopRecorder) ObserveReadingPause(time.Duration) {}

type Config struct {
	Resolver DimensionResolver
	WPM      int
	Pause    PauseBounds
	Clock    Clock
	Logger   *zerolog.Logger
	Recorder Recorder
	// Observer is called outside the engine lock. Changes from timer
	// goroutines and callers may interleave; use Snapshot.Version to order.
	Observer func(Change)
}

// Engine is the entity registry. The zero value is not usable; use NewEngine.
type Engine struct {
	mu       sync.Mutex
	entities map[string]*entityQueue

	resolver DimensionResolver
	wpm      int
	pause    PauseBounds
	clock    Clock
	logger   zerolog.Logger
	recorder Recorder
	observer func(Change)
}

type bubble struct {
	Bubble
	anim      Animation
	wordCount int
}

func (b *bubble) view() BubbleView {
	return BubbleView{Bubble: b.Bubble, Animation: b.anim, WordCount: b.wordCount}
}

type entityQueue struct {
	id string
	// bubbles is the visible window, oldest first, never longer than MaxBubbles.
	bubbles []*bubble
	// retiring holds bubbles that left the window while their fade-out is
	// still playing.
	retiring      []*bubble
	lastProcessed string
	fullText      string
	// anchor is the byte offset in fullText where the newest bubble begins.
	anchor        int
	pending       []Segment
	transitioning bool
	streaming     bool
	timer         Timer
	timerSeq      uint64
	version       uint64
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		entities: make(map[string]*entityQueue),
		resolver: cfg.Resolver,
		wpm:      cfg.WPM,
		pause:    cfg.Pause,
		clock:    cfg.Clock,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   zerolog.Nop(),
	}
	if e.resolver == nil {
		e.resolver = StaticResolver(DefaultCapacity)
	}
	if e.wpm <= 0 {
		e.wpm = DefaultWPM
	}
	if e.pause.Min <= 0 && e.pause.Max <= 0 {
		e.pause = DefaultPauseBounds()
	}
	if e.clock == nil {
		e.clock = RealClock()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if cfg.Logger != nil {
		e.logger = cfg.Logger.With().Str("component", "bubbles").Logger()
	}
	return e
}

// UpdateText feeds the latest streamed text for an entity. fullText, when
// non-empty, is the authoritative reply and is segmented in preference to
// visibleText so wrap boundaries stay put while the reveal catches up.
func (e *Engine) UpdateText(entityID, visibleText string, isStreaming bool, fullText string) {
	if entityID == "" {
		return
	}
	e.mu.Lock()
	change, ok := e.updateTextLocked(entityID, visibleText, isStreaming, fullText)
	e.mu.Unlock()
	if ok {
		e.notify(change)
	}
}

// PromoteNext shows the next backlog segment, or starts the fade/slide
// transition when the window is full. The scheduler calls it when a reading
// pause elapses.
func (e *Engine) PromoteNext(entityID string) {
	e.mu.Lock()
	q := e.entities[entityID]
	if q == nil {
		e.mu.Unlock()
		return
	}
	change, ok := e.promoteLocked(q)
	e.mu.Unlock()
	if ok {
		e.notify(change)
	}
}

// OnAnimationComplete applies a renderer's report that bubbleID finished
// anim. Reports for animations the bubble is no longer in are ignored.
func (e *Engine) OnAnimationComplete(entityID, bubbleID string, anim Animation) {
	e.mu.Lock()
	q := e.entities[entityID]
	if q == nil {
		e.mu.Unlock()
		e.recorder.ObserveBubbleEvent("stale_completion")
		return
	}
	change, ok := e.completeLocked(q, bubbleID, anim)
	e.mu.Unlock()
	if ok {
		e.notify(change)
	}
}

// ClearEntity cancels the entity's timer and drops all of its state.
func (e *Engine) ClearEntity(entityID string) {
	e.mu.Lock()
	q := e.entities[entityID]
	if q == nil {
		e.mu.Unlock()
		return
	}
	change := e.clearLocked(q)
	e.mu.Unlock()
	e.notify(change)
}

// ClearAll tears down every entity, cancelling timers before state is released.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.entities))
	for id := range e.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, e.clearLocked(e.entities[id]))
	}
	e.mu.Unlock()
	e.notify(changes...)
}

// Bubbles returns the visible bubbles for an entity, oldest first.
func (e *Engine) Bubbles(entityID string) []Bubble {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.entities[entityID]
	if q == nil {
		return nil
	}
	out := make([]Bubble, 0, len(q.bubbles))
	for _, b := range q.bubbles {
		out = append(out, b.Bubble)
	}
	return out
}

// AnimationState reports the animation of a visible or retiring bubble.
func (e *Engine) AnimationState(entityID, bubbleID string) (Animation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.entities[entityID]
	if q == nil {
		return AnimationIdle, false
	}
	b, _ := q.find(bubbleID)
	if b == nil {
		return AnimationIdle, false
	}
	return b.anim, true
}

func (e *Engine) Snapshot(entityID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.entities[entityID]
	if q == nil {
		return Snapshot{}, false
	}
	return q.snapshot(), true
}

// Entities lists entity ids with live queues, sorted.
func (e *Engine) Entities() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.entities))
	for id := range e.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Stats
	s.Entities = len(e.entities)
	for _, q := range e.entities {
		s.Bubbles += len(q.bubbles)
		s.Retiring += len(q.retiring)
		s.Pending += len(q.pending)
		if q.timer != nil {
			s.ArmedTimers++
		}
	}
	return s
}

func (e *Engine) updateTextLocked(entityID, visibleText string, isStreaming bool, fullText string) (Change, bool) {
	q := e.entities[entityID]
	if q != nil && q.lastProcessed == visibleText {
		return Change{}, false
	}
	source := fullText
	if source == "" {
		source = visibleText
	}
	if q == nil {
		if strings.TrimSpace(source) == "" {
			return Change{}, false
		}
		q = &entityQueue{id: entityID}
		e.entities[entityID] = q
		e.logger.Debug().Str("entity_id", entityID).Msg("bubble queue created")
	}
	q.lastProcessed = visibleText
	q.streaming = isStreaming

	if len(q.bubbles) == 0 {
		return e.startLocked(q, source)
	}
	return e.reconcileLocked(q, source)
}

func (e *Engine) startLocked(q *entityQueue, source string) (Change, bool) {
	segs := e.segmentLocked(source, 0)
	if len(segs) == 0 {
		return Change{}, false
	}
	q.fullText = source
	q.pending = segs
	b := e.materializeLocked(q, SlotLeft)
	if len(q.pending) > 0 {
		e.arm(q, e.pauseFor(b.wordCount))
	}
	return e.changeLocked(q, "text_update"), true
}

// reconcileLocked re-segments the text from the newest bubble onward. Bubbles
// before the anchor are frozen; the newest one takes the first segment and
// the rest become the backlog.
func (e *Engine) reconcileLocked(q *entityQueue, source string) (Change, bool) {
	if q.anchor > len(source) || (q.anchor < len(source) && !utf8.RuneStart(source[q.anchor])) {
		e.logger.Debug().
			Str("entity_id", q.id).
			Int("anchor", q.anchor).
			Int("text_len", len(source)).
			Msg("text no longer reaches the newest bubble; update ignored")
		return Change{}, false
	}
	if q.anchor > 0 && !strings.HasPrefix(source, q.fullText[:q.anchor]) {
		e.logger.Debug().Str("entity_id", q.id).Msg("text before the newest bubble changed")
	}

	segs := e.segmentLocked(source[q.anchor:], len(q.bubbles))
	if len(segs) == 0 {
		return Change{}, false
	}
	for i := range segs {
		segs[i].Offset += q.anchor
	}
	q.fullText = source
	q.anchor = segs[0].Offset

	newest := q.bubbles[len(q.bubbles)-1]
	if newest.Text != segs[0].Text {
		newest.Text = segs[0].Text
		newest.wordCount = segs[0].WordCount
	}
	q.pending = segs[1:]
	if len(q.pending) > 0 && !q.transitioning {
		if newest.Status == StatusActive {
			newest.Status = StatusReading
		}
		// A running pause keeps its deadline; streaming tokens must not
		// postpone the next promotion indefinitely.
		if q.timer == nil {
			e.arm(q, e.pauseFor(newest.wordCount))
		}
	}
	return e.changeLocked(q, "text_update"), true
}

func (e *Engine) promoteLocked(q *entityQueue) (Change, bool) {
	if q.transitioning || len(q.pending) == 0 {
		return Change{}, false
	}
	switch len(q.bubbles) {
	case 0, 1:
		slot := SlotLeft
		if len(q.bubbles) == 1 {
			q.bubbles[0].Status = StatusActive
			slot = SlotRight
		}
		b := e.materializeLocked(q, slot)
		if b == nil {
			return Change{}, false
		}
		e.recorder.ObserveBubbleEvent("promoted")
		if len(q.pending) > 0 {
			e.arm(q, e.pauseFor(b.wordCount))
		}
	default:
		left, right := q.bubbles[0], q.bubbles[1]
		left.anim = AnimationFadingOut
		left.Status = StatusFading
		right.anim = AnimationSlidingLeft
		right.Status = StatusTransitioning
		q.transitioning = true
		e.recorder.ObserveBubbleEvent("transition_started")
		e.logger.Debug().
			Str("entity_id", q.id).
			Str("fading", left.ID).
			Str("sliding", right.ID).
			Msg("bubble transition started")
	}
	return e.changeLocked(q, "promote"), true
}

func (e *Engine) completeLocked(q *entityQueue, bubbleID string, anim Animation) (Change, bool) {
	b, retiring := q.find(bubbleID)
	if b == nil || b.anim != anim {
		e.recorder.ObserveBubbleEvent("stale_completion")
		e.logger.Debug().
			Str("entity_id", q.id).
			Str("bubble_id", bubbleID).
			Stringer("animation", anim).
			Msg("stale animation completion ignored")
		return Change{}, false
	}

	switch outcomeOf(anim) {
	case outcomeSettle:
		b.anim = AnimationIdle
	case outcomeRemove:
		if retiring {
			q.retiring = removeBubble(q.retiring, b)
		} else {
			q.bubbles = removeBubble(q.bubbles, b)
		}
		e.recorder.ObserveBubbleEvent("faded")
	case outcomeAdvance:
		b.anim = AnimationIdle
		b.Slot = SlotLeft
		b.Status = StatusActive
		q.transitioning = false
		window := []*bubble{b}
		for _, o := range q.bubbles {
			switch {
			case o == b:
			case o.anim == AnimationFadingOut:
				q.retiring = append(q.retiring, o)
			default:
				window = append(window, o)
			}
		}
		q.bubbles = window
		e.recorder.ObserveBubbleEvent("transition_completed")
		if len(q.pending) > 0 {
			if nb := e.materializeLocked(q, SlotRight); nb != nil && len(q.pending) > 0 {
				e.arm(q, e.pauseFor(nb.wordCount))
			}
		}
	default:
		e.recorder.ObserveBubbleEvent("stale_completion")
		return Change{}, false
	}
	return e.changeLocked(q, "animation_complete"), true
}

// materializeLocked turns the head of the backlog into a sliding-in bubble.
// It refuses rather than exceed MaxBubbles.
func (e *Engine) materializeLocked(q *entityQueue, slot Slot) *bubble {
	if len(q.pending) == 0 || len(q.bubbles) >= MaxBubbles {
		return nil
	}
	seg := q.pending[0]
	q.pending = q.pending[1:]
	b := &bubble{
		Bubble: Bubble{
			ID:     seg.ID,
			Text:   seg.Text,
			Slot:   slot,
			Status: StatusActive,
		},
		anim:      AnimationSlidingIn,
		wordCount: seg.WordCount,
	}
	q.bubbles = append(q.bubbles, b)
	q.anchor = seg.Offset
	e.recorder.ObserveBubbleEvent("created")
	return b
}

func (e *Engine) clearLocked(q *entityQueue) Change {
	e.disarm(q)
	delete(e.entities, q.id)
	e.recorder.ObserveBubbleEvent("cleared")
	e.logger.Debug().Str("entity_id", q.id).Msg("bubble queue cleared")
	return Change{
		Snapshot: Snapshot{EntityID: q.id, Version: q.version + 1, Bubbles: []BubbleView{}},
		Reason:   "cleared",
		Cleared:  true,
	}
}

// segmentLocked asks the resolver for the capacity of the window the text
// will be shown in. Text that needs more than one bubble is cut for the full
// two-bubble window so the first bubble does not reflow when the second lands.
func (e *Engine) segmentLocked(text string, shown int) []Segment {
	count := max(shown, 1)
	segs := e.segmentAt(text, count)
	if len(segs) > 1 && count < MaxBubbles {
		segs = e.segmentAt(text, MaxBubbles)
	}
	return segs
}

func (e *Engine) segmentAt(text string, bubbleCount int) []Segment {
	c := e.resolver.Resolve(Layout{EntityCount: len(e.entities), BubbleCount: bubbleCount})
	return SegmentText(text, c.MaxCharsPerLine, c.MaxLinesPerBubble)
}

func (e *Engine) pauseFor(wordCount int) time.Duration {
	return e.pause.Pause(wordCount, e.wpm)
}

func (e *Engine) changeLocked(q *entityQueue, reason string) Change {
	q.version++
	return Change{Snapshot: q.snapshot(), Reason: reason}
}

func (e *Engine) notify(changes ...Change) {
	if e.observer == nil {
		return
	}
	for _, c := range changes {
		e.observer(c)
	}
}

func (q *entityQueue) find(bubbleID string) (b *bubble, retiring bool) {
	for _, cur := range q.bubbles {
		if cur.ID == bubbleID {
			return cur, false
		}
	}
	for _, cur := range q.retiring {
		if cur.ID == bubbleID {
			return cur, true
		}
	}
	return nil, false
}

func (q *entityQueue) snapshot() Snapshot {
	s := Snapshot{
		EntityID:      q.id,
		Version:       q.version,
		Bubbles:       make([]BubbleView, 0, len(q.bubbles)),
		Transitioning: q.transitioning,
		TimerArmed:    q.timer != nil,
		Streaming:     q.streaming,
	}
	for _, b := range q.bubbles {
		s.Bubbles = append(s.Bubbles, b.view())
	}
	for _, b := range q.retiring {
		s.Retiring = append(s.Retiring, b.view())
	}
	if len(q.pending) > 0 {
		s.Pending = append([]Segment(nil), q.pending...)
	}
	return s
}

func removeBubble(list []*bubble, b *bubble) []*bubble {
	for i, cur := range list {
		if cur == b {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
