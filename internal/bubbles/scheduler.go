package bubbles

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The engine only needs AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock runs callbacks on time.AfterFunc goroutines.
func RealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// arm replaces any timer already held by q with one that promotes the next
// segment after d. Callers hold e.mu.
func (e *Engine) arm(q *entityQueue, d time.Duration) {
	e.disarm(q)
	q.timerSeq++
	seq := q.timerSeq
	q.timer = e.clock.AfterFunc(d, func() { e.fire(q, seq) })
	e.recorder.ObserveReadingPause(d)
	e.logger.Debug().
		Str("entity_id", q.id).
		Dur("pause", d).
		Uint64("seq", seq).
		Msg("reading pause armed")
}

func (e *Engine) disarm(q *entityQueue) {
	if q.timer == nil {
		return
	}
	q.timer.Stop()
	q.timer = nil
}

// fire runs on the clock's goroutine. A timer that lost a race with Stop, or
// whose entity was cleared or re-armed meanwhile, finds a stale seq and exits.
func (e *Engine) fire(q *entityQueue, seq uint64) {
	e.mu.Lock()
	if e.entities[q.id] != q || q.timer == nil || q.timerSeq != seq {
		e.mu.Unlock()
		return
	}
	q.timer = nil
	change, ok := e.promoteLocked(q)
	e.mu.Unlock()
	if ok {
		e.notify(change)
	}
}

// ManualClock is a Clock driven by Advance. Callbacks run on the caller's
// goroutine in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	seq   uint64
	fn    func()
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Unix(0, 0).UTC()}
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(t)
}

func (c *ManualClock) removeLocked(t *manualTimer) bool {
	for i, cur := range c.timers {
		if cur == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward by d, firing every timer that comes due.
// Timers armed by callbacks fire too if their deadline falls within d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	until := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.at.After(until) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = until
			c.mu.Unlock()
			return
		}
		c.removeLocked(next)
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

// Now is the clock's current virtual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending counts timers that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextDeadline reports how far away the earliest pending timer is.
func (c *ManualClock) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return 0, false
	}
	next := c.timers[0]
	for _, t := range c.timers[1:] {
		if t.at.Before(next.at) {
			next = t
		}
	}
	return next.at.Sub(c.now), true
}
