package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type HoldStats struct {
	Kind    string  `json:"kind"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

type EventCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type HoldSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Holds       []HoldStats  `json:"holds"`
	Events      []EventCount `json:"events,omitempty"`
}

// holdWindow keeps the last maxSamples values per kind in a ring.
type holdWindow struct {
	mu         sync.RWMutex
	maxSamples int
	kinds      map[string]*holdRing
	events     map[string]int
}

type holdRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newHoldWindow(maxSamples int) *holdWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &holdWindow{
		maxSamples: maxSamples,
		kinds:      make(map[string]*holdRing),
		events:     make(map[string]int),
	}
}

func (w *holdWindow) Observe(kind string, ms float64) {
	if kind == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.kinds[kind]
	if !ok {
		ring = &holdRing{values: make([]float64, w.maxSamples)}
		w.kinds[kind] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *holdWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[name]++
}

func (w *holdWindow) Snapshot() HoldSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	holds := make([]HoldStats, 0, len(w.kinds))
	for _, kind := range sortedKeys(w.kinds) {
		ring := w.kinds[kind]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n == 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, ring.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		holds = append(holds, HoldStats{
			Kind:    kind,
			Samples: n,
			LastMS:  round2(ring.last),
			AvgMS:   round2(sum / float64(n)),
			MinMS:   round2(samples[0]),
			MaxMS:   round2(samples[n-1]),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
			P99MS:   round2(quantile(samples, 0.99)),
		})
	}

	events := make([]EventCount, 0, len(w.events))
	for _, name := range sortedKeys(w.events) {
		if count := w.events[name]; count > 0 {
			events = append(events, EventCount{Name: name, Count: count})
		}
	}

	return HoldSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Holds:       holds,
		Events:      events,
	}
}

func (w *holdWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.kinds = make(map[string]*holdRing)
	w.events = make(map[string]int)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
