package aggregator

import (
	"sync"
	"sync/atomic"
)

// GenerationClock is a monotonic counter bumped on every mutation that could
// invalidate a cached aggregation or completeness result: rollover,
// back-insertion, and clear.
type GenerationClock struct {
	gen atomic.Uint64
}

// Bump increments the generation and returns the new value. It is safe for
// concurrent use; the returned value is linearizable with respect to the
// happens-before order of calls (spec.md §5 ordering guarantees).
func (g *GenerationClock) Bump() uint64 {
	return g.gen.Add(1)
}

// Current returns the current generation without mutating it.
func (g *GenerationClock) Current() uint64 {
	return g.gen.Load()
}

// windowState is per-window bookkeeping: the generation at which the window
// last changed, and which entities have contributed data to it.
type windowState struct {
	mu         sync.RWMutex
	generation uint64
	entitySeen map[EntityId]struct{}
}

// AggregatorState tracks, per window, the generation at which it last
// changed and the set of entities with data in it. Entries are owned 1:1
// with their RawStore window entry: removing a window from RawStore must
// also remove its AggregatorState entry.
type AggregatorState struct {
	mu      sync.RWMutex
	windows map[WindowId]*windowState
}

// NewAggregatorState creates an empty state tracker.
func NewAggregatorState() *AggregatorState {
	return &AggregatorState{windows: make(map[WindowId]*windowState)}
}

// RecordSample marks that entity contributed data to window at the given
// generation.
func (s *AggregatorState) RecordSample(window WindowId, entity EntityId, generation uint64) {
	ws := s.ensure(window)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.generation = generation
	if ws.entitySeen == nil {
		ws.entitySeen = make(map[EntityId]struct{})
	}
	ws.entitySeen[entity] = struct{}{}
}

func (s *AggregatorState) ensure(window WindowId) *windowState {
	s.mu.RLock()
	ws, ok := s.windows[window]
	s.mu.RUnlock()
	if ok {
		return ws
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.windows[window]; ok {
		return ws
	}
	ws = &windowState{entitySeen: make(map[EntityId]struct{})}
	s.windows[window] = ws
	return ws
}

// GenerationOf returns the generation at which window last changed, and
// false if the window has no recorded state.
func (s *AggregatorState) GenerationOf(window WindowId) (uint64, bool) {
	s.mu.RLock()
	ws, ok := s.windows[window]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.generation, true
}

// EntitiesWithData returns the entities recorded as having contributed to
// window.
func (s *AggregatorState) EntitiesWithData(window WindowId) []EntityId {
	s.mu.RLock()
	ws, ok := s.windows[window]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	out := make([]EntityId, 0, len(ws.entitySeen))
	for e := range ws.entitySeen {
		out = append(out, e)
	}
	return out
}

// Forget removes a window's state entry. Must be called whenever the
// matching RawStore window entry is evicted.
func (s *AggregatorState) Forget(window WindowId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, window)
}

// Clear removes every window's state.
func (s *AggregatorState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[WindowId]*windowState)
}
