package aggregator

import "sync"

// WindowValues is a sealed, per-metric value vector for a single (entity,
// window) cell, produced by AggregatedMetrics.Freeze.
type WindowValues struct {
	WindowId    WindowId
	SampleCount int
	Values      map[MetricId]float64
}

// AggregatedMetrics is the per-(entity, window) accumulator: running counts
// and reductions, one per catalogued metric. It is created lazily on first
// sample and mutated only by AddSample; updates are serialized internally so
// RawStore callers never need their own per-cell lock.
type AggregatedMetrics struct {
	mu           sync.Mutex
	registry     *MetricRegistry
	sampleCount  int
	reductions   map[MetricId]float64
	metricCounts map[MetricId]int // samples contributing a value per metric, for AVG
	latestTs     map[MetricId]int64
}

// NewAggregatedMetrics creates an empty accumulator bound to registry.
func NewAggregatedMetrics(registry *MetricRegistry) *AggregatedMetrics {
	return &AggregatedMetrics{
		registry:     registry,
		reductions:   make(map[MetricId]float64, registry.Len()),
		metricCounts: make(map[MetricId]int, registry.Len()),
		latestTs:     make(map[MetricId]int64, registry.Len()),
	}
}

// AddSample folds one sample's values into the running reductions according
// to each metric's configured strategy.
func (a *AggregatedMetrics) AddSample(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, info := range a.registry.all() {
		v, ok := s.Values[info.Id]
		if !ok {
			continue
		}
		switch info.Strategy {
		case LATEST:
			if ts, seen := a.latestTs[info.Id]; !seen || s.TimestampMs >= ts {
				a.reductions[info.Id] = v
				a.latestTs[info.Id] = s.TimestampMs
			}
		case MAX:
			if cur, seen := a.reductions[info.Id]; !seen || v > cur {
				a.reductions[info.Id] = v
			}
		case SUM:
			a.reductions[info.Id] += v
		case AVG:
			n := a.metricCounts[info.Id]
			cur := a.reductions[info.Id]
			a.reductions[info.Id] = cur + (v-cur)/float64(n+1)
		}
		a.metricCounts[info.Id]++
	}
	a.sampleCount++
}

// SampleCount returns the number of samples absorbed so far.
func (a *AggregatedMetrics) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleCount
}

// Enough reports whether this cell has at least minSamples samples.
func (a *AggregatedMetrics) Enough(minSamples int) bool {
	return a.SampleCount() >= minSamples
}

// Freeze materializes the current reductions into a plain WindowValues
// snapshot keyed by metric id.
func (a *AggregatedMetrics) Freeze(windowId WindowId) WindowValues {
	a.mu.Lock()
	defer a.mu.Unlock()

	values := make(map[MetricId]float64, len(a.reductions))
	for id, v := range a.reductions {
		values[id] = v
	}
	return WindowValues{
		WindowId:    windowId,
		SampleCount: a.sampleCount,
		Values:      values,
	}
}
