package aggregator

// Strategy names the per-metric aggregation/reduction rule applied as
// samples accumulate within a window.
type Strategy int

const (
	// LATEST keeps the value with the newest sample timestamp.
	LATEST Strategy = iota
	// MAX keeps the largest observed value.
	MAX
	// AVG maintains a running arithmetic mean.
	AVG
	// SUM accumulates a running total.
	SUM
)

func (s Strategy) String() string {
	switch s {
	case LATEST:
		return "LATEST"
	case MAX:
		return "MAX"
	case AVG:
		return "AVG"
	case SUM:
		return "SUM"
	default:
		return "UNKNOWN"
	}
}

// MetricId is the dense, zero-based small-int identifier assigned to a
// metric by a MetricRegistry.
type MetricId int

// MetricInfo describes a single catalogued metric.
type MetricInfo struct {
	Id       MetricId
	Name     string
	Strategy Strategy
}

// MetricRegistry is the catalog of metric identifiers, human names, and
// per-metric aggregation strategy. Ids are dense starting at 0 so callers can
// index a per-metric value array directly instead of hashing into a map.
//
// The registry itself is immutable after construction: definitions of
// metrics (names, strategies) are supplied wholesale by the caller, not
// mutated piecemeal by this package.
type MetricRegistry struct {
	infos []MetricInfo
}

// NewMetricRegistry builds a registry from a caller-supplied list of
// (name, strategy) pairs, assigning dense ids in the order given.
func NewMetricRegistry(defs ...MetricDef) *MetricRegistry {
	infos := make([]MetricInfo, len(defs))
	for i, d := range defs {
		infos[i] = MetricInfo{Id: MetricId(i), Name: d.Name, Strategy: d.Strategy}
	}
	return &MetricRegistry{infos: infos}
}

// MetricDef is the caller-facing description of a metric, before dense ids
// are assigned.
type MetricDef struct {
	Name     string
	Strategy Strategy
}

// All returns every catalogued metric, ordered by id. The returned slice is
// a copy: external callers must not be able to mutate a registry shared
// across every Aggregator/AggregatedMetrics instance built on it by writing
// through it. Package-internal hot paths (sample ingestion, extrapolation)
// use all(), which skips the copy since this package never mutates it.
func (r *MetricRegistry) All() []MetricInfo {
	out := make([]MetricInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

// all is the zero-allocation internal counterpart to All, for per-sample hot
// paths within this package.
func (r *MetricRegistry) all() []MetricInfo {
	return r.infos
}

// Lookup returns the MetricInfo for id, or false if id is out of range.
func (r *MetricRegistry) Lookup(id MetricId) (MetricInfo, bool) {
	if id < 0 || int(id) >= len(r.infos) {
		return MetricInfo{}, false
	}
	return r.infos[id], true
}

// Len returns the number of catalogued metrics.
func (r *MetricRegistry) Len() int { return len(r.infos) }
