package aggregator

// ValuesAndExtrapolations is a single entity's result: a descending-time
// window axis, one dense value array per metric (indexed the same way the
// window axis is), and a sparse map recording which positions were filled in
// by extrapolation rather than real data.
type ValuesAndExtrapolations struct {
	// Windows holds each selected window's start time in ms, most-recent
	// first: Windows[0] is the largest window start selected.
	Windows []int64
	// MetricValues[id][k] is metric id's value at Windows[k].
	MetricValues map[MetricId][]float64
	// Extrapolations maps a position in Windows to the kind of
	// extrapolation used there. Positions backed by real, sufficient raw
	// data have no entry.
	Extrapolations map[int]ExtrapolationKind
}

// AggregationResult is the outcome of Aggregator.Aggregate: a generation
// stamp, a correlation id for log tracing, the per-entity value vectors,
// and the set of entities that could not be resolved under the supplied
// options.
type AggregationResult struct {
	Generation                    uint64
	CorrelationID                 string
	EntityToValuesAndExtrapolations map[EntityId]*ValuesAndExtrapolations
	InvalidEntities                map[EntityId]struct{}
}
