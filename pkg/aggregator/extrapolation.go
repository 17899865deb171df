package aggregator

// ExtrapolationKind tags which state of the ExtrapolationEngine produced a
// value vector, when raw data for an (entity, window) cell was insufficient
// on its own.
type ExtrapolationKind int

const (
	// AvgAvailable: the cell itself had at least K/2 samples.
	AvgAvailable ExtrapolationKind = iota
	// AvgAdjacent: averaged from the two neighboring windows.
	AvgAdjacent
	// PrevPeriod: copied from window w-N, N windows back.
	PrevPeriod
	// ForcedInsufficient: frozen regardless of count, includeInvalidEntities only.
	ForcedInsufficient
	// ForcedUnknown: synthesized zeros, includeInvalidEntities only.
	ForcedUnknown
)

func (k ExtrapolationKind) String() string {
	switch k {
	case AvgAvailable:
		return "AVG_AVAILABLE"
	case AvgAdjacent:
		return "AVG_ADJACENT"
	case PrevPeriod:
		return "PREV_PERIOD"
	case ForcedInsufficient:
		return "FORCED_INSUFFICIENT"
	case ForcedUnknown:
		return "FORCED_UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// ExtrapolationEngine fills in a value vector for an (entity, window) pair
// when RawStore doesn't have enough raw samples there. States are tried in a
// fixed order; the first one that applies wins (spec.md §4.6).
type ExtrapolationEngine struct {
	store              *RawStore
	registry           *MetricRegistry
	numWindows         WindowId // N: period length used by PreviousPeriod
	minSamples         int      // K
	minSamplesPartial  int      // K/2, integer division
}

// NewExtrapolationEngine builds an engine bound to store, using minSamples
// (K) and numWindows (N, the period PreviousPeriod steps back by).
func NewExtrapolationEngine(store *RawStore, registry *MetricRegistry, numWindows WindowId, minSamples int) *ExtrapolationEngine {
	return &ExtrapolationEngine{
		store:             store,
		registry:          registry,
		numWindows:        numWindows,
		minSamples:        minSamples,
		minSamplesPartial: minSamples / 2,
	}
}

// Resolve produces a value vector and extrapolation kind for (entity, w),
// or (zero, false) if no state applies and the entity is invalid for w.
// allowRecurse gates AdjacentAverage/PreviousPeriod's one-level lookups into
// neighbor/previous-period cells; it is always false on recursive calls, per
// spec.md §9's "strict one-level descent" rule, so this never recurses past
// depth one.
func (e *ExtrapolationEngine) Resolve(entity EntityId, w WindowId, includeInvalidEntities bool, allowRecurse bool) (WindowValues, ExtrapolationKind, bool, error) {
	if am, ok := e.store.Get(w, entity); ok && am.Enough(e.minSamplesPartial) {
		return am.Freeze(w), AvgAvailable, true, nil
	}

	if allowRecurse {
		wv, ok, err := e.adjacentAverage(entity, w)
		if err != nil {
			return WindowValues{}, 0, false, err
		}
		if ok {
			return wv, AvgAdjacent, true, nil
		}
		wv, ok, err = e.previousPeriod(entity, w)
		if err != nil {
			return WindowValues{}, 0, false, err
		}
		if ok {
			return wv, PrevPeriod, true, nil
		}
	}

	if includeInvalidEntities {
		if am, ok := e.store.Get(w, entity); ok {
			return am.Freeze(w), ForcedInsufficient, true, nil
		}
		return e.forcedUnknown(w), ForcedUnknown, true, nil
	}

	return WindowValues{}, 0, false, nil
}

// IsPresent reports whether entity would resolve to a real (non-forced)
// value in window w — used by CompletenessAnalyzer, which must never count
// ForcedInsufficient/ForcedUnknown cells as "present".
func (e *ExtrapolationEngine) IsPresent(entity EntityId, w WindowId) bool {
	if am, ok := e.store.Get(w, entity); ok && am.Enough(e.minSamplesPartial) {
		return true
	}
	// Errors here mean the cell is internally inconsistent, not present;
	// Aggregate (via Resolve) is the path that surfaces InternalInconsistencyError.
	if _, ok, err := e.adjacentAverage(entity, w); ok && err == nil {
		return true
	}
	if _, ok, err := e.previousPeriod(entity, w); ok && err == nil {
		return true
	}
	return false
}

// adjacentAverage implements AvgAdjacent. If both neighbor cells report
// enough samples but not a single metric survives the per-metric value
// lookup, that contradicts Enough's own predicate — surface it as an
// InternalInconsistencyError rather than silently returning an empty vector
// (spec.md §7).
func (e *ExtrapolationEngine) adjacentAverage(entity EntityId, w WindowId) (WindowValues, bool, error) {
	prev, okPrev := e.store.Get(w-1, entity)
	next, okNext := e.store.Get(w+1, entity)
	if !okPrev || !okNext || !prev.Enough(e.minSamples) || !next.Enough(e.minSamples) {
		return WindowValues{}, false, nil
	}

	pf := prev.Freeze(w - 1)
	nf := next.Freeze(w + 1)

	values := make(map[MetricId]float64, len(e.registry.all()))
	for _, info := range e.registry.all() {
		pv, okP := pf.Values[info.Id]
		nv, okN := nf.Values[info.Id]
		if !okP || !okN {
			continue
		}
		// Arithmetic mean of the two neighbor reductions for every
		// strategy, LATEST/MAX included — spec.md §4.6/§9(c).
		values[info.Id] = (pv + nv) / 2
	}
	if len(values) == 0 && len(e.registry.all()) > 0 {
		return WindowValues{}, false, &InternalInconsistencyError{
			Op:     "adjacentAverage",
			Detail: "both neighbor windows reported enough samples but shared no metric value",
		}
	}
	count := pf.SampleCount
	if nf.SampleCount < count {
		count = nf.SampleCount
	}
	return WindowValues{WindowId: w, SampleCount: count, Values: values}, true, nil
}

// previousPeriod implements PrevPeriod. If the borrowed cell reported enough
// samples but froze to no metric values, that is the same kind of
// inconsistency adjacentAverage guards against.
func (e *ExtrapolationEngine) previousPeriod(entity EntityId, w WindowId) (WindowValues, bool, error) {
	am, ok := e.store.Get(w-e.numWindows, entity)
	if !ok || !am.Enough(e.minSamples) {
		return WindowValues{}, false, nil
	}
	frozen := am.Freeze(w - e.numWindows)
	if len(frozen.Values) == 0 && len(e.registry.all()) > 0 {
		return WindowValues{}, false, &InternalInconsistencyError{
			Op:     "previousPeriod",
			Detail: "borrowed window reported enough samples but froze to no metric values",
		}
	}
	// The result's window id is w's — the value is borrowed, the timestamp
	// is not (spec.md §4.6: "the window timestamp in the result is still
	// w's start").
	frozen.WindowId = w
	return frozen, true, nil
}

func (e *ExtrapolationEngine) forcedUnknown(w WindowId) WindowValues {
	values := make(map[MetricId]float64, len(e.registry.all()))
	for _, info := range e.registry.all() {
		values[info.Id] = 0
	}
	return WindowValues{WindowId: w, SampleCount: 0, Values: values}
}
