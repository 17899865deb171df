package aggregator

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// cacheSnapshot is the single-slot aggregation cache (spec.md §4.5 "Cache
// rules", §9). It is read and swapped via an atomic pointer; writes happen
// under the structural lock so a reader never observes a half-written
// struct.
type cacheSnapshot struct {
	key          string
	generation   uint64
	activeWindow WindowId
	result       AggregationResult
}

// Aggregator orchestrates ingestion, window rollover, eviction gating,
// cache management, and the produce-result path described in spec.md §4.5.
type Aggregator struct {
	cfg         Config
	registry    *MetricRegistry
	validator   SampleValidator
	windowIndex WindowIndex

	store    *RawStore
	state    *AggregatorState
	clock    GenerationClock
	extrap   *ExtrapolationEngine
	analyzer *CompletenessAnalyzer

	// structural lock: serializes rollover/eviction decisions so they
	// observe a consistent "active window" and generation (spec.md §5).
	// hasActiveWindow is tracked separately from activeWindow rather than
	// using a WindowId(0) sentinel, since 0 is itself a valid WindowOf
	// result for any tMs < WindowMs.
	mu              sync.Mutex
	activeWindow    WindowId
	hasActiveWindow bool

	collectionsInProgress atomic.Int64

	cache atomic.Pointer[cacheSnapshot]
	sf    singleflight.Group

	ins    *instrumentation
	logger zerolog.Logger

	entropy *ulid.MonotonicEntropy
	entMu   sync.Mutex
}

// NewAggregator constructs an Aggregator. registry must not be nil.
// validator defaults to DefaultSampleValidator when nil. reg may be nil to
// skip prometheus registration (tests commonly do this). logger defaults to
// the zerolog global logger, matching the teacher's packages.
func NewAggregator(cfg Config, registry *MetricRegistry, validator SampleValidator, reg prometheus.Registerer, logger *zerolog.Logger) (*Aggregator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, &InvalidArgumentError{Op: "NewAggregator", Field: "registry", Problem: "must not be nil"}
	}
	if validator == nil {
		validator = DefaultSampleValidator{}
	}

	store := NewRawStore(registry)
	extrap := NewExtrapolationEngine(store, registry, WindowId(cfg.NumWindows), cfg.MinSamplesPerWindow)

	a := &Aggregator{
		cfg:         cfg,
		registry:    registry,
		validator:   validator,
		windowIndex: NewWindowIndex(cfg.WindowMs),
		store:       store,
		state:       NewAggregatorState(),
		extrap:      extrap,
		analyzer:    NewCompletenessAnalyzer(store, extrap),
		ins:         newInstrumentation(reg),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	if logger != nil {
		a.logger = *logger
	} else {
		a.logger = log.Logger
	}
	return a, nil
}

func (a *Aggregator) newCorrelationID() string {
	a.entMu.Lock()
	defer a.entMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), a.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// Add ingests one sample. It returns true iff the sample was accepted: it
// passed validation, and its window was not already evicted.
func (a *Aggregator) Add(entity EntityId, tMs int64, values map[MetricId]float64) bool {
	sample := Sample{Entity: entity, TimestampMs: tMs, Values: values}
	if !a.validator.Validate(sample, a.registry) {
		a.ins.samplesRejected.Inc()
		return false
	}

	w := a.windowIndex.WindowOf(tMs)

	a.mu.Lock()
	if earliest, ok := a.store.Earliest(); ok && w < earliest {
		a.mu.Unlock()
		a.ins.samplesRejected.Inc()
		a.logger.Debug().
			Str("component", "aggregator").
			Str("action", "reject_evicted_window").
			Int64("window", int64(w)).
			Int64("earliest", int64(earliest)).
			Msg("dropped sample for already-evicted window")
		return false
	}

	// Insert before deciding rollover/eviction: eviction's size check must
	// see the window this sample belongs to, or a same-size rollover run
	// (e.g. N=1) would never trim the store (spec.md §4.5/§9).
	am := a.store.Put(w, entity)

	rolled := false
	if !a.hasActiveWindow || w > a.activeWindow {
		a.activeWindow = w
		a.hasActiveWindow = true
		rolled = true
	}
	backInsertion := !rolled && w < a.activeWindow

	var gen uint64
	switch {
	case rolled:
		gen = a.clock.Bump()
		a.evictLocked()
	case backInsertion:
		gen = a.clock.Bump()
	default:
		gen = a.clock.Current()
	}

	// AddSample/RecordSample run while still holding a.mu so a concurrent
	// rollover can't evict window w (and its AggregatorState entry) between
	// this sample's insertion and its bookkeeping being recorded.
	am.AddSample(sample)
	a.state.RecordSample(w, entity, gen)
	a.mu.Unlock()

	a.ins.generation.Set(float64(gen))
	a.ins.samplesAccepted.Inc()
	return true
}

// evictLocked evicts windows down to cfg.maxWindowsToKeep()+1 while no
// collection is in progress. Caller must hold a.mu.
func (a *Aggregator) evictLocked() {
	if a.collectionsInProgress.Load() > 0 {
		return
	}
	limit := a.cfg.maxWindowsToKeep() + 1
	for a.store.Size() > limit {
		id, ok := a.store.EvictOldest()
		if !ok {
			return
		}
		a.state.Forget(id)
		a.ins.windowsEvicted.Inc()
	}
}

// Generation returns the current monotonic generation counter.
func (a *Aggregator) Generation() uint64 {
	return a.clock.Current()
}

// EarliestWindow returns the oldest retained window, or false if empty.
func (a *Aggregator) EarliestWindow() (WindowId, bool) {
	return a.store.Earliest()
}

// AllWindows returns every retained window id, ascending, including the
// active window.
func (a *Aggregator) AllWindows() []WindowId {
	a.mu.Lock()
	active := a.activeWindow
	has := a.hasActiveWindow
	a.mu.Unlock()
	if !has {
		return nil
	}
	earliest, ok := a.store.Earliest()
	if !ok {
		return nil
	}
	return a.store.RangeView(earliest, active)
}

// AvailableWindows returns AllWindows() minus the active window, preserving
// order (spec.md §8 invariant).
func (a *Aggregator) AvailableWindows() []WindowId {
	all := a.AllWindows()
	a.mu.Lock()
	active := a.activeWindow
	a.mu.Unlock()
	out := make([]WindowId, 0, len(all))
	for _, w := range all {
		if w != active {
			out = append(out, w)
		}
	}
	return out
}

// AggregatorStateView returns the Aggregator's per-window bookkeeping. The
// returned tracker is the live instance, not a copy: its mutating methods
// (RecordSample, Forget, Clear) act on the Aggregator's own state.
func (a *Aggregator) AggregatorStateView() *AggregatorState {
	return a.state
}

// Clear discards all windows, state, and cache, and bumps the generation.
// It blocks until no collection (Aggregate/Completeness call) is in
// progress.
func (a *Aggregator) Clear() {
	for a.collectionsInProgress.Load() > 0 {
		// Busy-wait briefly; Aggregate/Completeness hold this counter only
		// for the duration of one call, never indefinitely.
		time.Sleep(time.Microsecond)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store.Clear()
	a.state.Clear()
	a.activeWindow = 0
	a.hasActiveWindow = false
	a.clock.Bump()
	a.cache.Store(nil)
}

func fingerprint(opts CompletenessOptions, wFrom, wTo WindowId) string {
	var b strings.Builder
	fmt.Fprintf(&b, "r=%g|g=%g|n=%d|gr=%d|inv=%t|from=%d|to=%d|e=",
		opts.MinValidEntityRatio, opts.MinValidEntityGroupRatio, opts.NumWindows,
		opts.Granularity, opts.IncludeInvalidEntities, wFrom, wTo)
	entities := make([]string, len(opts.InterestedEntities))
	for i, e := range opts.InterestedEntities {
		entities[i] = e.String()
	}
	sort.Strings(entities)
	b.WriteString(strings.Join(entities, ","))
	return b.String()
}

// resolveRange implements spec.md §4.5 step 1: [wFrom, wTo] with the active
// window always excluded.
func (a *Aggregator) resolveRange(fromMs, toMs int64) (wFrom, wTo WindowId, active WindowId, gen uint64, ok bool) {
	a.mu.Lock()
	active = a.activeWindow
	has := a.hasActiveWindow
	gen = a.clock.Current()
	a.mu.Unlock()

	if !has {
		return 0, 0, active, gen, false
	}
	earliest, hasEarliest := a.store.Earliest()
	if !hasEarliest {
		return 0, 0, active, gen, false
	}

	wFrom = a.windowIndex.WindowOf(fromMs)
	if wFrom < earliest {
		wFrom = earliest
	}
	wTo = a.windowIndex.WindowOf(toMs)
	if wTo > active-1 {
		wTo = active - 1
	}
	if wFrom > wTo {
		return 0, 0, active, gen, false
	}
	return wFrom, wTo, active, gen, true
}

func contiguousRange(from, to WindowId) []WindowId {
	if from > to {
		return nil
	}
	out := make([]WindowId, 0, int(to-from)+1)
	for w := from; w <= to; w++ {
		out = append(out, w)
	}
	return out
}

func validateAggregateArgs(fromMs, toMs int64, opts CompletenessOptions) error {
	if fromMs > toMs {
		return &InvalidArgumentError{Op: "Aggregate", Field: "fromMs/toMs", Problem: "from must not be after to"}
	}
	if opts.NumWindows <= 0 {
		return &InvalidArgumentError{Op: "Aggregate", Field: "NumWindows", Problem: "must be positive"}
	}
	return nil
}

// Aggregate produces, for every entity in scope, a per-metric value vector
// across a contiguous window range (spec.md §4.5).
func (a *Aggregator) Aggregate(fromMs, toMs int64, opts CompletenessOptions) (AggregationResult, error) {
	if err := validateAggregateArgs(fromMs, toMs, opts); err != nil {
		return AggregationResult{}, err
	}

	a.collectionsInProgress.Add(1)
	defer a.collectionsInProgress.Add(-1)

	wFrom, wTo, active, gen, ok := a.resolveRange(fromMs, toMs)
	if !ok {
		return AggregationResult{}, &NotEnoughValidWindowsError{Requested: opts.NumWindows, Available: 0}
	}

	key := fingerprint(opts, wFrom, wTo)
	if snap := a.cache.Load(); snap != nil && snap.key == key && snap.generation == gen && snap.activeWindow == active {
		a.ins.cacheHits.Inc()
		return snap.result, nil
	}
	a.ins.cacheMisses.Inc()

	v, err, _ := a.sf.Do(key, func() (interface{}, error) {
		return a.computeAggregate(wFrom, wTo, gen, opts)
	})
	if err != nil {
		return AggregationResult{}, err
	}
	result := v.(AggregationResult)

	a.mu.Lock()
	a.cache.Store(&cacheSnapshot{key: key, generation: gen, activeWindow: active, result: result})
	a.mu.Unlock()
	return result, nil
}

func (a *Aggregator) computeAggregate(wFrom, wTo WindowId, gen uint64, opts CompletenessOptions) (AggregationResult, error) {
	candidates := contiguousRange(wFrom, wTo)

	interested := opts.InterestedEntities
	if len(interested) == 0 {
		interested = a.store.AllEntities()
	}
	resolvedOpts := opts
	resolvedOpts.InterestedEntities = interested

	completeness := a.analyzer.Analyze(candidates, resolvedOpts)

	validAsc := make([]WindowId, 0, len(completeness.ValidWindowIndexes))
	for _, w := range candidates {
		if _, ok := completeness.ValidWindowIndexes[w]; ok {
			validAsc = append(validAsc, w)
		}
	}
	if len(validAsc) < opts.NumWindows {
		return AggregationResult{}, &NotEnoughValidWindowsError{Requested: opts.NumWindows, Available: len(validAsc)}
	}
	selectedAsc := validAsc[len(validAsc)-opts.NumWindows:]

	result := AggregationResult{
		Generation:                      gen,
		CorrelationID:                   a.newCorrelationID(),
		EntityToValuesAndExtrapolations: make(map[EntityId]*ValuesAndExtrapolations),
		InvalidEntities:                 make(map[EntityId]struct{}),
	}

	for _, e := range interested {
		_, validByCompleteness := completeness.ValidEntities[e]
		if !validByCompleteness && !opts.IncludeInvalidEntities {
			result.InvalidEntities[e] = struct{}{}
			continue
		}
		vve, ok, err := a.buildValuesAndExtrapolations(e, selectedAsc, opts)
		if err != nil {
			return AggregationResult{}, err
		}
		if !ok {
			result.InvalidEntities[e] = struct{}{}
			continue
		}
		result.EntityToValuesAndExtrapolations[e] = vve
	}

	return result, nil
}

// buildValuesAndExtrapolations assembles one entity's result, windows in
// descending (most-recent-first) order, per spec.md §4.5 step 3.
func (a *Aggregator) buildValuesAndExtrapolations(e EntityId, selectedAsc []WindowId, opts CompletenessOptions) (*ValuesAndExtrapolations, bool, error) {
	n := len(selectedAsc)
	vve := &ValuesAndExtrapolations{
		Windows:        make([]int64, n),
		MetricValues:   make(map[MetricId][]float64, a.registry.Len()),
		Extrapolations: make(map[int]ExtrapolationKind),
	}
	for _, info := range a.registry.all() {
		vve.MetricValues[info.Id] = make([]float64, n)
	}

	for k := 0; k < n; k++ {
		w := selectedAsc[n-1-k] // descending: position 0 = most recent
		vve.Windows[k] = a.windowIndex.WindowStart(w)

		var wv WindowValues
		if am, ok := a.store.Get(w, e); ok && am.Enough(a.cfg.MinSamplesPerWindow) {
			wv = am.Freeze(w)
		} else {
			resolved, kind, ok, err := a.extrap.Resolve(e, w, opts.IncludeInvalidEntities, true)
			if err != nil {
				a.logger.Error().Str("component", "aggregator").Str("action", "resolve_failed").Err(err).Str("entity", e.String()).Msg("extrapolation reported an internal inconsistency")
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			wv = resolved
			vve.Extrapolations[k] = kind
			a.ins.extrapolations.WithLabelValues(kind.String()).Inc()
		}
		for _, info := range a.registry.all() {
			vve.MetricValues[info.Id][k] = wv.Values[info.Id]
		}
	}
	return vve, true, nil
}

// Completeness computes validity over [fromMs, toMs] under opts. It never
// fails; see spec.md §4.7.
func (a *Aggregator) Completeness(fromMs, toMs int64, opts CompletenessOptions) Completeness {
	a.collectionsInProgress.Add(1)
	defer a.collectionsInProgress.Add(-1)

	wFrom, wTo, _, _, ok := a.resolveRange(fromMs, toMs)
	if !ok {
		return Completeness{
			ValidWindowIndexes:       map[WindowId]struct{}{},
			ValidEntities:            map[EntityId]struct{}{},
			ValidEntityGroups:        map[string]struct{}{},
			EntityRatioByWindow:      map[WindowId]float64{},
			EntityGroupRatioByWindow: map[WindowId]float64{},
		}
	}
	return a.analyzer.Analyze(contiguousRange(wFrom, wTo), opts)
}
