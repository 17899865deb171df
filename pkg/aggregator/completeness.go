package aggregator

// Granularity selects whether entity validity is judged per-entity or
// promoted to per-entity-group (§4.7).
type Granularity int

const (
	ENTITY Granularity = iota
	ENTITY_GROUP
)

// CompletenessOptions parameterizes both CompletenessAnalyzer and the
// entity-selection step of Aggregator.Aggregate.
type CompletenessOptions struct {
	MinValidEntityRatio      float64
	MinValidEntityGroupRatio float64
	NumWindows               int
	InterestedEntities       []EntityId // empty/nil = all known entities
	Granularity              Granularity
	IncludeInvalidEntities   bool
}

// Completeness is the result of a CompletenessAnalyzer run: which windows,
// entities, and entity groups qualify under the supplied options, plus the
// per-window ratios that drove those decisions.
type Completeness struct {
	ValidWindowIndexes       map[WindowId]struct{}
	ValidEntities            map[EntityId]struct{}
	ValidEntityGroups        map[string]struct{}
	EntityRatioByWindow      map[WindowId]float64
	EntityGroupRatioByWindow map[WindowId]float64

	// ValidEntityRatioWithGroupGranularityByWindow(w) is the fraction of
	// interested entities that belong to a fully-present group in window w
	// (§4.7): entities in fully-present groups / |interestedEntities|. This
	// differs from EntityGroupRatioByWindow, which divides by the group
	// count rather than the entity count.
	ValidEntityRatioWithGroupGranularityByWindow map[WindowId]float64
}

// CompletenessAnalyzer computes validity over a window range under
// caller-supplied coverage thresholds. It never fails; an empty or
// impossible range simply yields empty result sets (§4.7 edge cases).
type CompletenessAnalyzer struct {
	store    *RawStore
	extrap   *ExtrapolationEngine
}

// NewCompletenessAnalyzer builds an analyzer over store, using extrap to
// decide per-(entity,window) presence.
func NewCompletenessAnalyzer(store *RawStore, extrap *ExtrapolationEngine) *CompletenessAnalyzer {
	return &CompletenessAnalyzer{store: store, extrap: extrap}
}

// Analyze computes Completeness over the candidate windows (already
// range-resolved and active-window-excluded by the caller; see spec.md
// §4.5 step 1 and §4.7's "active window is never a candidate").
func (c *CompletenessAnalyzer) Analyze(windows []WindowId, opts CompletenessOptions) Completeness {
	result := Completeness{
		ValidWindowIndexes:       make(map[WindowId]struct{}),
		ValidEntities:            make(map[EntityId]struct{}),
		ValidEntityGroups:        make(map[string]struct{}),
		EntityRatioByWindow:      make(map[WindowId]float64),
		EntityGroupRatioByWindow: make(map[WindowId]float64),
		ValidEntityRatioWithGroupGranularityByWindow: make(map[WindowId]float64),
	}
	if len(windows) == 0 {
		return result
	}

	interested := opts.InterestedEntities
	if len(interested) == 0 {
		interested = c.store.AllEntities()
	}
	if len(interested) == 0 {
		return result
	}

	groupOf := make(map[EntityId]string, len(interested))
	entitiesByGroup := make(map[string][]EntityId)
	for _, e := range interested {
		groupOf[e] = e.Group()
		entitiesByGroup[e.Group()] = append(entitiesByGroup[e.Group()], e)
	}
	totalGroups := len(entitiesByGroup)

	presentAt := make(map[WindowId]map[EntityId]bool, len(windows))
	validWindows := make([]WindowId, 0, len(windows))

	for _, w := range windows {
		present := make(map[EntityId]bool, len(interested))
		presentCount := 0
		for _, e := range interested {
			p := c.extrap.IsPresent(e, w)
			present[e] = p
			if p {
				presentCount++
			}
		}
		presentAt[w] = present

		entityRatio := float64(presentCount) / float64(len(interested))

		fullyPresentGroups := 0
		entitiesInFullyPresentGroups := 0
		for _, members := range entitiesByGroup {
			full := true
			for _, e := range members {
				if !present[e] {
					full = false
					break
				}
			}
			if full {
				fullyPresentGroups++
				entitiesInFullyPresentGroups += len(members)
			}
		}
		groupRatio := 0.0
		if totalGroups > 0 {
			groupRatio = float64(fullyPresentGroups) / float64(totalGroups)
		}

		result.EntityRatioByWindow[w] = entityRatio
		result.EntityGroupRatioByWindow[w] = groupRatio
		result.ValidEntityRatioWithGroupGranularityByWindow[w] = float64(entitiesInFullyPresentGroups) / float64(len(interested))

		if entityRatio >= opts.MinValidEntityRatio && groupRatio >= opts.MinValidEntityGroupRatio {
			result.ValidWindowIndexes[w] = struct{}{}
			validWindows = append(validWindows, w)
		}
	}

	// An entity is valid iff present in every valid window (ENTITY), or, under
	// ENTITY_GROUP granularity, iff its whole group is present in every valid
	// window. With zero valid windows there is no evidence for anyone, so
	// nothing qualifies — the inner loop below would otherwise be vacuously
	// true and mark every entity valid.
	for _, e := range interested {
		if len(validWindows) == 0 {
			continue
		}
		valid := true
		for _, w := range validWindows {
			present := presentAt[w]
			if opts.Granularity == ENTITY_GROUP {
				for _, member := range entitiesByGroup[groupOf[e]] {
					if !present[member] {
						valid = false
						break
					}
				}
			} else if !present[e] {
				valid = false
			}
			if !valid {
				break
			}
		}
		if valid {
			result.ValidEntities[e] = struct{}{}
		}
	}

	// A group is valid iff all its interested entities are valid.
	for group, members := range entitiesByGroup {
		allValid := true
		for _, e := range members {
			if _, ok := result.ValidEntities[e]; !ok {
				allValid = false
				break
			}
		}
		if allValid {
			result.ValidEntityGroups[group] = struct{}{}
		}
	}

	return result
}
