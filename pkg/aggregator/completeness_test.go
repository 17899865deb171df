package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildAnalyzer wires a store+engine+analyzer triple with minSamples K, so a
// cell with K/2 samples already counts as present (ExtrapolationEngine.IsPresent's
// partial threshold).
func buildAnalyzer(K int, N WindowId) (*RawStore, *CompletenessAnalyzer) {
	reg := NewMetricRegistry(MetricDef{Name: "m", Strategy: SUM})
	store := NewRawStore(reg)
	eng := NewExtrapolationEngine(store, reg, N, K)
	return store, NewCompletenessAnalyzer(store, eng)
}

func TestCompletenessAnalyzer_EmptyRangeYieldsEmptyResult(t *testing.T) {
	_, analyzer := buildAnalyzer(4, 20)
	res := analyzer.Analyze(nil, CompletenessOptions{MinValidEntityRatio: 1, MinValidEntityGroupRatio: 1})
	if len(res.ValidWindowIndexes) != 0 || len(res.ValidEntities) != 0 {
		t.Error("Analyze on an empty window list should return empty result sets")
	}
}

func TestCompletenessAnalyzer_FullPresenceAllValid(t *testing.T) {
	const K = 4
	store, analyzer := buildAnalyzer(K, 20)
	e1 := NewEntityId("e1", "g1")
	e2 := NewEntityId("e2", "g2")

	for _, w := range []WindowId{1, 2, 3} {
		fill(store, w, e1, K/2, 1)
		fill(store, w, e2, K/2, 1)
	}

	res := analyzer.Analyze([]WindowId{1, 2, 3}, CompletenessOptions{
		MinValidEntityRatio:      1,
		MinValidEntityGroupRatio: 1,
	})

	require.Len(t, res.ValidWindowIndexes, 3, "every window should be valid under full presence")
	require.Contains(t, res.ValidEntities, e1, "e1 should be valid when present in every window")
	require.Contains(t, res.ValidEntities, e2, "e2 should be valid when present in every window")
	for _, w := range []WindowId{1, 2, 3} {
		require.InDelta(t, 1.0, res.EntityRatioByWindow[w], 1e-9)
		require.InDelta(t, 1.0, res.EntityGroupRatioByWindow[w], 1e-9)
		require.InDelta(t, 1.0, res.ValidEntityRatioWithGroupGranularityByWindow[w], 1e-9)
	}
}

func TestCompletenessAnalyzer_PartialPresenceExcludesWindowUnderStrictRatio(t *testing.T) {
	const K = 4
	store, analyzer := buildAnalyzer(K, 20)
	e1 := NewEntityId("e1", "g1")
	e2 := NewEntityId("e2", "g2")

	// Window 1: both present. Window 2: only e1 present.
	fill(store, 1, e1, K/2, 1)
	fill(store, 1, e2, K/2, 1)
	fill(store, 2, e1, K/2, 1)

	res := analyzer.Analyze([]WindowId{1, 2}, CompletenessOptions{
		MinValidEntityRatio:      1, // require full presence
		MinValidEntityGroupRatio: 0,
	})

	if _, ok := res.ValidWindowIndexes[1]; !ok {
		t.Error("window 1 should be valid (ratio 1.0)")
	}
	if _, ok := res.ValidWindowIndexes[2]; ok {
		t.Error("window 2 should be invalid (ratio 0.5 < required 1.0)")
	}
	if got := res.EntityRatioByWindow[2]; got != 0.5 {
		t.Errorf("EntityRatioByWindow[2] = %v, want 0.5", got)
	}
}

func TestCompletenessAnalyzer_InterestedEntitiesDefaultsToAllKnown(t *testing.T) {
	const K = 4
	store, analyzer := buildAnalyzer(K, 20)
	e1 := NewEntityId("e1", "g1")
	e2 := NewEntityId("e2", "g2")
	fill(store, 1, e1, K/2, 1)
	fill(store, 1, e2, K/2, 1)

	res := analyzer.Analyze([]WindowId{1}, CompletenessOptions{
		MinValidEntityRatio:      1,
		MinValidEntityGroupRatio: 1,
		// InterestedEntities deliberately left empty.
	})
	if len(res.ValidEntities) != 2 {
		t.Errorf("len(ValidEntities) = %d, want 2 (empty InterestedEntities defaults to all known entities)", len(res.ValidEntities))
	}
}

func TestCompletenessAnalyzer_EntityGroupGranularityRequiresWholeGroup(t *testing.T) {
	const K = 4
	store, analyzer := buildAnalyzer(K, 20)
	e1a := NewEntityId("e1a", "groupA")
	e1b := NewEntityId("e1b", "groupA")
	e2 := NewEntityId("e2", "groupB")

	fill(store, 1, e1a, K/2, 1)
	fill(store, 1, e2, K/2, 1)
	// e1b never present: groupA is only partially present.

	res := analyzer.Analyze([]WindowId{1}, CompletenessOptions{
		MinValidEntityRatio:      0,
		MinValidEntityGroupRatio: 0,
		Granularity:              ENTITY_GROUP,
		InterestedEntities:       []EntityId{e1a, e1b, e2},
	})

	require.NotContains(t, res.ValidEntities, e1a, "e1a should be invalid under ENTITY_GROUP granularity since its group (groupA) is never fully present")
	require.NotContains(t, res.ValidEntities, e1b, "e1b should be invalid for the same reason")
	require.Contains(t, res.ValidEntities, e2, "e2 should be valid: groupB is fully present in every valid window")
	require.Contains(t, res.ValidEntityGroups, "groupB")
	require.NotContains(t, res.ValidEntityGroups, "groupA")

	// 2 of 3 interested entities present (e1a, e2); 1 of 2 groups fully present
	// (groupB); only e2 belongs to a fully-present group, out of 3 interested.
	require.InDelta(t, 2.0/3.0, res.EntityRatioByWindow[1], 1e-9)
	require.InDelta(t, 0.5, res.EntityGroupRatioByWindow[1], 1e-9)
	require.InDelta(t, 1.0/3.0, res.ValidEntityRatioWithGroupGranularityByWindow[1], 1e-9,
		"validEntityRatioWithGroupGranularity divides by interested entities, not group count")
}

func TestCompletenessAnalyzer_NoValidWindowsMeansNoValidEntities(t *testing.T) {
	const K = 4
	store, analyzer := buildAnalyzer(K, 20)
	e1 := NewEntityId("e1", "g1")
	// e1 never has enough samples anywhere.
	fill(store, 1, e1, 1, 1)

	res := analyzer.Analyze([]WindowId{1}, CompletenessOptions{
		MinValidEntityRatio:      1,
		MinValidEntityGroupRatio: 1,
	})
	if len(res.ValidWindowIndexes) != 0 {
		t.Error("window 1 should not be valid: e1 is below the partial-presence threshold")
	}
	if _, ok := res.ValidEntities[e1]; ok {
		t.Error("an entity cannot be valid when there are zero valid windows to be present in")
	}
}
