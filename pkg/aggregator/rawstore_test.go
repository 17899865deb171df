package aggregator

import (
	"sync"
	"testing"
)

func TestRawStore_PutCreatesLazilyAndIsIdempotent(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")

	if rs.Has(5) {
		t.Fatal("a fresh store should not have window 5")
	}
	am1 := rs.Put(5, e)
	am2 := rs.Put(5, e)
	if am1 != am2 {
		t.Error("Put should return the same AggregatedMetrics instance for a repeated (window, entity) key")
	}
	if !rs.Has(5) {
		t.Error("Has(5) should be true after Put(5, e)")
	}
}

func TestRawStore_Get_AbsentReturnsFalseWithoutCreating(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")

	if _, ok := rs.Get(1, e); ok {
		t.Error("Get on an untouched window should report false")
	}
	if rs.Has(1) {
		t.Error("Get must not create a window as a side effect")
	}
}

func TestRawStore_Entities_And_AllEntities(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e1 := NewEntityId("e1", "g1")
	e2 := NewEntityId("e2", "g1")

	rs.Put(1, e1)
	rs.Put(1, e2)
	rs.Put(2, e1)

	w1 := rs.Entities(1)
	if len(w1) != 2 {
		t.Errorf("Entities(1) has %d entries, want 2", len(w1))
	}
	if rs.Entities(99) != nil {
		t.Error("Entities on a nonexistent window should return nil")
	}

	all := rs.AllEntities()
	if len(all) != 2 {
		t.Errorf("AllEntities() has %d entries, want 2 (e1 and e2 across all windows)", len(all))
	}
}

func TestRawStore_RangeView_IsInclusiveAndOrdered(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")
	for _, w := range []WindowId{3, 1, 5, 2, 4} {
		rs.Put(w, e)
	}

	got := rs.RangeView(2, 4)
	want := []WindowId{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("RangeView(2,4) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RangeView(2,4)[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRawStore_BackInsertionKeepsOrderSorted(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")

	rs.Put(10, e)
	rs.Put(5, e) // back-insertion: arrives after window 10 is already present
	rs.Put(7, e)

	got := rs.RangeView(0, 100)
	want := []WindowId{5, 7, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d (back-insertion must keep ascending order)", i, got[i], want[i])
		}
	}
}

func TestRawStore_EarliestAndSize(t *testing.T) {
	rs := NewRawStore(testRegistry())
	if _, ok := rs.Earliest(); ok {
		t.Error("Earliest on an empty store should report false")
	}
	if rs.Size() != 0 {
		t.Errorf("Size() on an empty store = %d, want 0", rs.Size())
	}

	e := NewEntityId("e1", "g1")
	rs.Put(3, e)
	rs.Put(1, e)
	rs.Put(2, e)

	earliest, ok := rs.Earliest()
	if !ok || earliest != 1 {
		t.Errorf("Earliest() = (%d, %v), want (1, true)", earliest, ok)
	}
	if rs.Size() != 3 {
		t.Errorf("Size() = %d, want 3", rs.Size())
	}
}

func TestRawStore_EvictOldestRemovesLowestWindow(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")
	rs.Put(1, e)
	rs.Put(2, e)
	rs.Put(3, e)

	evicted, ok := rs.EvictOldest()
	if !ok || evicted != 1 {
		t.Fatalf("EvictOldest() = (%d, %v), want (1, true)", evicted, ok)
	}
	if rs.Has(1) {
		t.Error("window 1 should no longer exist after eviction")
	}
	earliest, _ := rs.Earliest()
	if earliest != 2 {
		t.Errorf("Earliest() after eviction = %d, want 2", earliest)
	}
}

func TestRawStore_EvictOldest_EmptyReturnsFalse(t *testing.T) {
	rs := NewRawStore(testRegistry())
	if _, ok := rs.EvictOldest(); ok {
		t.Error("EvictOldest on an empty store should report false")
	}
}

func TestRawStore_Clear_RemovesEverything(t *testing.T) {
	rs := NewRawStore(testRegistry())
	e := NewEntityId("e1", "g1")
	rs.Put(1, e)
	rs.Put(2, e)

	rs.Clear()

	if rs.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", rs.Size())
	}
	if _, ok := rs.Earliest(); ok {
		t.Error("Earliest() after Clear should report false")
	}
	if len(rs.AllEntities()) != 0 {
		t.Error("AllEntities() after Clear should be empty")
	}
}

// TestRawStore_ConcurrentPutsNoLostUpdates mirrors the concurrency property:
// T goroutines each writing R distinct entities into the same window must
// all land without loss, regardless of interleaving.
func TestRawStore_ConcurrentPutsNoLostUpdates(t *testing.T) {
	const goroutines = 8
	const entitiesPerGoroutine = 25

	rs := NewRawStore(NewMetricRegistry(MetricDef{Name: "m", Strategy: SUM}))
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < entitiesPerGoroutine; i++ {
				e := NewEntityId(entityKey(g, i), "g")
				am := rs.Put(1, e)
				am.AddSample(Sample{TimestampMs: 0, Values: map[MetricId]float64{0: 1}})
			}
		}(g)
	}
	wg.Wait()

	got := len(rs.Entities(1))
	want := goroutines * entitiesPerGoroutine
	if got != want {
		t.Errorf("Entities(1) has %d entries, want %d (no lost updates across concurrent Put calls)", got, want)
	}
}

func entityKey(g, i int) string {
	return string(rune('a'+g)) + "-" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
