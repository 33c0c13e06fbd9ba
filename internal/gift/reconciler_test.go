package gift

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestReconciler() *Reconciler {
	logger, _ := zap.NewDevelopment()
	return NewReconciler(10*time.Second, 10*time.Second, logger)
}

func TestObserveOutOfOrderSequence(t *testing.T) {
	r := newTestReconciler()

	// Cumulative counters as redelivered by the upstream: the 5 repeats and
	// the 2 arrives late, after a larger value was already processed.
	sequence := []int64{3, 5, 5, 2, 8}
	wantIncrements := []int64{3, 2, 0, 0, 3}
	wantEmitted := []bool{true, true, false, false, true}

	var total int64
	for i, cumulative := range sequence {
		inc, ok := r.Observe(Observation{
			RoomID:     100,
			GiftID:     7,
			GroupID:    42,
			Cumulative: cumulative,
		})
		if ok != wantEmitted[i] {
			t.Fatalf("observation %d (cumulative %d): emitted=%v, want %v", i, cumulative, ok, wantEmitted[i])
		}
		if inc != wantIncrements[i] {
			t.Fatalf("observation %d (cumulative %d): increment=%d, want %d", i, cumulative, inc, wantIncrements[i])
		}
		total += inc
	}

	if total != 8 {
		t.Errorf("sum of increments = %d, want max cumulative 8", total)
	}
}

func TestComboEndClearsEntry(t *testing.T) {
	r := newTestReconciler()
	obs := Observation{RoomID: 1, GiftID: 2, GroupID: 3}

	obs.Cumulative = 5
	if _, ok := r.Observe(obs); !ok {
		t.Fatal("first observation should emit")
	}
	if r.Len() != 1 {
		t.Fatalf("cache size = %d, want 1", r.Len())
	}

	obs.ComboEnd = true
	if _, ok := r.Observe(obs); ok {
		t.Fatal("combo end with a live entry must be dropped")
	}
	if r.Len() != 0 {
		t.Fatalf("cache size after combo end = %d, want 0", r.Len())
	}

	// A fresh strike reusing the key starts from a zero baseline.
	obs.ComboEnd = false
	obs.Cumulative = 4
	inc, ok := r.Observe(obs)
	if !ok {
		t.Fatal("observation after combo end must not be treated as stale")
	}
	if inc != 4 {
		t.Errorf("increment after combo end = %d, want 4", inc)
	}
}

func TestComboEndWithoutEntryIsProcessed(t *testing.T) {
	r := newTestReconciler()

	inc, ok := r.Observe(Observation{
		RoomID: 1, GiftID: 2, GroupID: 3,
		Cumulative: 2,
		ComboEnd:   true,
	})
	if !ok || inc != 2 {
		t.Errorf("end signal with no entry: inc=%d ok=%v, want 2 true", inc, ok)
	}
}

func TestUngroupedGiftsAreNotCached(t *testing.T) {
	r := newTestReconciler()

	for i := 0; i < 3; i++ {
		inc, ok := r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 0, Cumulative: 1})
		if !ok || inc != 1 {
			t.Fatalf("ungrouped gift %d: inc=%d ok=%v, want 1 true", i, inc, ok)
		}
	}
	if r.Len() != 0 {
		t.Errorf("cache size = %d, want 0 for ungrouped gifts", r.Len())
	}
}

func TestNonPositiveCumulativeCountsAsOne(t *testing.T) {
	r := newTestReconciler()

	inc, ok := r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 0, Cumulative: 0})
	if !ok || inc != 1 {
		t.Errorf("cumulative 0: inc=%d ok=%v, want 1 true", inc, ok)
	}
	inc, ok = r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 0, Cumulative: -3})
	if !ok || inc != 1 {
		t.Errorf("cumulative -3: inc=%d ok=%v, want 1 true", inc, ok)
	}
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	r := newTestReconciler()

	now := time.Now()
	r.now = func() time.Time { return now }

	if _, ok := r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 3, Cumulative: 6}); !ok {
		t.Fatal("first observation should emit")
	}

	// Just inside the TTL: entry survives.
	now = now.Add(9 * time.Second)
	r.sweep()
	if r.Len() != 1 {
		t.Fatalf("cache size after early sweep = %d, want 1", r.Len())
	}

	now = now.Add(2 * time.Second)
	r.sweep()
	if r.Len() != 0 {
		t.Fatalf("cache size after sweep = %d, want 0", r.Len())
	}

	// Evicted key restarts from a zero baseline, so cumulative 4 is fresh.
	inc, ok := r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 3, Cumulative: 4})
	if !ok || inc != 4 {
		t.Errorf("post-eviction observation: inc=%d ok=%v, want 4 true", inc, ok)
	}
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	r := newTestReconciler()

	if inc, ok := r.Observe(Observation{RoomID: 1, GiftID: 2, GroupID: 3, Cumulative: 5}); !ok || inc != 5 {
		t.Fatalf("key A: inc=%d ok=%v", inc, ok)
	}
	// Same gift, different room: its own baseline.
	if inc, ok := r.Observe(Observation{RoomID: 9, GiftID: 2, GroupID: 3, Cumulative: 2}); !ok || inc != 2 {
		t.Fatalf("key B: inc=%d ok=%v", inc, ok)
	}
	if r.Len() != 2 {
		t.Errorf("cache size = %d, want 2", r.Len())
	}
}
