package packets

import (
	"reflect"
	"testing"
)

func TestClassify_InOrder(t *testing.T) {
	state := TrackingState{ExpectedNext: 0}
	class, next, dropped := Classify(state, 0)

	if class != InOrder {
		t.Fatalf("expected in_order, got %s", class)
	}
	if next.ExpectedNext != 1 {
		t.Fatalf("expected next.ExpectedNext=1, got %d", next.ExpectedNext)
	}
	if len(next.Missing) != 0 || dropped != nil {
		t.Fatalf("expected no missing/dropped, got missing=%v dropped=%v", next.Missing, dropped)
	}
}

func TestClassify_GapThenLateFill(t *testing.T) {
	state := TrackingState{ExpectedNext: 0}

	// Packet 2 arrives before 0 and 1: gap.
	class, state, dropped := Classify(state, 2)
	if class != Gap {
		t.Fatalf("expected gap, got %s", class)
	}
	if state.ExpectedNext != 3 {
		t.Fatalf("expected ExpectedNext=3, got %d", state.ExpectedNext)
	}
	if !reflect.DeepEqual(state.Missing, []int{0, 1}) {
		t.Fatalf("expected missing=[0 1], got %v", state.Missing)
	}
	if dropped != nil {
		t.Fatalf("expected no dropped, got %v", dropped)
	}

	// Packet 0 arrives late: fills part of the gap.
	class, state, dropped = Classify(state, 0)
	if class != LateFill {
		t.Fatalf("expected late_fill, got %s", class)
	}
	if !reflect.DeepEqual(state.Missing, []int{1}) {
		t.Fatalf("expected missing=[1], got %v", state.Missing)
	}
	if dropped != nil {
		t.Fatalf("expected no dropped, got %v", dropped)
	}

	// Packet 1 arrives late: fills the remaining gap.
	class, state, _ = Classify(state, 1)
	if class != LateFill {
		t.Fatalf("expected late_fill, got %s", class)
	}
	if len(state.Missing) != 0 {
		t.Fatalf("expected missing empty, got %v", state.Missing)
	}
	// expected_next is untouched by a late fill.
	if state.ExpectedNext != 3 {
		t.Fatalf("expected ExpectedNext unchanged at 3, got %d", state.ExpectedNext)
	}
}

func TestClassify_Duplicate(t *testing.T) {
	state := TrackingState{ExpectedNext: 1}

	class, next, dropped := Classify(state, 0)
	if class != Duplicate {
		t.Fatalf("expected duplicate for already-accepted sequence, got %s", class)
	}
	if !reflect.DeepEqual(next, state) {
		t.Fatalf("expected state unchanged on duplicate, got %+v", next)
	}
	if dropped != nil {
		t.Fatalf("expected no dropped, got %v", dropped)
	}

	// A sequence already recorded as missing (i.e. neither accepted nor
	// filled) is not a duplicate: it's a late fill. Duplicate only applies
	// to sequences below expected_next that are NOT in missing.
	state = TrackingState{ExpectedNext: 3, Missing: []int{1}}
	class, _, _ = Classify(state, 0)
	if class != Duplicate {
		t.Fatalf("expected duplicate for sequence 0 (below expected_next, not missing), got %s", class)
	}
	class, _, _ = Classify(state, 1)
	if class != LateFill {
		t.Fatalf("expected late_fill for sequence 1 (in missing set), got %s", class)
	}
}

func TestClassify_MissingCapEnforced(t *testing.T) {
	state := TrackingState{ExpectedNext: 0}

	// A single huge gap: only the first MaxMissing sequences are tracked,
	// the rest are reported as dropped.
	class, state, dropped := Classify(state, MaxMissing+50)
	if class != Gap {
		t.Fatalf("expected gap, got %s", class)
	}
	if len(state.Missing) != MaxMissing {
		t.Fatalf("expected missing capped at %d, got %d", MaxMissing, len(state.Missing))
	}
	if len(dropped) != 50 {
		t.Fatalf("expected 50 dropped sequences, got %d", len(dropped))
	}
	if state.ExpectedNext != MaxMissing+51 {
		t.Fatalf("expected ExpectedNext=%d, got %d", MaxMissing+51, state.ExpectedNext)
	}
}

func TestClassify_MissingCapAcrossMultipleGaps(t *testing.T) {
	state := TrackingState{ExpectedNext: 0, Missing: make([]int, MaxMissing-2)}
	for i := range state.Missing {
		state.Missing[i] = -(i + 1) // arbitrary distinct placeholders below 0
	}

	// Only 2 slots remain; a 5-wide gap should record 2 and drop 3.
	class, next, dropped := Classify(state, 5)
	if class != Gap {
		t.Fatalf("expected gap, got %s", class)
	}
	if len(next.Missing) != MaxMissing {
		t.Fatalf("expected missing to fill to cap %d, got %d", MaxMissing, len(next.Missing))
	}
	if len(dropped) != 3 {
		t.Fatalf("expected 3 dropped, got %d: %v", len(dropped), dropped)
	}
}

func TestClassify_ZeroValueStateStartsAtZero(t *testing.T) {
	var state TrackingState
	class, next, _ := Classify(state, 0)
	if class != InOrder {
		t.Fatalf("expected in_order for the zero value state, got %s", class)
	}
	if next.ExpectedNext != 1 {
		t.Fatalf("expected ExpectedNext=1, got %d", next.ExpectedNext)
	}
}
