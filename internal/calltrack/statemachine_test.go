package calltrack

import (
	"errors"
	"testing"
	"time"
)

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateInProgress, StateCompleted},
		{StateCompleted, StateProcessingAI},
		{StateProcessingAI, StateArchived},
		{StateProcessingAI, StateFailed},
	}
	for _, c := range cases {
		if err := ValidateTransition(c.from, c.to); err != nil {
			t.Errorf("expected %s -> %s to be valid, got %v", c.from, c.to, err)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateInProgress, StateProcessingAI},
		{StateInProgress, StateArchived},
		{StateCompleted, StateArchived},
		{StateCompleted, StateInProgress},
		{StateArchived, StateInProgress},
		{StateFailed, StateProcessingAI},
		{StateArchived, StateFailed},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected %s -> %s to be invalid, got %v", c.from, c.to, err)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StateArchived) || !IsTerminal(StateFailed) {
		t.Fatal("ARCHIVED and FAILED must be terminal")
	}
	for _, s := range []State{StateInProgress, StateCompleted, StateProcessingAI} {
		if IsTerminal(s) {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestCall_TransitionTo(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	call := NewCall("c1", now)

	later := now.Add(time.Second)
	if err := call.TransitionTo(StateCompleted, later); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", call.State)
	}
	if !call.UpdatedAt.Equal(later) {
		t.Fatalf("expected UpdatedAt updated to %v, got %v", later, call.UpdatedAt)
	}

	if err := call.TransitionTo(StateArchived, later); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition COMPLETED -> ARCHIVED, got %v", err)
	}
	// State must not change on a rejected transition.
	if call.State != StateCompleted {
		t.Fatalf("expected state unchanged after rejected transition, got %s", call.State)
	}
}

func TestNewCall_DefaultsToInProgress(t *testing.T) {
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	call := NewCall("c2", now)
	if call.State != StateInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", call.State)
	}
	if call.ExpectedNext != 0 || call.ReceivedCount != 0 || call.ExpectedTotal != nil {
		t.Fatalf("expected zeroed tracking state, got %+v", call)
	}
}
