package calltrack

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates an attempted state change that the
// transition graph does not allow. Any caller hitting this has a
// programming error upstream: the graph is exhaustive and every legal
// path through it is enumerated below.
var ErrInvalidTransition = errors.New("calltrack: invalid state transition")

// validTransitions enumerates the only edges the lifecycle graph allows.
// ARCHIVED and FAILED have no outgoing edges: they are terminal.
var validTransitions = map[State][]State{
	StateInProgress:   {StateCompleted},
	StateCompleted:    {StateProcessingAI},
	StateProcessingAI: {StateArchived, StateFailed},
	StateArchived:     {},
	StateFailed:       {},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge.
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing edges.
func IsTerminal(s State) bool {
	return s == StateArchived || s == StateFailed
}

// ValidateTransition returns ErrInvalidTransition, wrapped with the states
// involved, if the transition is not a legal edge in the graph.
func ValidateTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// TransitionTo applies a validated state change to the call, bumping its
// UpdatedAt. Callers must hold the store's exclusive lock for the call
// before calling this and must persist the result within the same
// transaction — TransitionTo itself does no I/O.
func (c *Call) TransitionTo(to State, now time.Time) error {
	if err := ValidateTransition(c.State, to); err != nil {
		return err
	}
	c.State = to
	c.UpdatedAt = now
	return nil
}
