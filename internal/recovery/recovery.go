// Package recovery implements the single privileged, authenticated action
// this service exposes: forcing a call stuck in PROCESSING_AI to FAILED.
// It exists because a process restart mid-pipeline leaves a call with no
// in-memory goroutine ever going to resume it, and spec.md places that
// recovery outside core scope for an operator to perform by hand.
package recovery

import (
	"context"
	"errors"
	"time"

	"telecom-platform/internal/audit"
	"telecom-platform/internal/calltrack"
	"telecom-platform/internal/eventbus"
	"telecom-platform/internal/store"
)

// ErrNotStuck is returned when the target call is not in PROCESSING_AI and
// therefore is not a valid recovery target.
var ErrNotStuck = errors.New("recovery: call is not in PROCESSING_AI")

// Service force-fails a stuck call, publishes the same events the normal
// pipeline would on failure, and records an audit trail entry.
type Service struct {
	store store.Store
	bus   *eventbus.Bus
	audit *audit.Service
	clock func() time.Time
}

func New(st store.Store, bus *eventbus.Bus, auditSvc *audit.Service) *Service {
	return &Service{store: st, bus: bus, audit: auditSvc, clock: time.Now}
}

// Recover transitions callID from PROCESSING_AI to FAILED, publishes
// ai_failed and state_changed exactly as the normal AI pipeline would on
// failure, and appends an audit record naming the operator and reason.
func (s *Service) Recover(ctx context.Context, callID, actorUserID, actorRole, actorIP, reason string) error {
	_, err := s.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		if call.State != calltrack.StateProcessingAI {
			return nil, nil, ErrNotStuck
		}
		if terr := call.TransitionTo(calltrack.StateFailed, s.clock()); terr != nil {
			return nil, nil, terr
		}
		return call, nil, nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(eventbus.Event{Kind: eventbus.KindAIFailed, CallID: callID, Reason: "operator_recovery"})
	s.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStateChanged, CallID: callID,
		FromState: string(calltrack.StateProcessingAI), ToState: string(calltrack.StateFailed),
	})

	if s.audit != nil {
		if aerr := s.audit.LogCallRecovery(ctx, actorUserID, actorRole, actorIP, callID, reason); aerr != nil {
			// Audit failures never unwind a completed recovery.
			return nil
		}
	}
	return nil
}
