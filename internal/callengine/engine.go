// Package callengine is the orchestrator: the only writer of Call state and
// the only caller of the AI client. It serializes per-call mutations
// through the store, consults the sequence tracker and state machine, and
// publishes events to the bus.
package callengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telecom-platform/internal/aiservice"
	"telecom-platform/internal/calltrack"
	"telecom-platform/internal/eventbus"
	"telecom-platform/internal/packets"
	"telecom-platform/internal/store"
	"telecom-platform/pkg/logger"
)

// ErrInvalidInput is returned by Ingest/Complete for malformed input, per
// the InvalidInput error class.
var ErrInvalidInput = errors.New("callengine: invalid input")

// GraceInterval is the fixed delay after a completion signal during which
// late packets are still admitted before the AI pipeline begins.
const GraceInterval = 3 * time.Second

// CompleteResult is the immediate, synchronous outcome of Complete.
type CompleteResult struct {
	Status        string // "accepted", "already_completed", "already_terminal"
	ExpectedTotal int
}

// Engine wires the store, sequence tracker, state machine, AI client, and
// event bus together into the two operations the ingest façade calls.
type Engine struct {
	store store.Store
	bus   *eventbus.Bus
	ai    aiservice.Client
	clock func() time.Time
	sleep func(d time.Duration)
	log   *slog.Logger

	// dispatchPipeline is a seam for tests: production wires it to
	// e.runCompletionPipeline via goroutine, tests can run it synchronously.
	dispatchPipeline func(callID string, expectedTotal int)

	// ingestOrder serializes each call_id's store mutation together with
	// its packet_received publish, so concurrent Ingest calls for the same
	// call_id (each its own goroutine, per §5's linearization guarantee)
	// can never publish out of the order their mutations actually
	// committed in: the store's own per-call lock only protects the
	// mutation, not the publish that follows it.
	ingestOrder sync.Map // map[string]*sync.Mutex
}

func (e *Engine) ingestLock(callID string) *sync.Mutex {
	v, _ := e.ingestOrder.LoadOrStore(callID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// New constructs an Engine. aiClient is typically an *aiservice.RetryPolicy
// wrapping the real or mock transcription client.
func New(st store.Store, bus *eventbus.Bus, aiClient aiservice.Client, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{store: st, bus: bus, ai: aiClient, clock: time.Now, sleep: time.Sleep, log: log}
	e.dispatchPipeline = func(callID string, expectedTotal int) {
		go e.runCompletionPipeline(context.Background(), callID, expectedTotal)
	}
	return e
}

// Ingest is the hot path. It validates input synchronously, then performs
// the store mutation and publish asynchronously so the caller's
// acknowledgment is never gated on lock contention or store latency.
func (e *Engine) Ingest(ctx context.Context, callID string, sequence int, data string, timestamp float64) error {
	if callID == "" || data == "" || sequence < 0 || timestamp <= 0 {
		return ErrInvalidInput
	}

	go e.applyIngest(context.Background(), callID, sequence, data, timestamp)
	return nil
}

func (e *Engine) applyIngest(ctx context.Context, callID string, sequence int, data string, timestamp float64) {
	log := logger.From(ctx).With("call_id", callID, "sequence", sequence)

	// Hold this call's ordering lock across both the store mutation and its
	// publish: releasing it between the two (as a bare WithCallLock call
	// followed by a separate Publish would) lets a second concurrent
	// Ingest for the same call_id commit and publish first even though it
	// arrived second, breaking §5's linearization guarantee.
	lock := e.ingestLock(callID)
	lock.Lock()
	defer lock.Unlock()

	type outcome struct {
		publish       bool
		receivedCount int
		missing       []int
	}

	result, err := e.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		if calltrack.IsTerminal(call.State) || call.State == calltrack.StateProcessingAI {
			if insErr := e.store.InsertPacket(ctx, packets.Packet{
				CallID: callID, Sequence: sequence, Data: data, Timestamp: timestamp, ReceivedAt: e.clock(),
			}); insErr != nil {
				if !errors.Is(insErr, store.ErrDuplicatePacket) {
					return nil, nil, insErr
				}
				return nil, outcome{}, nil
			}
			call.ReceivedCount++
			call.UpdatedAt = e.clock()
			return call, outcome{}, nil
		}

		if err := e.store.InsertPacket(ctx, packets.Packet{
			CallID: callID, Sequence: sequence, Data: data, Timestamp: timestamp, ReceivedAt: e.clock(),
		}); err != nil {
			if errors.Is(err, store.ErrDuplicatePacket) {
				return nil, outcome{}, nil
			}
			return nil, nil, err
		}

		_, next, dropped := packets.Classify(packets.TrackingState{
			ExpectedNext: call.ExpectedNext,
			Missing:      call.Missing,
		}, sequence)
		if len(dropped) > 0 {
			log.Warn("missing-sequence cap reached, dropping further gap entries",
				"dropped_count", len(dropped))
		}

		call.ExpectedNext = next.ExpectedNext
		call.Missing = next.Missing
		call.ReceivedCount++
		call.UpdatedAt = e.clock()

		return call, outcome{
			publish:       true,
			receivedCount: call.ReceivedCount,
			missing:       call.Missing,
		}, nil
	})
	if err != nil {
		log.Error("ingest mutation failed", "error", err)
		return
	}

	out, _ := result.(outcome)
	if out.publish {
		e.bus.Publish(eventbus.Event{
			Kind:          eventbus.KindPacketReceived,
			CallID:        callID,
			Sequence:      sequence,
			ReceivedCount: out.receivedCount,
			Missing:       out.missing,
		})
	}
}

// Complete is the lifecycle trigger. It validates and transitions
// synchronously (so already_completed/already_terminal is reported to the
// caller without racing the background pipeline), then dispatches the
// grace-wait/AI/terminal-transition pipeline in the background.
func (e *Engine) Complete(ctx context.Context, callID string, expectedTotal int) (CompleteResult, error) {
	if expectedTotal <= 0 {
		return CompleteResult{}, ErrInvalidInput
	}

	res, err := e.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		switch {
		case calltrack.IsTerminal(call.State):
			return nil, CompleteResult{Status: "already_terminal"}, nil
		case call.State != calltrack.StateInProgress:
			// COMPLETED or PROCESSING_AI: already past the trigger point.
			return nil, CompleteResult{Status: "already_completed"}, nil
		}

		now := e.clock()
		if err := call.TransitionTo(calltrack.StateCompleted, now); err != nil {
			return nil, nil, err
		}
		et := expectedTotal
		call.ExpectedTotal = &et
		return call, CompleteResult{Status: "accepted", ExpectedTotal: expectedTotal}, nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	result := res.(CompleteResult)
	if result.Status == "accepted" {
		e.bus.Publish(eventbus.Event{
			Kind: eventbus.KindStateChanged, CallID: callID,
			FromState: string(calltrack.StateInProgress), ToState: string(calltrack.StateCompleted),
		})
		e.dispatchPipeline(callID, expectedTotal)
	}
	return result, nil
}

// runCompletionPipeline implements §4.5 step 4: grace wait, transition to
// PROCESSING_AI, AI retry, terminal transition, publish.
func (e *Engine) runCompletionPipeline(ctx context.Context, callID string, expectedTotal int) {
	log := logger.From(ctx).With("call_id", callID)

	e.sleep(GraceInterval)

	_, err := e.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		if call.State != calltrack.StateCompleted {
			// Nothing to do: either raced with another pipeline invocation
			// (should not happen, Complete only ever dispatches once) or the
			// call was mutated unexpectedly. Fail closed.
			return nil, nil, fmt.Errorf("%w: expected COMPLETED, found %s", calltrack.ErrInvalidTransition, call.State)
		}
		if len(call.Missing) > 0 {
			log.Warn("completing call with missing sequences",
				"missing", call.Missing,
				"received_count_matches_expected", call.ReceivedCount == expectedTotal)
		}
		now := e.clock()
		if err := call.TransitionTo(calltrack.StateProcessingAI, now); err != nil {
			return nil, nil, err
		}
		return call, nil, nil
	})
	if err != nil {
		e.failPipeline(ctx, callID, fmt.Sprintf("transition to PROCESSING_AI failed: %v", err))
		return
	}
	e.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStateChanged, CallID: callID,
		FromState: string(calltrack.StateCompleted), ToState: string(calltrack.StateProcessingAI),
	})

	pkts, err := e.store.ListPacketsOrdered(ctx, callID)
	if err != nil {
		e.failPipeline(ctx, callID, fmt.Sprintf("failed to read packets: %v", err))
		return
	}

	payload := buildPayload(pkts)
	result, err := e.ai.Transcribe(ctx, payload)
	if err != nil {
		e.failPipeline(ctx, callID, sanitizeReason(err))
		return
	}

	_, err = e.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		now := e.clock()
		if err := call.TransitionTo(calltrack.StateArchived, now); err != nil {
			return nil, nil, err
		}
		transcription, sentiment := result.Transcription, result.Sentiment
		call.Transcription = &transcription
		call.Sentiment = &sentiment
		return call, nil, nil
	})
	if err != nil {
		e.failPipeline(ctx, callID, fmt.Sprintf("transition to ARCHIVED failed: %v", err))
		return
	}

	e.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStateChanged, CallID: callID,
		FromState: string(calltrack.StateProcessingAI), ToState: string(calltrack.StateArchived),
	})
	e.bus.Publish(eventbus.Event{
		Kind: eventbus.KindAICompleted, CallID: callID,
		Transcription: result.Transcription, Sentiment: result.Sentiment,
	})
}

func (e *Engine) failPipeline(ctx context.Context, callID string, reason string) {
	log := logger.From(ctx).With("call_id", callID)

	_, err := e.store.WithCallLock(ctx, callID, func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error) {
		if call.State == calltrack.StateFailed {
			return nil, nil, nil // already failed by a prior attempt; idempotent
		}
		now := e.clock()
		if terr := call.TransitionTo(calltrack.StateFailed, now); terr != nil {
			// The call already reached a terminal state some other way; do
			// not fight it, just log.
			log.Error("cannot transition to FAILED", "error", terr, "current_state", call.State)
			return nil, nil, nil
		}
		return call, nil, nil
	})
	if err != nil {
		log.Error("failPipeline: store error while recording FAILED", "error", err)
	}

	log.Error("call pipeline failed", "reason", reason)
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindAIFailed, CallID: callID, Reason: reason})
	e.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStateChanged, CallID: callID,
		FromState: string(calltrack.StateProcessingAI), ToState: string(calltrack.StateFailed),
	})
}

func buildPayload(pkts []packets.Packet) string {
	parts := make([]string, len(pkts))
	for i, p := range pkts {
		parts[i] = p.Data
	}
	return strings.Join(parts, " ")
}

// sanitizeReason strips internal error detail down to a stable string safe
// to publish to subscribers, per the "never raw exception text" policy.
func sanitizeReason(err error) string {
	if errors.Is(err, aiservice.ErrAIUnavailable) {
		return "ai_unavailable"
	}
	return "ai_pipeline_error"
}
