// Package aiservice models the downstream transcription/sentiment
// dependency: a narrow client interface, a mock implementation matching
// its documented failure/latency profile, and the bounded retry policy
// the call engine wraps around it.
package aiservice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Result is the successful outcome of an AI call.
type Result struct {
	Transcription string
	Sentiment     string
	Confidence    float64
}

// Client transcribes a call's concatenated packet payload.
type Client interface {
	Transcribe(ctx context.Context, payload string) (Result, error)
}

// ErrUnavailable is returned by Mock to simulate the dependency's failure
// mode; it is not the terminal AIUnavailable error the retry policy
// surfaces (see retry.go) but the per-attempt error the policy retries on.
var ErrUnavailable = errors.New("aiservice: unavailable")

// Mock reproduces the documented behavior of the real dependency: ~25%
// per-attempt failure rate and 1-3s latency on success. Randomness and
// timing are both injectable so tests are deterministic.
type Mock struct {
	// FailureRate is the probability (0..1) that an attempt fails outright
	// without sleeping. Defaults to 0.25.
	FailureRate float64
	// MinLatency/MaxLatency bound the sleep on a successful attempt.
	// Defaults to 1s and 3s.
	MinLatency, MaxLatency time.Duration
	// Rand supplies randomness; defaults to a package-local source.
	Rand *rand.Rand
	// Sleep is injectable so tests need not wait in real time.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewMock() *Mock {
	return &Mock{
		FailureRate: 0.25,
		MinLatency:  1 * time.Second,
		MaxLatency:  3 * time.Second,
		Rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var sentimentChoices = []string{"positive", "negative", "neutral"}

func (m *Mock) Transcribe(ctx context.Context, payload string) (Result, error) {
	if m.Rand.Float64() < m.FailureRate {
		return Result{}, ErrUnavailable
	}

	span := m.MaxLatency - m.MinLatency
	delay := m.MinLatency
	if span > 0 {
		delay += time.Duration(m.Rand.Float64() * float64(span))
	}
	if err := m.Sleep(ctx, delay); err != nil {
		return Result{}, err
	}

	return Result{
		Transcription: fmt.Sprintf("mock transcription of %d characters of audio data", len(payload)),
		Sentiment:     sentimentChoices[m.Rand.Intn(len(sentimentChoices))],
		Confidence:    0.7 + m.Rand.Float64()*0.25,
	}, nil
}
