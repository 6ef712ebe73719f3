package aiservice

import (
	"context"
	"errors"
	"time"
)

// ErrAIUnavailable is the terminal error surfaced once the retry policy
// exhausts its attempts or cumulative deadline. The only other error
// RetryPolicy.Transcribe returns is the caller's own context error.
var ErrAIUnavailable = errors.New("aiservice: exhausted retry policy")

const (
	maxAttempts       = 5
	cumulativeDeadline = 60 * time.Second
	perAttemptTimeout  = 30 * time.Second
)

// backoff returns the sleep duration before the given 1-indexed attempt
// number's retry: 1s, 2s, 4s, 8s for attempts 1..4. There is no backoff
// after attempt 5 since that is the last allowed attempt.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// RetryPolicy wraps a Client with the fixed exponential-backoff retry
// contract: 5 attempts, 1/2/4/8s doubling backoff, a 60s cumulative
// deadline covering both attempt time and sleeps, and a 30s per-attempt
// timeout. It succeeds on the first non-error response and otherwise
// surfaces ErrAIUnavailable.
type RetryPolicy struct {
	Client Client
	// Sleep is injectable for deterministic tests; defaults to a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is injectable for deterministic deadline accounting.
	Now func() time.Time
}

// NewRetryPolicy wraps client with the standard retry parameters.
func NewRetryPolicy(client Client) *RetryPolicy {
	return &RetryPolicy{
		Client: client,
		Sleep:  sleepCtx,
		Now:    time.Now,
	}
}

// Transcribe runs the retry loop. On success it returns the first non-error
// result with a nil error; on exhaustion it returns ErrAIUnavailable, which
// does not carry the number of attempts made.
func (p *RetryPolicy) Transcribe(ctx context.Context, payload string) (Result, error) {
	start := p.Now()
	elapsed := time.Duration(0)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		result, err := p.Client.Transcribe(attemptCtx, payload)
		cancel()
		elapsed = p.Now().Sub(start)

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			// Caller's context was cancelled out from under us; do not mask
			// that as AI exhaustion.
			return Result{}, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoff(attempt)
		if elapsed+delay >= cumulativeDeadline {
			break
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return Result{}, err
		}
		elapsed = p.Now().Sub(start)
	}

	return Result{}, ErrAIUnavailable
}
