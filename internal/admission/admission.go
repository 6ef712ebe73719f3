// Package admission gates how many calls the process will accept into the
// core ingest pipeline at once. It is deliberately outside the core (§1
// scopes cross-instance coordination and resource limits out): a single
// instance owns every call it admits, and admission control here is a
// pragmatic ceiling on that instance's own concurrency, not a scheduling
// or fairness policy.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telecom-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ErrAtCapacity is returned by Admit when the concurrent-call ceiling has
// been reached.
var ErrAtCapacity = errors.New("admission: at capacity")

// Controller decides whether a newly-arriving call may be admitted, using
// a Redis-backed counter so the ceiling holds even if the process runs
// multiple instances behind a shared Redis (though cross-instance call
// ownership itself remains out of scope).
type Controller struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

// New constructs a Controller. ttl bounds how long a slot survives if the
// releasing call never explicitly releases it (crash, missed webhook).
func New(rdb *redis.Client, limit int, ttl time.Duration) *Controller {
	return &Controller{rdb: rdb, limit: limit, ttl: ttl}
}

// Admit attempts to reserve a concurrency slot against the instance-wide
// ceiling. callID is accepted (rather than dropped) so call sites read
// naturally and so a future per-call key scheme doesn't change the
// interface; the current policy counts total concurrent calls, not
// distinct call_ids, so callers must pair each Admit with exactly one
// Release regardless of duplicate webhook delivery for the same call.
func (c *Controller) Admit(ctx context.Context, callID string) error {
	ok, err := utils.AcquireConcurrencyCap(ctx, c.rdb, c.globalKey(), c.limit, c.ttl)
	if err != nil {
		return fmt.Errorf("admission: acquire failed: %w", err)
	}
	if !ok {
		return ErrAtCapacity
	}
	return nil
}

// Release frees the slot reserved by a prior Admit. Safe to call even if
// Admit was never called or already released (best-effort, per the
// underlying Lua script's floor-at-zero semantics).
func (c *Controller) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, c.globalKey())
}

// globalKey scopes the counter to the whole process instance rather than
// per-call: the ceiling is a total concurrent-calls limit, not a per-call
// resource.
func (c *Controller) globalKey() string {
	return "admission:concurrent_calls"
}
