// Package store defines the narrow persistence contract the call engine
// relies on and provides two implementations: an in-memory one for tests
// and a Postgres-backed one for production, following the row-locking and
// transaction-wrapper conventions used elsewhere in this codebase.
package store

import (
	"context"
	"errors"

	"telecom-platform/internal/calltrack"
	"telecom-platform/internal/packets"
)

// ErrNotFound is returned by the Postgres store's locked row lookup when the
// call does not exist; WithCallLock handles it by creating the row.
var ErrNotFound = errors.New("store: call not found")

// ErrDuplicatePacket is returned by InsertPacket when (call_id, sequence)
// already exists.
var ErrDuplicatePacket = errors.New("store: duplicate packet")

// ErrTransient marks a store failure the caller may retry a bounded number
// of times (lock timeouts, serialization failures, lost connections).
// Implementations wrap the underlying driver error with this sentinel via
// errors.Join or fmt.Errorf %w so callers can errors.Is against it.
var ErrTransient = errors.New("store: transient failure")

// CallMutator is the callback shape used by WithCallLock: it receives the
// call row, freshly created at calltrack.StateInProgress if it did not
// already exist, and returns the row to persist plus whatever result the
// caller wants propagated out of the transaction. call is never nil.
type CallMutator func(ctx context.Context, call *calltrack.Call) (*calltrack.Call, any, error)

// Store is the persistence contract consumed by the call engine. It never
// exposes ad-hoc queries: every operation the engine needs is named here.
type Store interface {
	// WithCallLock begins an exclusive-lock transaction on call_id (creating
	// the row at calltrack.StateInProgress if absent), invokes fn with the
	// current row, and on a non-nil returned row persists it before
	// releasing the lock on commit. A nil error from fn with a nil returned
	// row leaves the stored row untouched. Any error aborts the transaction.
	WithCallLock(ctx context.Context, callID string, fn CallMutator) (any, error)

	// InsertPacket persists a packet, returning ErrDuplicatePacket if
	// (call_id, sequence) already exists. Must be atomic against concurrent
	// inserts of the same key. May be called either inside or outside a
	// WithCallLock transaction, per §4.5's best-effort persistence rule for
	// terminal-state calls.
	InsertPacket(ctx context.Context, p packets.Packet) error

	// ListPacketsOrdered returns every packet for call_id in ascending
	// sequence order.
	ListPacketsOrdered(ctx context.Context, callID string) ([]packets.Packet, error)
}
