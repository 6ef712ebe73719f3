package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telecom-platform/internal/calltrack"
	"telecom-platform/internal/packets"
	"telecom-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres schema this store expects (see migrations):
//
//	CREATE TABLE calls (
//	  call_id         TEXT PRIMARY KEY,
//	  state           TEXT NOT NULL,
//	  received_count  INTEGER NOT NULL DEFAULT 0,
//	  expected_total  INTEGER,
//	  expected_next   INTEGER NOT NULL DEFAULT 0,
//	  missing         INTEGER[] NOT NULL DEFAULT '{}',
//	  transcription   TEXT,
//	  sentiment       TEXT,
//	  created_at      TIMESTAMPTZ NOT NULL,
//	  updated_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE packets (
//	  id          BIGSERIAL PRIMARY KEY,
//	  call_id     TEXT NOT NULL REFERENCES calls(call_id),
//	  sequence    INTEGER NOT NULL,
//	  data        TEXT NOT NULL,
//	  timestamp   DOUBLE PRECISION NOT NULL,
//	  received_at TIMESTAMPTZ NOT NULL,
//	  UNIQUE (call_id, sequence)
//	);
//	CREATE INDEX idx_packets_call_id ON packets (call_id);

// Postgres is a database/sql-backed Store using the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-opened, already-migrated connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) WithCallLock(ctx context.Context, callID string, fn CallMutator) (any, error) {
	var result any
	err := withTxRetry(ctx, p.db, func(ctx context.Context, tx *sql.Tx) error {
		call, err := lockCall(ctx, tx, callID)
		existed := true
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			existed = false
			call = calltrack.NewCall(callID, time.Now())
		}

		toSave, res, err := fn(ctx, call)
		if err != nil {
			return err
		}
		result = res

		if toSave != nil {
			return upsertCall(ctx, tx, toSave)
		}
		if !existed {
			// fn declined to save but the row didn't exist yet: create_if_absent
			// semantics still require it to exist afterward, mirroring
			// store.Memory.WithCallLock.
			return upsertCall(ctx, tx, call)
		}
		return nil
	})
	return result, err
}

func (p *Postgres) InsertPacket(ctx context.Context, pk packets.Packet) error {
	const q = `
INSERT INTO packets (call_id, sequence, data, timestamp, received_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (call_id, sequence) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, pk.CallID, pk.Sequence, pk.Data, pk.Timestamp, pk.ReceivedAt)
	if err != nil {
		return classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyErr(err)
	}
	if n == 0 {
		return ErrDuplicatePacket
	}
	return nil
}

func (p *Postgres) ListPacketsOrdered(ctx context.Context, callID string) ([]packets.Packet, error) {
	const q = `
SELECT call_id, sequence, data, timestamp, received_at
FROM packets
WHERE call_id = $1
ORDER BY sequence ASC
`
	rows, err := p.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []packets.Packet
	for rows.Next() {
		var pk packets.Packet
		if err := rows.Scan(&pk.CallID, &pk.Sequence, &pk.Data, &pk.Timestamp, &pk.ReceivedAt); err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

func lockCall(ctx context.Context, tx *sql.Tx, callID string) (*calltrack.Call, error) {
	const q = `
SELECT call_id, state, received_count, expected_total, expected_next, missing,
       transcription, sentiment, created_at, updated_at
FROM calls
WHERE call_id = $1
FOR UPDATE
`
	var c calltrack.Call
	var missing []int64
	err := tx.QueryRowContext(ctx, q, callID).Scan(
		&c.CallID,
		&c.State,
		&c.ReceivedCount,
		&c.ExpectedTotal,
		&c.ExpectedNext,
		pgArrayScanner{&missing},
		&c.Transcription,
		&c.Sentiment,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyErr(err)
	}
	c.Missing = int64SliceToInt(missing)
	return &c, nil
}

func upsertCall(ctx context.Context, tx *sql.Tx, c *calltrack.Call) error {
	const q = `
INSERT INTO calls (call_id, state, received_count, expected_total, expected_next, missing,
                    transcription, sentiment, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (call_id) DO UPDATE SET
  state = EXCLUDED.state,
  received_count = EXCLUDED.received_count,
  expected_total = EXCLUDED.expected_total,
  expected_next = EXCLUDED.expected_next,
  missing = EXCLUDED.missing,
  transcription = EXCLUDED.transcription,
  sentiment = EXCLUDED.sentiment,
  updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q,
		c.CallID, c.State, c.ReceivedCount, c.ExpectedTotal, c.ExpectedNext, intSliceToInt64(c.Missing),
		c.Transcription, c.Sentiment, c.CreatedAt, c.UpdatedAt,
	)
	return classifyErr(err)
}

// withTxRetry runs fn inside utils.WithTx, retrying a small fixed number of
// times on transient errors (serialization failures, deadlocks) as called
// for by the StoreError policy: brief retry at the store boundary, then
// propagate.
func withTxRetry(ctx context.Context, db *sql.DB, fn utils.TxFunc) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = utils.WithTx(ctx, db, nil, fn)
		if err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
	}
	return err
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
	}
	return err
}

// pgArrayScanner adapts an INTEGER[] column into a []int64 destination
// without pulling in a full array-type dependency; pgx's stdlib driver
// scans Postgres integer arrays into []int64 directly when given a pointer
// to one.
type pgArrayScanner struct {
	dest *[]int64
}

func (s pgArrayScanner) Scan(src any) error {
	if src == nil {
		*s.dest = nil
		return nil
	}
	v, ok := src.([]int64)
	if !ok {
		return fmt.Errorf("store: unexpected type %T for integer array column", src)
	}
	*s.dest = v
	return nil
}

func int64SliceToInt(in []int64) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func intSliceToInt64(in []int) []int64 {
	if in == nil {
		return []int64{}
	}
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
