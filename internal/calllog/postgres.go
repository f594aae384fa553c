package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCallRecords = `
CREATE TABLE IF NOT EXISTS call_records (
    id             BIGSERIAL    PRIMARY KEY,
    call_id        TEXT         NOT NULL,
    started_at     TIMESTAMPTZ  NOT NULL,
    ended_at       TIMESTAMPTZ  NOT NULL,
    outcome        TEXT         NOT NULL,
    turns          INT          NOT NULL DEFAULT 0,
    tool_calls     INT          NOT NULL DEFAULT 0,
    barge_ins      INT          NOT NULL DEFAULT 0,
    transferred_to TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_call_records_started_at
    ON call_records (started_at);
`

// PostgresStore is a [Store] backed by a call_records table. All methods are
// safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the
// call_records table exists. Call [PostgresStore.Close] when done.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCallRecords); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Write implements [Store].
func (s *PostgresStore) Write(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO call_records
		    (call_id, started_at, ended_at, outcome, turns, tool_calls, barge_ins, transferred_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		rec.CallID,
		rec.StartedAt,
		rec.EndedAt,
		string(rec.Outcome),
		rec.Turns,
		rec.ToolCalls,
		rec.BargeIns,
		rec.TransferredTo,
	)
	if err != nil {
		return fmt.Errorf("calllog: write record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, window time.Duration) ([]Record, error) {
	const q = `
		SELECT call_id, started_at, ended_at, outcome, turns, tool_calls, barge_ins, transferred_to
		FROM   call_records
		WHERE  started_at >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY started_at DESC`

	rows, err := s.pool.Query(ctx, q, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("calllog: recent: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			rec     Record
			outcome string
		)
		err := row.Scan(
			&rec.CallID,
			&rec.StartedAt,
			&rec.EndedAt,
			&outcome,
			&rec.Turns,
			&rec.ToolCalls,
			&rec.BargeIns,
			&rec.TransferredTo,
		)
		rec.Outcome = Outcome(outcome)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan records: %w", err)
	}
	return records, nil
}
