// Package postgres implements the durable event store on PostgreSQL. The
// UNIQUE (aggregate_id, sequence) index is the optimistic-concurrency check:
// a duplicate append loses the race at the index instead of double-applying.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
)

const pgErrUniqueViolation = "23505"

// Store implements eventlog.Log on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append implements eventlog.Appender.
func (s *Store) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []domain.Event) ([]eventlog.Record, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM account_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}

	if current != expectedVersion {
		return nil, fmt.Errorf("%w: aggregate %s at version %d, expected %d",
			eventlog.ErrVersionConflict, aggregateID, current, expectedVersion)
	}

	now := time.Now().UTC()

	appended := make([]eventlog.Record, 0, len(events))
	for i, e := range events {
		payload, err := domain.MarshalEvent(e)
		if err != nil {
			return nil, err
		}

		rec := eventlog.Record{
			AggregateID: aggregateID,
			Sequence:    expectedVersion + int64(i) + 1,
			Kind:        e.Kind(),
			Payload:     payload,
			Timestamp:   now,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO account_events (aggregate_id, sequence, kind, payload, occurred_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING global_seq`,
			rec.AggregateID, rec.Sequence, rec.Kind, rec.Payload, rec.Timestamp,
		).Scan(&rec.GlobalSeq)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: aggregate %s sequence %d already stored",
					eventlog.ErrVersionConflict, aggregateID, rec.Sequence)
			}

			return nil, fmt.Errorf("insert event: %w", err)
		}

		appended = append(appended, rec)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return appended, nil
}

// ReadFrom implements eventlog.Reader.
func (s *Store) ReadFrom(ctx context.Context, aggregateID string, fromSeq int64) ([]eventlog.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT global_seq, aggregate_id, sequence, kind, payload, occurred_at
		 FROM account_events
		 WHERE aggregate_id = $1 AND sequence >= $2
		 ORDER BY sequence`,
		aggregateID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("read aggregate history: %w", err)
	}

	return scanRecords(rows)
}

// ReadGlobal implements eventlog.Reader.
func (s *Store) ReadGlobal(ctx context.Context, afterGlobalSeq int64, kinds []string, limit int) ([]eventlog.Record, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if len(kinds) > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT global_seq, aggregate_id, sequence, kind, payload, occurred_at
			 FROM account_events
			 WHERE global_seq > $1 AND kind = ANY($2)
			 ORDER BY global_seq
			 LIMIT $3`,
			afterGlobalSeq, kinds, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT global_seq, aggregate_id, sequence, kind, payload, occurred_at
			 FROM account_events
			 WHERE global_seq > $1
			 ORDER BY global_seq
			 LIMIT $2`,
			afterGlobalSeq, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("read global feed: %w", err)
	}

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]eventlog.Record, error) {
	defer rows.Close()

	var out []eventlog.Record
	for rows.Next() {
		var rec eventlog.Record
		err := rows.Scan(&rec.GlobalSeq, &rec.AggregateID, &rec.Sequence, &rec.Kind, &rec.Payload, &rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan event record: %w", err)
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
