// Package eventlog defines the append-only event store the account
// aggregates are derived from: a per-aggregate ordered sequence with an
// optimistic expected-version check, plus a globally ordered feed for
// subscribers.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/iho/shardbank/internal/domain"
)

var (
	// ErrVersionConflict is returned when an append's expected version
	// does not match the stored history. The caller rehydrates and
	// retries; a duplicate append is rejected instead of double-applied.
	ErrVersionConflict = errors.New("event log version conflict")
)

// Record is one persisted event: the aggregate-scoped sequence number makes
// per-aggregate order explicit, the global sequence orders the whole feed.
type Record struct {
	GlobalSeq   int64
	AggregateID string
	Sequence    int64
	Kind        string
	Payload     []byte
	Timestamp   time.Time
}

// Decode deserializes the record payload back into a domain event.
func (r Record) Decode() (domain.Event, error) {
	return domain.UnmarshalEvent(r.Kind, r.Payload)
}

// Appender appends events to one aggregate's history.
type Appender interface {
	// Append stores events with sequence numbers expectedVersion+1
	// onward. It fails with ErrVersionConflict if the aggregate's
	// history has moved past expectedVersion.
	Append(ctx context.Context, aggregateID string, expectedVersion int64, events []domain.Event) ([]Record, error)
}

// Reader reads stored history.
type Reader interface {
	// ReadFrom returns one aggregate's records with sequence >= fromSeq,
	// in sequence order.
	ReadFrom(ctx context.Context, aggregateID string, fromSeq int64) ([]Record, error)

	// ReadGlobal returns up to limit records with global sequence >
	// afterGlobalSeq, in global order. An empty kinds filter matches
	// every kind.
	ReadGlobal(ctx context.Context, afterGlobalSeq int64, kinds []string, limit int) ([]Record, error)
}

// Log is the full event store contract.
type Log interface {
	Appender
	Reader
}

// DecodeAll decodes a slice of records into domain events, preserving order.
func DecodeAll(records []Record) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(records))
	for _, rec := range records {
		e, err := rec.Decode()
		if err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, nil
}
