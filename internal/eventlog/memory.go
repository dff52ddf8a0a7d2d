package eventlog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/iho/shardbank/internal/domain"
)

// MemoryLog is an in-process Log used by tests and single-node development
// runs. It enforces the same expected-version contract as the durable store.
type MemoryLog struct {
	mu      sync.RWMutex
	global  []Record
	streams map[string][]Record
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string][]Record),
	}
}

// Append implements Appender.
func (l *MemoryLog) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []domain.Event) ([]Record, error) {
	if len(events) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[aggregateID]
	if int64(len(stream)) != expectedVersion {
		return nil, fmt.Errorf("%w: aggregate %s at version %d, expected %d",
			ErrVersionConflict, aggregateID, len(stream), expectedVersion)
	}

	now := time.Now().UTC()

	appended := make([]Record, 0, len(events))
	for i, e := range events {
		payload, err := domain.MarshalEvent(e)
		if err != nil {
			return nil, err
		}

		rec := Record{
			GlobalSeq:   int64(len(l.global)) + 1,
			AggregateID: aggregateID,
			Sequence:    expectedVersion + int64(i) + 1,
			Kind:        e.Kind(),
			Payload:     payload,
			Timestamp:   now,
		}

		l.global = append(l.global, rec)
		stream = append(stream, rec)
		appended = append(appended, rec)
	}

	l.streams[aggregateID] = stream

	return appended, nil
}

// ReadFrom implements Reader.
func (l *MemoryLog) ReadFrom(ctx context.Context, aggregateID string, fromSeq int64) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[aggregateID]

	out := make([]Record, 0, len(stream))
	for _, rec := range stream {
		if rec.Sequence >= fromSeq {
			out = append(out, rec)
		}
	}

	return out, nil
}

// ReadGlobal implements Reader.
func (l *MemoryLog) ReadGlobal(ctx context.Context, afterGlobalSeq int64, kinds []string, limit int) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, rec := range l.global {
		if rec.GlobalSeq <= afterGlobalSeq {
			continue
		}

		if len(kinds) > 0 && !slices.Contains(kinds, rec.Kind) {
			continue
		}

		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}
