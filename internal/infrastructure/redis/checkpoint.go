package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CheckpointStore persists per-consumer stream offsets so a restarted
// subscriber resumes where it left off instead of replaying the whole feed.
type CheckpointStore struct {
	client *redis.Client
	prefix string
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{
		client: client,
		prefix: "checkpoint:",
	}
}

// Get returns the last saved offset for a consumer, 0 when none exists.
func (s *CheckpointStore) Get(ctx context.Context, consumer string) (int64, error) {
	value, err := s.client.Get(ctx, s.prefix+consumer).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", consumer, err)
	}

	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s: %w", consumer, err)
	}

	return offset, nil
}

// Set saves a consumer's offset.
func (s *CheckpointStore) Set(ctx context.Context, consumer string, offset int64) error {
	err := s.client.Set(ctx, s.prefix+consumer, strconv.FormatInt(offset, 10), 0).Err()
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", consumer, err)
	}

	return nil
}
