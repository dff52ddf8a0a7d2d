package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/shardbank/internal/shard"
)

// ackTTL keeps cached acknowledgments well past the forward retry window,
// which is bounded by the router's dispatch timeout.
const ackTTL = 10 * time.Minute

// AckStore remembers the acknowledgment produced for each forwarded command
// id. A node that executed a command but lost the response answers the
// retried delivery from this cache instead of executing again.
type AckStore struct {
	client *redis.Client
	prefix string
}

// NewAckStore creates a new AckStore.
func NewAckStore(client *redis.Client) *AckStore {
	return &AckStore{
		client: client,
		prefix: "command-ack:",
	}
}

// Get returns the cached acknowledgment for a command id, reporting whether
// one exists.
func (s *AckStore) Get(ctx context.Context, commandID string) (shard.Ack, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+commandID).Bytes()
	if errors.Is(err, redis.Nil) {
		return shard.Ack{}, false, nil
	}
	if err != nil {
		return shard.Ack{}, false, fmt.Errorf("read ack %s: %w", commandID, err)
	}

	var ack shard.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return shard.Ack{}, false, fmt.Errorf("decode ack %s: %w", commandID, err)
	}

	return ack, true, nil
}

// Put caches the acknowledgment for a command id.
func (s *AckStore) Put(ctx context.Context, commandID string, ack shard.Ack) error {
	raw, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("encode ack %s: %w", commandID, err)
	}

	if err := s.client.Set(ctx, s.prefix+commandID, raw, ackTTL).Err(); err != nil {
		return fmt.Errorf("save ack %s: %w", commandID, err)
	}

	return nil
}
