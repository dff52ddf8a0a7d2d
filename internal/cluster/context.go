// Package cluster holds the explicit cluster context a node carries: its own
// identity, the membership view, the shard ring, and singleton placement via
// leases. The context is constructed in main and passed down; there is no
// process-wide ambient instance.
package cluster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotMember is returned when the configured self address is not in
	// the membership list.
	ErrNotMember = errors.New("self node is not part of the cluster membership")
)

// Node is one cluster member. Name is stable across restarts; Addr is the
// HTTP address other members reach it on.
type Node struct {
	Name string
	Addr string
}

// Config configures a cluster context.
type Config struct {
	// SelfAddr is this node's advertised address.
	SelfAddr string
	// Members lists every cluster member as name=addr pairs.
	Members []Node
	// ShardCount partitions the aggregate id space.
	ShardCount int

	Logger zerolog.Logger
}

// Context is the cluster view a node operates with.
type Context struct {
	instanceID string
	self       Node
	members    []Node
	ring       *Ring
	logger     zerolog.Logger
}

// New validates the membership view and builds the context. The instance id
// distinguishes restarts of the same node, which matters for lease holders.
func New(cfg Config) (*Context, error) {
	if len(cfg.Members) == 0 {
		return nil, errors.New("cluster membership is empty")
	}

	var self Node
	found := false
	for _, n := range cfg.Members {
		if n.Addr == cfg.SelfAddr {
			self = n
			found = true
			break
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, cfg.SelfAddr)
	}

	c := &Context{
		instanceID: uuid.NewString(),
		self:       self,
		members:    cfg.Members,
		ring:       NewRing(cfg.ShardCount, cfg.Members),
		logger:     cfg.Logger,
	}

	c.logger.Info().
		Str("node", self.Name).
		Str("addr", self.Addr).
		Int("members", len(cfg.Members)).
		Int("shards", c.ring.ShardCount()).
		Msg("cluster context initialized")

	return c, nil
}

// ParseMembers parses a comma separated list of name=addr pairs.
func ParseMembers(spec string) ([]Node, error) {
	var nodes []Node
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid cluster member %q, want name=addr", part)
		}

		nodes = append(nodes, Node{Name: name, Addr: addr})
	}

	return nodes, nil
}

// InstanceID identifies this process instance.
func (c *Context) InstanceID() string {
	return c.instanceID
}

// Self returns this node.
func (c *Context) Self() Node {
	return c.self
}

// Members returns the membership view.
func (c *Context) Members() []Node {
	return c.members
}

// OwnerOf resolves the node that owns an aggregate id.
func (c *Context) OwnerOf(aggregateID string) Node {
	return c.ring.OwnerOf(aggregateID)
}

// IsLocal reports whether this node owns the aggregate id.
func (c *Context) IsLocal(aggregateID string) bool {
	return c.ring.OwnerOf(aggregateID).Addr == c.self.Addr
}

// Close shuts the context down.
func (c *Context) Close() {
	c.logger.Info().Str("node", c.self.Name).Msg("cluster context closed")
}
