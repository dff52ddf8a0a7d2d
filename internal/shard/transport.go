package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iho/shardbank/internal/cluster"
	"github.com/iho/shardbank/internal/domain"
)

// commandPath is the internal endpoint the owning node accepts forwarded
// commands on.
const commandPath = "/internal/v1/commands"

// HTTPTransport implements CommandTransport over the nodes' HTTP API.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// Forward implements CommandTransport.
func (t *HTTPTransport) Forward(ctx context.Context, node cluster.Node, env domain.CommandEnvelope) (Ack, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Ack{}, fmt.Errorf("marshal command envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Addr+commandPath, bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("forward to %s: %w", node.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Ack{}, fmt.Errorf("forward to %s: status %d: %s", node.Name, resp.StatusCode, payload)
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("decode forward ack: %w", err)
	}

	return ack, nil
}
