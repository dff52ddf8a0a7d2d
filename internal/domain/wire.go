package domain

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// CommandEnvelope is the wire form of a command when it is forwarded between
// nodes: the sharding key, the kind discriminator, and the kind-specific
// payload. CommandID names one logical dispatch; every transport retry of
// the same forward carries the same id, which is what lets the receiving
// node answer a redelivery from its ack cache instead of executing again.
type CommandEnvelope struct {
	CommandID   string          `json:"command_id"`
	AggregateID string          `json:"aggregate_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

// EncodeCommand wraps a command into its wire envelope, minting a fresh
// CommandID for it.
func EncodeCommand(cmd Command) (CommandEnvelope, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal %s: %w", cmd.CommandKind(), err)
	}

	return CommandEnvelope{
		CommandID:   ulid.Make().String(),
		AggregateID: cmd.AggregateID(),
		Kind:        cmd.CommandKind(),
		Payload:     payload,
	}, nil
}

// DecodeCommand unwraps a wire envelope back into a command.
func DecodeCommand(env CommandEnvelope) (Command, error) {
	var (
		cmd Command
		err error
	)

	switch env.Kind {
	case CommandOpenNewAccount:
		var c OpenNewAccount
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	case CommandTransferMoney:
		var c TransferMoney
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	case CommandReceiveMoney:
		var c ReceiveMoney
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}

	return cmd, nil
}
