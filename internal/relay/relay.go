// Package relay forwards viewer commands to devices over the broker.
//
// A command is published once, never retained and never retried. The relay
// does not touch the device store: the device's own state report is the
// only thing that changes what viewers see.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fleetlink/internal/device"
)

// ErrDeliveryFailed is returned when the broker did not accept a command.
var ErrDeliveryFailed = errors.New("relay: delivery failed")

// Format selects the command payload encoding.
type Format string

// Command payload formats.
const (
	// FormatJSON publishes {"command":"on","timestamp":1700000000000}.
	FormatJSON Format = "json"
	// FormatToken publishes the bare command word.
	FormatToken Format = "token"
)

// ParseFormat maps a configured format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatJSON, FormatToken:
		return f, nil
	default:
		return "", fmt.Errorf("relay: unknown command format %q", name)
	}
}

// Publisher is the broker client commands are sent through.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Relay publishes device commands.
type Relay struct {
	pub    Publisher
	topics device.Topics
	format Format
	qos    byte
	now    func() time.Time
}

// New creates a relay.
func New(pub Publisher, topics device.Topics, format Format, qos byte) *Relay {
	return &Relay{
		pub:    pub,
		topics: topics,
		format: format,
		qos:    qos,
		now:    time.Now,
	}
}

type commandPayload struct {
	Command   device.Command `json:"command"`
	Timestamp int64          `json:"timestamp"`
}

// Relay publishes cmd to the device's command topic.
//
// The caller validates cmd beforehand; an invalid command or device ID is
// rejected without publishing. Any publish failure, including a
// disconnected broker, is reported as ErrDeliveryFailed.
func (r *Relay) Relay(ctx context.Context, deviceID string, cmd device.Command) error {
	if err := device.ValidateID(deviceID); err != nil {
		return err
	}
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", device.ErrUnknownCommand, cmd)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if r.pub == nil {
		return fmt.Errorf("%w: no broker connection", ErrDeliveryFailed)
	}

	payload, err := r.encode(cmd)
	if err != nil {
		return fmt.Errorf("%w: encoding command: %w", ErrDeliveryFailed, err)
	}

	if err := r.pub.Publish(r.topics.Command(deviceID), payload, r.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (r *Relay) encode(cmd device.Command) ([]byte, error) {
	if r.format == FormatToken {
		return []byte(cmd), nil
	}
	return json.Marshal(commandPayload{
		Command:   cmd,
		Timestamp: r.now().UnixMilli(),
	})
}
