// Package kafka exports device presence alerts to a Kafka topic.
//
// The Exporter implements realtime.AlertSink. Messages are keyed by device
// ID so every alert for one device lands on the same partition and keeps
// its order. Writes are asynchronous: a broker outage is logged and never
// stalls the realtime broadcast loop.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/realtime"
)

// ErrNoBrokers is returned by New when no broker address is configured.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

const (
	batchTimeout = 50 * time.Millisecond
	writeTimeout = 5 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the exporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Logger defines the logging interface used by the Exporter.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Exporter publishes alerts to Kafka.
type Exporter struct {
	writer MessageWriter
	topic  string
}

// New creates an exporter writing to cfg.Topic on cfg.Brokers.
func New(cfg config.KafkaConfig, logger Logger) (*Exporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if logger == nil {
		logger = noopLogger{}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka alert export failed", "topic", cfg.Topic, "count", len(msgs), "error", err)
			}
		},
	}
	return newWithWriter(w, cfg.Topic), nil
}

func newWithWriter(w MessageWriter, topic string) *Exporter {
	return &Exporter{writer: w, topic: topic}
}

// ExportAlerts implements realtime.AlertSink.
func (e *Exporter) ExportAlerts(ctx context.Context, alerts []realtime.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding alert for %s: %w", a.DeviceID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.DeviceID),
			Value: value,
			Time:  time.UnixMilli(a.Timestamp),
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(a.Kind)},
			},
		})
	}

	if err := e.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing %d alerts to %s: %w", len(msgs), e.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}
