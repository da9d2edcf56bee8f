package aggregator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleetlink/internal/device"
	"github.com/nerrad567/fleetlink/internal/infrastructure/mqtt"
)

// EventKind says what happened to a device record.
type EventKind string

const (
	// EventUpdated means a facet was written.
	EventUpdated EventKind = "updated"

	// EventRemoved means the device reported offline and was dropped.
	EventRemoved EventKind = "removed"
)

// Event describes one accepted message after it has been applied.
type Event struct {
	Kind     EventKind
	DeviceID string
	Facet    device.FacetKind

	// Changed is false when the message left the visible state as it was,
	// e.g. a repeated LED report or an offline for an unknown device.
	Changed bool
	At      time.Time
}

// Notifier receives events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Subscriber is the broker client the aggregator listens on.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by the Aggregator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Stats are running message counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Ignored  uint64 `json:"ignored"`
	Dropped  uint64 `json:"dropped"`
	Removed  uint64 `json:"removed"`
}

// Aggregator applies device messages to a store.
type Aggregator struct {
	store    *device.Store
	topics   device.Topics
	notifier Notifier
	logger   Logger

	// mu serialises message processing.
	mu sync.Mutex

	accepted atomic.Uint64
	ignored  atomic.Uint64
	dropped  atomic.Uint64
	removed  atomic.Uint64
}

// New creates an aggregator writing to store. notifier may be nil.
func New(store *device.Store, topics device.Topics, notifier Notifier) *Aggregator {
	return &Aggregator{
		store:    store,
		topics:   topics,
		notifier: notifier,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the aggregator.
func (a *Aggregator) SetLogger(logger Logger) {
	a.logger = logger
}

// Subscribe registers HandleMessage for every device topic pattern.
func (a *Aggregator) Subscribe(sub Subscriber, qos byte) error {
	for _, pattern := range a.topics.Subscriptions() {
		if err := sub.Subscribe(pattern, qos, a.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", pattern, err)
		}
	}
	return nil
}

// HandleMessage processes one broker message.
//
// Unknown topics return nil. Malformed payloads return an error wrapping
// device.ErrInvalidPayload; the store is left untouched and no event is
// emitted.
func (a *Aggregator) HandleMessage(topic string, payload []byte) error {
	addr, ok := a.topics.Decode(topic)
	if !ok {
		a.ignored.Add(1)
		return nil
	}

	facet, err := decodeFacet(addr, payload)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Debug("dropping malformed device message",
			"topic", topic,
			"device_id", addr.DeviceID,
			"facet", addr.Facet,
			"error", err,
		)
		return fmt.Errorf("device %s: %w", addr.DeviceID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ev := Event{DeviceID: addr.DeviceID, Facet: addr.Facet, At: time.Now()}

	if st, ok := facet.(device.Status); ok && st.Offline() {
		ev.Kind = EventRemoved
		ev.Changed = a.store.Remove(addr.DeviceID)
		a.removed.Add(1)
	} else {
		ev.Kind = EventUpdated
		ev.Changed = a.store.Upsert(addr.DeviceID, facet)
	}
	a.accepted.Add(1)

	if a.notifier != nil {
		a.notifier.Notify(ev)
	}
	return nil
}

// Stats returns the current counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Accepted: a.accepted.Load(),
		Ignored:  a.ignored.Load(),
		Dropped:  a.dropped.Load(),
		Removed:  a.removed.Load(),
	}
}

func decodeFacet(addr device.Address, payload []byte) (device.Facet, error) {
	switch addr.Facet {
	case device.FacetLED:
		return device.DecodeLED(payload)
	case device.FacetLight:
		return device.DecodeLight(payload)
	case device.FacetStatus:
		return device.DecodeStatus(payload)
	case device.FacetSensor:
		return device.DecodeSensor(addr.SensorType, payload)
	default:
		return nil, fmt.Errorf("%w: unhandled facet %q", device.ErrInvalidPayload, addr.Facet)
	}
}
