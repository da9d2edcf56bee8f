package device

import (
	"fmt"
	"strings"
)

const topicSeparator = "/"

// Address is what a device topic decodes to.
type Address struct {
	DeviceID string
	Facet    FacetKind

	// SensorType is set for FacetSensor only, e.g. "temperature" in
	// devices/esp32-01/sensors/temperature.
	SensorType string
}

// Topics encodes and decodes the device topic layout
// <namespace>/<deviceId>/<facet-path>.
//
//	topics := device.Topics{Namespace: "devices"}
//	topics.Command("esp32-01")
//	// Returns: "devices/esp32-01/commands"
type Topics struct {
	Namespace string
}

// ===== Decoding =====

// Decode parses an inbound topic. It is purely syntactic: anything that is
// not a recognised device topic yields ok == false, never an error.
//
// Recognised facet paths: led/state, light/state, status, sensors/<type>.
func (t Topics) Decode(topic string) (addr Address, ok bool) {
	parts := strings.Split(topic, topicSeparator)
	if len(parts) < 3 || parts[0] != t.Namespace || parts[1] == "" {
		return Address{}, false
	}

	addr.DeviceID = parts[1]
	path := parts[2:]

	switch {
	case len(path) == 2 && path[0] == "led" && path[1] == "state":
		addr.Facet = FacetLED
	case len(path) == 2 && path[0] == "light" && path[1] == "state":
		addr.Facet = FacetLight
	case len(path) == 1 && path[0] == "status":
		addr.Facet = FacetStatus
	case len(path) >= 2 && path[0] == "sensors":
		for _, seg := range path[1:] {
			if seg == "" {
				return Address{}, false
			}
		}
		addr.Facet = FacetSensor
		addr.SensorType = strings.Join(path[1:], topicSeparator)
	default:
		return Address{}, false
	}

	return addr, true
}

// ===== Subscription patterns =====

// LEDStates matches every device's LED state.
//
// Pattern: devices/+/led/state
func (t Topics) LEDStates() string {
	return fmt.Sprintf("%s/+/led/state", t.Namespace)
}

// LightStates matches every device's light sensor state.
//
// Pattern: devices/+/light/state
func (t Topics) LightStates() string {
	return fmt.Sprintf("%s/+/light/state", t.Namespace)
}

// Statuses matches every device's status report.
//
// Pattern: devices/+/status
func (t Topics) Statuses() string {
	return fmt.Sprintf("%s/+/status", t.Namespace)
}

// Sensors matches every sensor reading below any device.
//
// Pattern: devices/+/sensors/#
func (t Topics) Sensors() string {
	return fmt.Sprintf("%s/+/sensors/#", t.Namespace)
}

// Subscriptions returns every pattern the aggregator listens on.
func (t Topics) Subscriptions() []string {
	return []string{t.LEDStates(), t.LightStates(), t.Statuses(), t.Sensors()}
}

// ===== Per-device topics =====

// Command is the outbound command topic for a device.
//
// Example: devices/esp32-01/commands
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", t.Namespace, deviceID)
}

// LEDState is the topic a device publishes its LED state on.
//
// Example: devices/esp32-01/led/state
func (t Topics) LEDState(deviceID string) string {
	return fmt.Sprintf("%s/%s/led/state", t.Namespace, deviceID)
}

// LightState is the topic a device publishes its light reading on.
//
// Example: devices/esp32-01/light/state
func (t Topics) LightState(deviceID string) string {
	return fmt.Sprintf("%s/%s/light/state", t.Namespace, deviceID)
}

// Status is the topic a device publishes its status on.
//
// Example: devices/esp32-01/status
func (t Topics) Status(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", t.Namespace, deviceID)
}

// Sensor is the topic for one sensor reading.
//
// Example: devices/esp32-01/sensors/temperature
func (t Topics) Sensor(deviceID, sensorType string) string {
	return fmt.Sprintf("%s/%s/sensors/%s", t.Namespace, deviceID, sensorType)
}

// ValidateID checks that id can stand as a single topic segment.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: %q contains a topic separator or wildcard", ErrInvalidID, id)
	}
	return nil
}
