package realtime

import "github.com/nerrad567/fleetlink/internal/device"

// Message types.
const (
	TypeState       = "state"
	TypeAlert       = "alert"
	TypeCommandAck  = "commandAck"
	TypePong        = "pong"
	TypeError       = "error"
	TypeDeviceState = "deviceState"

	TypeGetState       = "getState"
	TypeGetDeviceState = "getDeviceState"
	TypeCommand        = "command"
	TypePing           = "ping"
)

// Message is the envelope for every frame in either direction.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// StatePayload carries a full snapshot. Timestamp is Unix milliseconds.
type StatePayload struct {
	Devices   map[string]device.View `json:"devices"`
	Timestamp int64                  `json:"timestamp"`
}

// CommandRequest is the payload of a viewer's command message.
type CommandRequest struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
}

// DeviceStateRequest is the payload of a getDeviceState message.
type DeviceStateRequest struct {
	DeviceID string `json:"deviceId"`
}

// DeviceStatePayload answers a getDeviceState message. State is null for a
// device the store does not hold.
type DeviceStatePayload struct {
	DeviceID string       `json:"deviceId"`
	State    *device.View `json:"state"`
}

// CommandAck reports the outcome of a command to the viewer that sent it.
type CommandAck struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
	Error    string `json:"error,omitempty"`
}

// AlertKind is the presence transition an alert reports.
type AlertKind string

// Presence transitions.
const (
	AlertConnected    AlertKind = "connected"
	AlertDisconnected AlertKind = "disconnected"
)

// Alert reports a device appearing in or vanishing from the broadcast
// snapshot. Timestamp is Unix milliseconds.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	DeviceID  string    `json:"deviceId"`
	Timestamp int64     `json:"timestamp"`
}

// ErrorPayload is sent for frames the hub cannot process.
type ErrorPayload struct {
	Message string `json:"message"`
}
