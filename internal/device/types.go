package device

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// FacetKind identifies which aspect of a device a message reports.
type FacetKind string

// Facet kinds carried on device topics.
const (
	FacetLED    FacetKind = "led"
	FacetLight  FacetKind = "light"
	FacetStatus FacetKind = "status"
	FacetSensor FacetKind = "sensor"
)

// Facet is one independently reported aspect of a device.
//
// Implementations are LEDState, LightState, Status and SensorReading.
type Facet interface {
	Kind() FacetKind

	// apply stores the facet on r and reports whether the visible value
	// changed.
	apply(r *Record, now time.Time) bool
}

// LEDState is the reported state of a device's LED.
type LEDState struct {
	On  bool `json:"on"`
	Pin int  `json:"pin"`
}

// Kind implements Facet.
func (LEDState) Kind() FacetKind { return FacetLED }

func (s LEDState) apply(r *Record, _ time.Time) bool {
	if r.LED != nil && *r.LED == s {
		return false
	}
	r.LED = &s
	return true
}

// LightState is the reading of a device's light sensor.
type LightState string

// Light sensor readings. LightUnknown records that the device reported a
// value fleetlink could not interpret.
const (
	LightOn      LightState = "on"
	LightOff     LightState = "off"
	LightUnknown LightState = "unknown"
)

// Kind implements Facet.
func (LightState) Kind() FacetKind { return FacetLight }

func (s LightState) apply(r *Record, _ time.Time) bool {
	if r.Light != nil && *r.Light == s {
		return false
	}
	r.Light = &s
	return true
}

// Status is a device's self-reported health.
type Status struct {
	Status   string         `json:"status"`
	IP       string         `json:"ip,omitempty"`
	RSSI     *int           `json:"rssi,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	LastSeen time.Time      `json:"lastSeen"`

	// Raw is the payload as received; two statuses with equal Raw are the
	// same report.
	Raw json.RawMessage `json:"-"`
}

// Kind implements Facet.
func (Status) Kind() FacetKind { return FacetStatus }

// Offline reports whether the device announced it is going away.
func (s Status) Offline() bool {
	return strings.EqualFold(strings.TrimSpace(s.Status), "offline")
}

func (s Status) apply(r *Record, now time.Time) bool {
	changed := r.Status == nil || !bytes.Equal(r.Status.Raw, s.Raw)
	s.LastSeen = now
	cp := s.clone()
	r.Status = &cp
	return changed
}

func (s Status) clone() Status {
	out := s
	if s.RSSI != nil {
		v := *s.RSSI
		out.RSSI = &v
	}
	out.Meta = deepCopyMap(s.Meta)
	if s.Raw != nil {
		out.Raw = append(json.RawMessage(nil), s.Raw...)
	}
	return out
}

// SensorReading is the latest payload published on sensors/<type>.
type SensorReading struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Kind implements Facet.
func (SensorReading) Kind() FacetKind { return FacetSensor }

func (s SensorReading) apply(r *Record, now time.Time) bool {
	prev, ok := r.Sensors[s.Type]
	changed := !ok || !bytes.Equal(prev.Value, s.Value)
	if r.Sensors == nil {
		r.Sensors = make(map[string]SensorReading)
	}
	s.UpdatedAt = now
	s.Value = append(json.RawMessage(nil), s.Value...)
	r.Sensors[s.Type] = s
	return changed
}

// Record is everything known about one device.
// A nil facet has never been reported.
type Record struct {
	ID         string                   `json:"deviceId"`
	LED        *LEDState                `json:"led"`
	Light      *LightState              `json:"light"`
	Status     *Status                  `json:"status"`
	Sensors    map[string]SensorReading `json:"sensors,omitempty"`
	FirstSeen  time.Time                `json:"firstSeen"`
	LastUpdate time.Time                `json:"lastUpdate"`
}

// DeepCopy returns a copy sharing no memory with r.
func (r *Record) DeepCopy() Record {
	out := *r
	if r.LED != nil {
		led := *r.LED
		out.LED = &led
	}
	if r.Light != nil {
		light := *r.Light
		out.Light = &light
	}
	if r.Status != nil {
		st := r.Status.clone()
		out.Status = &st
	}
	if r.Sensors != nil {
		out.Sensors = make(map[string]SensorReading, len(r.Sensors))
		for k, v := range r.Sensors {
			v.Value = append(json.RawMessage(nil), v.Value...)
			out.Sensors[k] = v
		}
	}
	return out
}

// View is the per-device shape pushed to viewers. Both keys are always
// present; an unknown facet is null.
type View struct {
	LED   *LEDState `json:"led"`
	Light *string   `json:"light"`
}

// View projects r onto the viewer shape. A light reported as unknown
// renders the same as one never reported.
func (r Record) View() View {
	var v View
	if r.LED != nil {
		led := *r.LED
		v.LED = &led
	}
	if r.Light != nil && *r.Light != LightUnknown {
		light := string(*r.Light)
		v.Light = &light
	}
	return v
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Devices map[string]Record
	TakenAt time.Time
}

// Views returns the viewer projection of every device.
func (s Snapshot) Views() map[string]View {
	out := make(map[string]View, len(s.Devices))
	for id, r := range s.Devices {
		out[id] = r.View()
	}
	return out
}

// IDs returns the device IDs in the snapshot, sorted.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Devices))
	for id := range s.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of devices in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Devices)
}

// deepCopyMap copies decoded JSON, recursing into nested maps and slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
