package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// maxTokenLength bounds bare-word status payloads. Light readings have
	// no bound; anything that is not on or off is unknown.
	maxTokenLength = 64

	ledSchemaURL = "led-state.json"
	ledSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "on":  {"type": "boolean"},
    "pin": {"type": "integer"}
  },
  "required": ["on", "pin"]
}`

	statusSchemaURL = "status.json"
	statusSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "status": {"type": "string"},
    "ip":     {"type": "string"},
    "rssi":   {"type": "integer"}
  }
}`
)

var (
	ledSchema    = jsonschema.MustCompileString(ledSchemaURL, ledSchemaSrc)
	statusSchema = jsonschema.MustCompileString(statusSchemaURL, statusSchemaSrc)
)

// DecodeLED parses an LED state payload such as {"on":true,"pin":2}.
func DecodeLED(payload []byte) (LEDState, error) {
	doc, err := decodeJSON(payload)
	if err != nil {
		return LEDState{}, err
	}
	if err := ledSchema.Validate(doc); err != nil {
		return LEDState{}, fmt.Errorf("%w: led: %v", ErrInvalidPayload, err)
	}

	// The schema accepts any integral number, including 2.0 and 2e0.
	var raw struct {
		On  bool        `json:"on"`
		Pin json.Number `json:"pin"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return LEDState{}, fmt.Errorf("%w: led: %v", ErrInvalidPayload, err)
	}
	pin, err := raw.Pin.Float64()
	if err != nil || pin != math.Trunc(pin) || pin < math.MinInt32 || pin > math.MaxInt32 {
		return LEDState{}, fmt.Errorf("%w: led: pin %s out of range", ErrInvalidPayload, raw.Pin)
	}
	return LEDState{On: raw.On, Pin: int(pin)}, nil
}

// DecodeLight parses a light sensor reading. The payload is a short token;
// surrounding whitespace and quotes are ignored and case does not matter.
// Tokens other than on and off, whatever their length, decode to
// LightUnknown so a garbled reading replaces the previous one. The error
// is always nil.
func DecodeLight(payload []byte) (LightState, error) {
	switch LightState(strings.ToLower(trimToken(payload))) {
	case LightOn:
		return LightOn, nil
	case LightOff:
		return LightOff, nil
	default:
		return LightUnknown, nil
	}
}

// DecodeStatus parses a status payload. Devices send either a JSON object
// ({"status":"online","ip":"10.0.0.7","rssi":-61}) or a bare word such as
// online or offline. Object fields other than status, ip and rssi are kept
// as metadata.
func DecodeStatus(payload []byte) (Status, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Status{}, fmt.Errorf("%w: status: empty", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		token, err := normaliseToken(trimmed)
		if err != nil {
			return Status{}, fmt.Errorf("status: %w", err)
		}
		return Status{Status: token, Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}

	doc, err := decodeJSON(trimmed)
	if err != nil {
		return Status{}, err
	}
	if err := statusSchema.Validate(doc); err != nil {
		return Status{}, fmt.Errorf("%w: status: %v", ErrInvalidPayload, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Status{}, fmt.Errorf("%w: status: %v", ErrInvalidPayload, err)
	}

	st := Status{Raw: append(json.RawMessage(nil), trimmed...)}
	if v, ok := fields["status"].(string); ok {
		st.Status = v
	}
	if v, ok := fields["ip"].(string); ok {
		st.IP = v
	}
	if v, ok := fields["rssi"].(float64); ok && v >= math.MinInt32 && v <= math.MaxInt32 {
		rssi := int(v)
		st.RSSI = &rssi
	}
	delete(fields, "status")
	delete(fields, "ip")
	delete(fields, "rssi")
	if len(fields) > 0 {
		st.Meta = fields
	}
	return st, nil
}

// DecodeSensor parses a sensor reading. Any well-formed JSON value is
// accepted and stored as received.
func DecodeSensor(sensorType string, payload []byte) (SensorReading, error) {
	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) {
		return SensorReading{}, fmt.Errorf("%w: sensor %s: not valid JSON", ErrInvalidPayload, sensorType)
	}
	return SensorReading{
		Type:  sensorType,
		Value: append(json.RawMessage(nil), trimmed...),
	}, nil
}

// decodeJSON decodes payload for schema validation. Numbers stay
// json.Number so integer checks see the literal the device sent.
func decodeJSON(payload []byte) (any, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return doc, nil
}

// trimToken strips whitespace and one layer of matching quotes.
func trimToken(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// normaliseToken is trimToken with the status word length bound.
func normaliseToken(payload []byte) (string, error) {
	s := trimToken(payload)
	if len(s) > maxTokenLength {
		return "", fmt.Errorf("%w: token longer than %d bytes", ErrInvalidPayload, maxTokenLength)
	}
	return s, nil
}
