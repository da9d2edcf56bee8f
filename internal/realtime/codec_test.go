package realtime

import (
	"bytes"
	"testing"

	"github.com/nerrad567/fleetlink/internal/device"
)

func TestCodecFor(t *testing.T) {
	tests := []struct {
		subprotocol string
		want        string
		binary      bool
	}{
		{subprotocol: "", want: SubprotocolJSON},
		{subprotocol: SubprotocolJSON, want: SubprotocolJSON},
		{subprotocol: SubprotocolCBOR, want: SubprotocolCBOR, binary: true},
		{subprotocol: "mqtt", want: SubprotocolJSON},
	}

	for _, tt := range tests {
		t.Run(tt.subprotocol, func(t *testing.T) {
			c := CodecFor(tt.subprotocol)
			if c.Name() != tt.want {
				t.Errorf("CodecFor(%q).Name() = %q, want %q", tt.subprotocol, c.Name(), tt.want)
			}
			if c.Binary() != tt.binary {
				t.Errorf("CodecFor(%q).Binary() = %v, want %v", tt.subprotocol, c.Binary(), tt.binary)
			}
		})
	}
}

func TestSubprotocols_JSONPreferred(t *testing.T) {
	got := Subprotocols()
	if len(got) != 2 || got[0] != SubprotocolJSON {
		t.Errorf("Subprotocols() = %v, want JSON first", got)
	}
}

func TestCBOR_Deterministic(t *testing.T) {
	on := "on"
	payload := StatePayload{
		Devices: map[string]device.View{
			"b": {Light: &on},
			"a": {LED: &device.LEDState{On: true, Pin: 2}},
			"c": {},
		},
		Timestamp: 1700000000000,
	}

	first, err := CBOR.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CBOR.Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("CBOR encoding differs between runs")
		}
	}
}

func TestCBOR_GenericDecodeUsesStringKeys(t *testing.T) {
	data, err := CBOR.Marshal(Message{Type: TypePing, Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var msg Message
	if err := CBOR.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Type != TypePing {
		t.Errorf("Type = %q, want ping", msg.Type)
	}
	if _, ok := msg.Payload.(map[string]any); !ok {
		t.Errorf("Payload type = %T, want map[string]any", msg.Payload)
	}
}
