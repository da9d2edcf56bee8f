package realtime

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Subprotocols a viewer may request in Sec-WebSocket-Protocol.
const (
	SubprotocolJSON = "fleetlink.json"
	SubprotocolCBOR = "fleetlink.cbor"
)

// Codec serialises Messages for one viewer.
type Codec interface {
	// Name is the WebSocket subprotocol that selects this codec.
	Name() string

	// Binary reports whether frames must be sent as binary messages.
	Binary() bool

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return SubprotocolJSON }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// cborCodec uses core deterministic encoding so equal snapshots encode to
// equal bytes. Maps decode to map[string]any to match the JSON codec.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (cborCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return cborCodec{}, err
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return cborCodec{}, err
	}
	return cborCodec{enc: enc, dec: dec}, nil
}

func (cborCodec) Name() string                         { return SubprotocolCBOR }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// Built-in codecs.
var (
	JSON Codec = jsonCodec{}
	CBOR Codec = mustCBOR()
)

func mustCBOR() Codec {
	c, err := newCBORCodec()
	if err != nil {
		panic("realtime: building CBOR codec: " + err.Error())
	}
	return c
}

// Subprotocols lists the subprotocols in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolCBOR}
}

// CodecFor returns the codec for a negotiated subprotocol. An empty or
// unknown name selects JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return CBOR
	}
	return JSON
}
