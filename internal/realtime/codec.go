package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/jengzang/records-live-go/internal/models"
)

// ErrMalformedMessage is returned when a frame is not a valid envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Inbound is a decoded client envelope. The payload stays encoded until
// the handler knows which type to decode it into.
type Inbound struct {
	Type    string
	ID      string
	payload []byte
	codec   Codec
}

// NewInbound builds an envelope around an already encoded payload.
func NewInbound(codec Codec, typ, id string, payload []byte) Inbound {
	return Inbound{Type: typ, ID: id, payload: payload, codec: codec}
}

// HasPayload reports whether the envelope carried a data field.
func (m Inbound) HasPayload() bool {
	return len(m.payload) > 0 && string(m.payload) != "null"
}

// Decode unmarshals the payload into v.
func (m Inbound) Decode(v any) error {
	if !m.HasPayload() {
		return fmt.Errorf("%w: missing data", models.ErrInvalidInput)
	}
	if err := m.codec.unmarshal(m.payload, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// Codec converts between frames and envelopes. Text frames carry JSON,
// binary frames carry CBOR.
type Codec interface {
	Name() string
	Binary() bool
	DecodeInbound(data []byte) (Inbound, error)
	Encode(event models.Event) ([]byte, error)
	unmarshal(data []byte, v any) error
}

// JSON is the text-frame codec.
var JSON Codec = jsonCodec{}

// CBOR is the binary-frame codec.
var CBOR Codec = newCBORCodec()

// CodecByName returns the codec for an encoding query value. Unknown
// names fall back to JSON.
func CodecByName(name string) Codec {
	if name == CBOR.Name() {
		return CBOR
	}
	return JSON
}

type jsonEnvelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (c jsonCodec) DecodeInbound(data []byte) (Inbound, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return Inbound{Type: env.Type, ID: env.ID, payload: env.Data, codec: c}, nil
}

func (jsonCodec) Encode(event models.Event) ([]byte, error) {
	return json.Marshal(event)
}

func (jsonCodec) unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type cborEnvelope struct {
	Type string          `cbor:"type"`
	ID   string          `cbor:"id,omitempty"`
	Data cbor.RawMessage `cbor:"data,omitempty"`
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() *cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("realtime: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("realtime: CBOR decoder initialization failed: " + err.Error())
	}
	return &cborCodec{enc: enc, dec: dec}
}

func (*cborCodec) Name() string { return "cbor" }
func (*cborCodec) Binary() bool { return true }

func (c *cborCodec) DecodeInbound(data []byte) (Inbound, error) {
	var env cborEnvelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return Inbound{Type: env.Type, ID: env.ID, payload: env.Data, codec: c}, nil
}

func (c *cborCodec) Encode(event models.Event) ([]byte, error) {
	return c.enc.Marshal(event)
}

func (c *cborCodec) unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
