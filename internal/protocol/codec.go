package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformed wraps every decode failure: bad framing, unknown type, or a
// payload missing a required field.
var ErrMalformed = errors.New("malformed message")

// WebSocket subprotocols selecting the outbound encoding.
const (
	SubprotocolJSON    = "ponswarp.v1.json"
	SubprotocolMsgPack = "ponswarp.v1.msgpack"
)

// Codec converts between wire frames and messages.
type Codec interface {
	Name() string
	// Binary reports whether encoded frames are binary rather than text.
	Binary() bool
	Encode(msg ServerMessage) ([]byte, error)
	Decode(data []byte) (ClientMessage, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// Subprotocols lists the names offered during the WebSocket handshake, in
// server preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolMsgPack}
}

// CodecFor returns the codec for a negotiated subprotocol. Anything unknown,
// including no subprotocol at all, selects JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgPack {
		return MsgPack
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Decode(data []byte) (ClientMessage, error) {
	var env struct {
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var payload map[string]any
	if raw := bytes.TrimSpace(env.Payload); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return ClientMessage{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
		plainNumbers(payload)
	}
	return fromEnvelope(*env.Type, payload)
}

// plainNumbers replaces json.Number values with int64 or float64 so relayed
// payloads stay numeric under either codec.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = plainNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = plainNumbers(e)
		}
	}
	return v
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return SubprotocolMsgPack }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(msg ServerMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte) (ClientMessage, error) {
	var env map[string]any
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ, ok := env["type"].(string)
	if !ok {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var payload map[string]any
	switch p := env["payload"].(type) {
	case nil:
	case map[string]any:
		payload = p
	default:
		return ClientMessage{}, fmt.Errorf("%w: payload must be a map, got %T", ErrMalformed, p)
	}
	return fromEnvelope(typ, payload)
}

func fromEnvelope(typ string, payload map[string]any) (ClientMessage, error) {
	msg := ClientMessage{Type: ClientMessageType(typ)}
	p := fields{typ: typ, m: payload}

	switch msg.Type {
	case TypeHeartbeat, TypeLeaveRoom, TypeCheckTurnServerStatus:
		return msg, nil
	case TypeJoinRoom:
		msg.RoomID = p.required("room_id")
	case TypeOffer, TypeAnswer:
		msg.RoomID = p.required("room_id")
		msg.SDP = p.required("sdp")
		msg.Target = p.optional("target")
	case TypeIceCandidate:
		msg.RoomID = p.required("room_id")
		msg.Candidate = p.required("candidate")
		msg.Target = p.optional("target")
	case TypeManifest:
		msg.RoomID = p.required("room_id")
		msg.Manifest = p.value("manifest")
		msg.Target = p.optional("target")
	case TypeTransferReady, TypeTransferComplete:
		msg.RoomID = p.required("room_id")
		msg.Target = p.optional("target")
	case TypeRequestTurnConfig:
		msg.RoomID = p.required("room_id")
		msg.ForceRefresh = p.flag("force_refresh")
	case TypeRefreshTurnCredentials:
		msg.RoomID = p.required("room_id")
		msg.CurrentUsername = p.required("current_username")
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown message type %q", ErrMalformed, typ)
	}
	if p.err != nil {
		return ClientMessage{}, p.err
	}
	return msg, nil
}

// fields extracts typed payload fields, remembering the first failure.
type fields struct {
	typ string
	m   map[string]any
	err error
}

func (f *fields) fail(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s: %s", ErrMalformed, f.typ, fmt.Sprintf(format, args...))
	}
}

func (f *fields) required(key string) string {
	v, ok := f.m[key]
	if !ok || v == nil {
		f.fail("missing field %q", key)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail("field %q must be a string", key)
	}
	return s
}

func (f *fields) optional(key string) string {
	v, ok := f.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail("field %q must be a string", key)
	}
	return s
}

func (f *fields) flag(key string) bool {
	v, ok := f.m[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.fail("field %q must be a boolean", key)
	}
	return b
}

func (f *fields) value(key string) any {
	v, ok := f.m[key]
	if !ok {
		f.fail("missing field %q", key)
	}
	return v
}
