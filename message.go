package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// MessageType is the kind of frame a transport carries. Values match the websocket opcodes.
type MessageType byte

const (
	DataMessage   MessageType = 1
	BinaryMessage MessageType = 2
	PingMessage   MessageType = 9
	PongMessage   MessageType = 10
)

// IsData reports whether the frame carries an envelope rather than keep-alive traffic.
func (t MessageType) IsData() bool { return t == DataMessage || t == BinaryMessage }
func (t MessageType) IsPing() bool { return t == PingMessage }
func (t MessageType) IsPong() bool { return t == PongMessage }

func (t MessageType) String() string {
	switch t {
	case DataMessage:
		return "data"
	case BinaryMessage:
		return "binary"
	case PingMessage:
		return "ping"
	case PongMessage:
		return "pong"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Message is a single frame read from or written to a Transport.
type Message interface {
	Type() MessageType
	Data() []byte
	String() string
}

type frame struct {
	kind    MessageType
	payload []byte
}

func (f frame) Type() MessageType { return f.kind }
func (f frame) Data() []byte      { return f.payload }

func (f frame) String() string {
	return fmt.Sprintf("Message{type=%s,data=%s}", f.kind, f.payload)
}

func NewMessage(mt MessageType, data []byte) Message {
	return frame{kind: mt, payload: data}
}

func NewDataMessage(data []byte) Message {
	return NewMessage(DataMessage, data)
}

func NewPingMessage(data []byte) Message {
	return NewMessage(PingMessage, data)
}

func NewPongMessage(data []byte) Message {
	return NewMessage(PongMessage, data)
}

// Envelope is the JSON frame exchanged with the event server: one named event and its payload.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelopeMessage marshals data under the given event name into a data frame.
func NewEnvelopeMessage(name EventName, data any) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s payload", name)
		}
		raw = bts
	}

	bts, err := json.Marshal(Envelope{Event: name, Data: raw})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s envelope", name)
	}
	return NewDataMessage(bts), nil
}

// ParseEnvelope decodes a data frame. Frames without an event name are rejected.
func ParseEnvelope(m Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(m.Data(), &env); err != nil {
		return Envelope{}, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	if env.Event == "" {
		return Envelope{}, errors.Wrap(ErrInvalidEnvelope, "missing event name")
	}
	return env, nil
}
