package ws

import (
	"github.com/ugorji/go/codec"
)

// Event names carried in the envelope.
const (
	EventMessage = "message"
	EventError   = "error"
)

// DefaultType is assumed for message events that carry no type.
const DefaultType = "text"

var jsonHandle codec.JsonHandle

// Envelope is one websocket frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string      `codec:"event"`
	Data  interface{} `codec:"data"`
}

// MessageEvent is the payload of a "message" event. The same shape travels
// in both directions.
type MessageEvent struct {
	Sender    string `codec:"sender_username"`
	Receiver  string `codec:"receiver_username"`
	Body      string `codec:"message"`
	Type      string `codec:"type,omitempty"`
	Timestamp int64  `codec:"timestamp,omitempty"`
}

// ErrorEvent is the payload of an "error" event.
type ErrorEvent struct {
	Message string `codec:"message"`
}

// Encode builds a frame for event with data as its payload.
func Encode(event string, data interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, &jsonHandle).Encode(Envelope{Event: event, Data: data}); err != nil {
		return nil, FrameError{op: "encode", err: err}
	}
	return out, nil
}

// EventName reads only the event name of a frame.
func EventName(frame []byte) (string, error) {
	var head struct {
		Event string `codec:"event"`
	}
	if err := codec.NewDecoderBytes(frame, &jsonHandle).Decode(&head); err != nil {
		return "", FrameError{op: "decode", err: err}
	}
	return head.Event, nil
}

// DecodeMessage decodes the payload of a "message" frame. A missing type is
// reported as DefaultType.
func DecodeMessage(frame []byte) (MessageEvent, error) {
	var env struct {
		Data MessageEvent `codec:"data"`
	}
	if err := codec.NewDecoderBytes(frame, &jsonHandle).Decode(&env); err != nil {
		return MessageEvent{}, FrameError{op: "decode", err: err}
	}
	if env.Data.Type == "" {
		env.Data.Type = DefaultType
	}
	return env.Data, nil
}

func DecodeError(frame []byte) (ErrorEvent, error) {
	var env struct {
		Data ErrorEvent `codec:"data"`
	}
	if err := codec.NewDecoderBytes(frame, &jsonHandle).Decode(&env); err != nil {
		return ErrorEvent{}, FrameError{op: "decode", err: err}
	}
	return env.Data, nil
}
