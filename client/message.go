package qwebchannel

import (
	"encoding/json"
	"fmt"
)

// MessageType is the "type" field of every message.
type MessageType int

const (
	TypeSignal               MessageType = 1
	TypePropertyUpdate       MessageType = 2
	TypeInit                 MessageType = 3
	TypeIdle                 MessageType = 4
	TypeDebug                MessageType = 5
	TypeInvokeMethod         MessageType = 6
	TypeConnectToSignal      MessageType = 7
	TypeDisconnectFromSignal MessageType = 8
	TypeSetProperty          MessageType = 9
	TypeResponse             MessageType = 10
)

var messageTypeNames = map[MessageType]string{
	TypeSignal:               "Signal",
	TypePropertyUpdate:       "PropertyUpdate",
	TypeInit:                 "Init",
	TypeIdle:                 "Idle",
	TypeDebug:                "Debug",
	TypeInvokeMethod:         "InvokeMethod",
	TypeConnectToSignal:      "ConnectToSignal",
	TypeDisconnectFromSignal: "DisconnectFromSignal",
	TypeSetProperty:          "SetProperty",
	TypeResponse:             "Response",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is a single protocol message in either direction. Which fields
// are meaningful depends on Type. Integer fields are pointers because index
// and id 0 are valid and must still be encoded.
//
// Data, Args and Value are kept as raw JSON so that an absent value can be
// told apart from null.
type Message struct {
	Type     MessageType     `json:"type"`
	ID       *int64          `json:"id,omitempty"`
	Object   string          `json:"object,omitempty"`
	Method   *int            `json:"method,omitempty"`
	Signal   *int            `json:"signal,omitempty"`
	Property *int            `json:"property,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// One entry of a PropertyUpdate batch
type propertyUpdate struct {
	Object     string                     `json:"object"`
	Signals    map[string]json.RawMessage `json:"signals"`
	Properties map[string]json.RawMessage `json:"properties"`
}

func intPtr(i int) *int {
	return &i
}

// decodeMessage accepts anything a transport may hand to a MessageHandler:
// JSON text as a string or []byte, or a message that was already parsed.
func decodeMessage(data interface{}) (*Message, error) {
	var buf []byte
	switch v := data.(type) {
	case *Message:
		if v == nil {
			return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
		}
		return v, nil
	case Message:
		return &v, nil
	case string:
		buf = []byte(v)
	case []byte:
		buf = v
	case json.RawMessage:
		buf = v
	default:
		var err error
		if buf, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
		}
	}

	msg := &Message{}
	if err := json.Unmarshal(buf, msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return msg, nil
}

// encodeMessage returns the payload handed to Transport.Send. Strings are
// assumed to already be encoded.
func encodeMessage(msg interface{}) (string, error) {
	if s, ok := msg.(string); ok {
		return s, nil
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// decodeValue parses raw JSON into the generic value tree used by unwrap.
// Absent input decodes as Undefined.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return Undefined, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// UndefinedValue is the type of Undefined.
type UndefinedValue struct{}

func (UndefinedValue) String() string {
	return "undefined"
}

// Undefined represents a value that is absent, rather than null. Properties
// without a known value read as Undefined, and setting a property to
// Undefined is refused.
var Undefined = UndefinedValue{}
