// Package envelope encodes and decodes the position-encoded OCPP-J frames
// exchanged with the central system.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
)

type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeCallResult:
		return "CALLRESULT"
	case MessageTypeCallError:
		return "CALLERROR"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown message type")
)

// Call is an outgoing request: [2, id, action, payload].
type Call struct {
	ID      string
	Action  string
	Payload interface{}
	SentAt  time.Time
}

func (c *Call) MarshalJSON() ([]byte, error) {
	payload := c.Payload
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCall, c.ID, c.Action, payload})
}

// CallError is the peer's [4, id, errorCode, errorDescription, details] reply.
type CallError struct {
	ID          string
	Code        ocpp.ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *CallError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("call %s failed with %s", e.ID, e.Code)
	}
	return fmt.Sprintf("call %s failed with %s: %s", e.ID, e.Code, e.Description)
}

// OCPP returns the error in the form the ocpp-go library reports it.
func (e *CallError) OCPP() *ocpp.Error {
	return ocpp.NewError(e.Code, e.Description, e.ID)
}

// Message is any decoded inbound frame.
type Message struct {
	Type    MessageType
	ID      string
	Action  string
	Payload json.RawMessage
	Err     *CallError
}

// Decode parses a raw frame exactly once into its typed variant. Anything
// that is not one of the three known shapes is reported as ErrMalformed or
// ErrUnknownType.
func Decode(raw []byte) (*Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformed, len(fields))
	}

	var typ MessageType
	if err := json.Unmarshal(fields[0], &typ); err != nil {
		return nil, fmt.Errorf("%w: message type: %v", ErrMalformed, err)
	}
	msg := &Message{Type: typ}
	if err := json.Unmarshal(fields[1], &msg.ID); err != nil {
		return nil, fmt.Errorf("%w: message id: %v", ErrMalformed, err)
	}

	switch typ {
	case MessageTypeCall:
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: call has %d elements", ErrMalformed, len(fields))
		}
		if err := json.Unmarshal(fields[2], &msg.Action); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrMalformed, err)
		}
		if !isObject(fields[3]) {
			return nil, fmt.Errorf("%w: call payload is not an object", ErrMalformed)
		}
		msg.Payload = fields[3]

	case MessageTypeCallResult:
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: result has %d elements", ErrMalformed, len(fields))
		}
		if !isObject(fields[2]) {
			return nil, fmt.Errorf("%w: result payload is not an object", ErrMalformed)
		}
		msg.Payload = fields[2]

	case MessageTypeCallError:
		if len(fields) < 4 || len(fields) > 5 {
			return nil, fmt.Errorf("%w: error has %d elements", ErrMalformed, len(fields))
		}
		callErr := &CallError{ID: msg.ID}
		var code string
		if err := json.Unmarshal(fields[2], &code); err != nil {
			return nil, fmt.Errorf("%w: error code: %v", ErrMalformed, err)
		}
		callErr.Code = ocpp.ErrorCode(code)
		if err := json.Unmarshal(fields[3], &callErr.Description); err != nil {
			return nil, fmt.Errorf("%w: error description: %v", ErrMalformed, err)
		}
		if len(fields) == 5 {
			callErr.Details = fields[4]
		}
		msg.Err = callErr

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(typ))
	}
	return msg, nil
}

// EncodeResult builds a [3, id, payload] frame.
func EncodeResult(id string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCallResult, id, payload})
}

// EncodeError builds a [4, id, code, description, details] frame.
func EncodeError(id string, code ocpp.ErrorCode, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCallError, id, string(code), description, details})
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
