package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindTimeout:
		return "timeout"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var errTimedOut = errors.New("no response received")

// Result is the outcome of one call, correlated by ID.
type Result struct {
	Kind    Kind
	ID      string
	Payload json.RawMessage
	Err     *CallError
}

// Timeout is the result recorded for a call that never got an answer.
func Timeout(id string) *Result {
	return &Result{Kind: KindTimeout, ID: id}
}

// Result converts a CALLRESULT or CALLERROR message into a Result. Calls are
// not results.
func (m *Message) Result() (*Result, error) {
	switch m.Type {
	case MessageTypeCallResult:
		return &Result{Kind: KindSuccess, ID: m.ID, Payload: m.Payload}, nil
	case MessageTypeCallError:
		return &Result{Kind: KindError, ID: m.ID, Err: m.Err}, nil
	}
	return nil, fmt.Errorf("%w: %s is not a result", ErrUnknownType, m.Type)
}

// Decode unmarshals a successful payload into v. A CALLERROR is returned as
// its *CallError.
func (r *Result) Decode(v interface{}) error {
	switch r.Kind {
	case KindSuccess:
		if v == nil {
			return nil
		}
		return json.Unmarshal(r.Payload, v)
	case KindError:
		return r.Err
	}
	return fmt.Errorf("call %s: %w", r.ID, errTimedOut)
}
