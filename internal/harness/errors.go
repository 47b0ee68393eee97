package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ocpp_cp_harness/internal/envelope"
)

// Kind classifies a scenario error.
type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindSuiteTimeout
	KindTimeout
	KindProtocolViolation
	KindAssertion
	KindDefect
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindTransport:
		return "transport"
	case KindSuiteTimeout:
		return "suite-timeout"
	case KindTimeout:
		return "timeout"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindAssertion:
		return "assertion"
	case KindDefect:
		return "harness-defect"
	}
	return "error"
}

// TransportError is a lost or refused connection. It ends the run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means a call got no answer within its deadline.
type TimeoutError struct {
	ID     string
	Action string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (%s): no response within %s", e.Action, e.ID, e.After)
}

// ProtocolViolation is a malformed frame, an id mismatch or an unexpected
// message type. Raw holds the offending frame.
type ProtocolViolation struct {
	ID     string
	Action string
	Reason string
	Raw    []byte
	Err    error
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s (%s): protocol violation: %s", e.Action, e.ID, e.Reason)
}

func (e *ProtocolViolation) Unwrap() error { return e.Err }

// AssertionFailure is a well-formed response that does not match what the
// oracle expects.
type AssertionFailure struct {
	Message string
}

func (e *AssertionFailure) Error() string { return e.Message }

func Assertf(format string, args ...interface{}) error {
	return &AssertionFailure{Message: fmt.Sprintf(format, args...)}
}

// RestoreError reports that a key changed by a scenario could not be put back.
// It is a fault of the harness run, not of the server.
type RestoreError struct {
	Key   string
	Value string
	Err   error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("could not restore %s to %q: %v", e.Key, e.Value, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Classify maps err onto the error taxonomy.
func Classify(err error) Kind {
	var (
		transportErr *TransportError
		timeoutErr   *TimeoutError
		violation    *ProtocolViolation
		assertion    *AssertionFailure
		restoreErr   *RestoreError
		callErr      *envelope.CallError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindSuiteTimeout
	case errors.As(err, &restoreErr):
		return KindDefect
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &violation):
		return KindProtocolViolation
	case errors.As(err, &assertion), errors.As(err, &callErr):
		return KindAssertion
	}
	return KindOther
}

// IsFatal reports whether err must abort the remaining scenarios.
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindTransport, KindSuiteTimeout:
		return true
	}
	return false
}
