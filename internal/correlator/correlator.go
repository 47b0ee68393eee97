// Package correlator matches outgoing OCPP calls with their results on a
// single shared connection.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp"
	log "github.com/sirupsen/logrus"

	"ocpp_cp_harness/internal/envelope"
	"ocpp_cp_harness/internal/harness"
	"ocpp_cp_harness/internal/transport"
)

const DefaultTimeout = 10 * time.Second

// Caller issues one call and returns its correlated result.
type Caller interface {
	Call(ctx context.Context, action string, payload interface{}) (*envelope.Result, error)
}

// Correlator owns the transport. Calls are strictly sequential: each one
// sends exactly one frame and consumes exactly one reply (or a timeout)
// before the next may start.
type Correlator struct {
	transport transport.Transport
	timeout   time.Duration
	newID     func() string
	logger    *log.Entry

	mu sync.Mutex
}

type Option func(*Correlator)

func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) { c.newID = fn }
}

func WithLogger(logger *log.Entry) Option {
	return func(c *Correlator) { c.logger = logger }
}

func New(t transport.Transport, opts ...Option) *Correlator {
	c := &Correlator{
		transport: t,
		timeout:   DefaultTimeout,
		newID:     uuid.NewString,
		logger:    log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Correlator) Call(ctx context.Context, action string, payload interface{}) (*envelope.Result, error) {
	return c.CallWithTimeout(ctx, action, payload, c.timeout)
}

// CallWithTimeout sends [2, id, action, payload] and waits up to timeout for
// the reply. A reply carrying any other id, or any frame that is not a
// result, is a *harness.ProtocolViolation; no retry is attempted.
func (c *Correlator) CallWithTimeout(ctx context.Context, action string, payload interface{}, timeout time.Duration) (*envelope.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := &envelope.Call{ID: c.newID(), Action: action, Payload: payload}
	frame, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", action, err)
	}
	logger := c.logger.WithField("action", action).WithField("id", call.ID)

	call.SentAt = time.Now()
	if err := c.transport.Send(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", action, ctx.Err())
		}
		return nil, &harness.TransportError{Op: "send " + action, Err: err}
	}
	logger.WithField("payload", string(frame)).Debugln("call sent")

	raw, err := c.transport.Receive(ctx, timeout)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrTimeout):
		logger.WithField("timeout", timeout).Warnln("no response")
		return envelope.Timeout(call.ID), &harness.TimeoutError{ID: call.ID, Action: action, After: timeout}
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%s: %w", action, ctx.Err())
	default:
		return nil, &harness.TransportError{Op: "receive " + action, Err: err}
	}

	msg, err := envelope.Decode(raw)
	if err != nil {
		return nil, c.violation(logger, call, raw, err.Error(), err)
	}
	if msg.Type == envelope.MessageTypeCall {
		return nil, c.violation(logger, call, raw, fmt.Sprintf("unexpected %s %s while awaiting a result", msg.Type, msg.Action), nil)
	}
	if msg.ID != call.ID {
		return nil, c.violation(logger, call, raw, fmt.Sprintf("response id %q does not match call id", msg.ID), nil)
	}

	result, err := msg.Result()
	if err != nil {
		return nil, c.violation(logger, call, raw, err.Error(), err)
	}
	if result.Kind == envelope.KindError {
		ocppErr := result.Err.OCPP()
		logger.WithField("code", ocppErr.Code).
			WithField("description", ocppErr.Description).
			Warnln("call error received")
	}
	logger.WithField("kind", result.Kind).
		WithField("rtt", time.Since(call.SentAt)).
		Debugln("response received")
	return result, nil
}

func (c *Correlator) violation(logger *log.Entry, call *envelope.Call, raw []byte, reason string, err error) error {
	logger.WithField("raw", string(raw)).Errorln("protocol violation:", reason)
	return &harness.ProtocolViolation{
		ID:     call.ID,
		Action: call.Action,
		Reason: reason,
		Raw:    raw,
		Err:    err,
	}
}

// Invoke sends req as a call named after its feature and decodes a
// successful reply into conf. A CALLERROR is returned as *envelope.CallError;
// a payload that does not fit conf is a protocol violation.
func Invoke(ctx context.Context, c Caller, req ocpp.Request, conf interface{}) error {
	action := req.GetFeatureName()
	result, err := c.Call(ctx, action, req)
	if err != nil {
		return err
	}
	if err := result.Decode(conf); err != nil {
		var callErr *envelope.CallError
		if errors.As(err, &callErr) {
			return callErr
		}
		return &harness.ProtocolViolation{
			ID:     result.ID,
			Action: action,
			Reason: fmt.Sprintf("unexpected %s payload: %v", action, err),
			Raw:    result.Payload,
			Err:    err,
		}
	}
	return nil
}
