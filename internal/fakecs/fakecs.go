// Package fakecs is an in-memory central system. It implements
// transport.Transport so harness components can be exercised without a
// network.
package fakecs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"ocpp_cp_harness/internal/envelope"
	"ocpp_cp_harness/internal/transport"
)

// Handler answers a call with a payload or a call error.
type Handler func(msg *envelope.Message) (interface{}, *envelope.CallError)

type CentralSystem struct {
	mu       sync.Mutex
	keys     map[string]*Key
	handlers map[string]Handler
	silent   map[string]bool
	calls    []*envelope.Message
	inbox    chan []byte
	closed   bool
	nextTxID int

	// Frame, when set, replaces the reply to every call with raw bytes.
	Frame func(msg *envelope.Message) []byte
}

func New() *CentralSystem {
	cs := &CentralSystem{
		keys:     DefaultKeys(),
		silent:   map[string]bool{},
		inbox:    make(chan []byte, 16),
		nextTxID: 1,
	}
	cs.handlers = map[string]Handler{
		core.BootNotificationFeatureName:    cs.bootNotification,
		core.StartTransactionFeatureName:    cs.startTransaction,
		core.StopTransactionFeatureName:     cs.stopTransaction,
		core.MeterValuesFeatureName:         cs.meterValues,
		core.GetConfigurationFeatureName:    cs.getConfiguration,
		core.ChangeConfigurationFeatureName: cs.changeConfiguration,
	}
	return cs
}

// Handle overrides the handler for action.
func (cs *CentralSystem) Handle(action string, h Handler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers[action] = h
}

// Silence makes the server swallow calls for action without replying.
func (cs *CentralSystem) Silence(action string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.silent[action] = true
}

func (cs *CentralSystem) SetKey(name string, key Key) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.keys[name] = &key
}

func (cs *CentralSystem) RemoveKey(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.keys, name)
}

func (cs *CentralSystem) Key(name string) (Key, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	k, ok := cs.keys[name]
	if !ok {
		return Key{}, false
	}
	return *k, true
}

func (cs *CentralSystem) Value(name string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	k, ok := cs.keys[name]
	if !ok {
		return "", false
	}
	return k.Value, true
}

// Calls returns the received calls for action, or all calls when action is
// empty.
func (cs *CentralSystem) Calls(action string) []*envelope.Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []*envelope.Message
	for _, c := range cs.calls {
		if action == "" || c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (cs *CentralSystem) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := envelope.Decode(data)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return transport.ErrClosed
	}
	cs.calls = append(cs.calls, msg)
	silent := cs.silent[msg.Action]
	handler, ok := cs.handlers[msg.Action]
	frame := cs.Frame
	cs.mu.Unlock()

	if silent {
		return nil
	}
	if frame != nil {
		cs.inbox <- frame(msg)
		return nil
	}

	var reply []byte
	if !ok {
		reply, err = envelope.EncodeError(msg.ID, "NotImplemented", "unsupported action "+msg.Action, nil)
	} else if payload, callErr := handler(msg); callErr != nil {
		reply, err = envelope.EncodeError(msg.ID, callErr.Code, callErr.Description, nil)
	} else {
		reply, err = envelope.EncodeResult(msg.ID, payload)
	}
	if err != nil {
		return err
	}
	cs.inbox <- reply
	return nil
}

func (cs *CentralSystem) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-cs.inbox:
		return data, nil
	case <-timer.C:
		return nil, transport.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cs *CentralSystem) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closed = true
	return nil
}

func (cs *CentralSystem) bootNotification(*envelope.Message) (interface{}, *envelope.CallError) {
	return core.NewBootNotificationConfirmation(types.NewDateTime(time.Now()), 300, core.RegistrationStatusAccepted), nil
}

func (cs *CentralSystem) startTransaction(msg *envelope.Message) (interface{}, *envelope.CallError) {
	var req core.StartTransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, formationViolation(msg, err)
	}
	cs.mu.Lock()
	id := cs.nextTxID
	cs.nextTxID++
	cs.mu.Unlock()
	return core.NewStartTransactionConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted), id), nil
}

func (cs *CentralSystem) stopTransaction(msg *envelope.Message) (interface{}, *envelope.CallError) {
	var req core.StopTransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, formationViolation(msg, err)
	}
	conf := core.NewStopTransactionConfirmation()
	conf.IdTagInfo = types.NewIdTagInfo(types.AuthorizationStatusAccepted)
	return conf, nil
}

func (cs *CentralSystem) meterValues(msg *envelope.Message) (interface{}, *envelope.CallError) {
	var req core.MeterValuesRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, formationViolation(msg, err)
	}
	return core.NewMeterValuesConfirmation(), nil
}

func (cs *CentralSystem) getConfiguration(msg *envelope.Message) (interface{}, *envelope.CallError) {
	var req core.GetConfigurationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, formationViolation(msg, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	conf := &core.GetConfigurationConfirmation{}
	names := req.Key
	if len(names) == 0 {
		for name := range cs.keys {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		k, ok := cs.keys[name]
		if !ok {
			conf.UnknownKey = append(conf.UnknownKey, name)
			continue
		}
		value := k.Value
		conf.ConfigurationKey = append(conf.ConfigurationKey, core.ConfigurationKey{
			Key:      name,
			Readonly: k.ReadOnly,
			Value:    &value,
		})
	}
	return conf, nil
}

func (cs *CentralSystem) changeConfiguration(msg *envelope.Message) (interface{}, *envelope.CallError) {
	var req core.ChangeConfigurationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, formationViolation(msg, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	k, ok := cs.keys[req.Key]
	switch {
	case !ok:
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusNotSupported), nil
	case k.ReadOnly:
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRejected), nil
	case k.Validate != nil && k.Validate(req.Value) != nil:
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRejected), nil
	}
	k.Value = req.Value
	if k.RebootRequired {
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRebootRequired), nil
	}
	return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusAccepted), nil
}

func formationViolation(msg *envelope.Message, err error) *envelope.CallError {
	return &envelope.CallError{ID: msg.ID, Code: ocpp.ErrorCode("FormationViolation"), Description: err.Error()}
}
