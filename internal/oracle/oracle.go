// Package oracle checks a central system's GetConfiguration and
// ChangeConfiguration behavior against a declarative key schema.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	log "github.com/sirupsen/logrus"

	"ocpp_cp_harness/internal/correlator"
	"ocpp_cp_harness/internal/harness"
)

const (
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultPersistenceDelay = time.Second
)

// View is a GetConfiguration result split into reported keys and names the
// server did not recognize.
type View struct {
	Known   []core.ConfigurationKey
	Unknown []string
}

func (v *View) Lookup(name string) (core.ConfigurationKey, bool) {
	for _, k := range v.Known {
		if k.Key == name {
			return k, true
		}
	}
	return core.ConfigurationKey{}, false
}

// Value returns the reported value of name. A key reported without a value
// reads as empty.
func (v *View) Value(name string) (string, bool) {
	k, ok := v.Lookup(name)
	if !ok {
		return "", false
	}
	if k.Value == nil {
		return "", true
	}
	return *k.Value, true
}

func (v *View) IsUnknown(name string) bool {
	return contains(v.Unknown, name)
}

type Oracle struct {
	caller           correlator.Caller
	schema           Schema
	logger           *log.Entry
	settleDelay      time.Duration
	persistenceDelay time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
}

type Option func(*Oracle)

func WithSchema(s Schema) Option {
	return func(o *Oracle) { o.schema = s }
}

func WithLogger(logger *log.Entry) Option {
	return func(o *Oracle) { o.logger = logger }
}

// WithSettleDelays sets how long the server is given before a written value
// is read back, after a change and for the persistence check.
func WithSettleDelays(change, persistence time.Duration) Option {
	return func(o *Oracle) {
		o.settleDelay = change
		o.persistenceDelay = persistence
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Oracle) { o.sleep = fn }
}

func New(caller correlator.Caller, opts ...Option) *Oracle {
	o := &Oracle{
		caller:           caller,
		schema:           DefaultSchema(),
		logger:           log.NewEntry(log.StandardLogger()),
		settleDelay:      DefaultSettleDelay,
		persistenceDelay: DefaultPersistenceDelay,
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) Schema() Schema { return o.schema }

// GetConfiguration requests keys, or the full key set when none are given.
func (o *Oracle) GetConfiguration(ctx context.Context, keys ...string) (*View, error) {
	req := core.NewGetConfigurationRequest(keys)
	var conf core.GetConfigurationConfirmation
	if err := correlator.Invoke(ctx, o.caller, req, &conf); err != nil {
		return nil, err
	}
	o.logger.WithField("known", len(conf.ConfigurationKey)).
		WithField("unknown", len(conf.UnknownKey)).
		Debugln("Configuration received")
	return &View{Known: conf.ConfigurationKey, Unknown: conf.UnknownKey}, nil
}

func (o *Oracle) ChangeConfiguration(ctx context.Context, key, value string) (core.ConfigurationStatus, error) {
	req := core.NewChangeConfigurationRequest(key, value)
	var conf core.ChangeConfigurationConfirmation
	if err := correlator.Invoke(ctx, o.caller, req, &conf); err != nil {
		return "", err
	}
	o.logger.WithField("key", key).WithField("value", value).WithField("status", conf.Status).
		Infoln("ChangeConfiguration answered")
	return conf.Status, nil
}

// Expect changes key to value and checks the status against the schema.
// A soft mismatch is logged and not returned.
func (o *Oracle) Expect(ctx context.Context, key, value string) (core.ConfigurationStatus, error) {
	status, err := o.ChangeConfiguration(ctx, key, value)
	if err != nil {
		return status, err
	}
	exp := o.schema.Expect(key, value)
	if err := exp.Check(status); err != nil {
		if exp.Soft {
			o.logger.WithField("key", key).Warnln("Lenient server:", err)
			return status, nil
		}
		return status, err
	}
	return status, nil
}

// Verify waits for the settle delay and asserts the server reports want for
// key.
func (o *Oracle) Verify(ctx context.Context, key, want string) error {
	return o.verifyAfter(ctx, key, want, o.settleDelay)
}

// VerifyPersistence writes value, which must be accepted, and asserts it
// reads back after the persistence delay.
func (o *Oracle) VerifyPersistence(ctx context.Context, key, value string) error {
	status, err := o.ChangeConfiguration(ctx, key, value)
	if err != nil {
		return err
	}
	if !accepted(status) {
		return harness.Assertf("ChangeConfiguration %s=%q returned %s", key, value, status)
	}
	return o.verifyAfter(ctx, key, value, o.persistenceDelay)
}

func (o *Oracle) verifyAfter(ctx context.Context, key, want string, delay time.Duration) error {
	if err := o.sleep(ctx, delay); err != nil {
		return err
	}
	view, err := o.GetConfiguration(ctx, key)
	if err != nil {
		return err
	}
	got, ok := view.Value(key)
	if !ok {
		return harness.Assertf("%s missing from GetConfiguration after change", key)
	}
	if got != want {
		return harness.Assertf("%s reads %q, expected %q", key, got, want)
	}
	return nil
}

// Restore writes original back to key. Any failure is a *harness.RestoreError.
func (o *Oracle) Restore(ctx context.Context, key, original string) error {
	status, err := o.ChangeConfiguration(ctx, key, original)
	if err == nil && !accepted(status) {
		err = harness.Assertf("restoring returned %s", status)
	}
	if err != nil {
		o.logger.WithField("key", key).WithError(err).Errorln("Could not restore original value")
		return &harness.RestoreError{Key: key, Value: original, Err: err}
	}
	return nil
}

// WithRestore reads the current value of key, runs fn and writes the value
// back whatever fn returned.
func (o *Oracle) WithRestore(ctx context.Context, key string, fn func(ctx context.Context, original string) error) error {
	view, err := o.GetConfiguration(ctx, key)
	if err != nil {
		return err
	}
	original, ok := view.Value(key)
	if !ok {
		return harness.Assertf("%s is not reported by the server", key)
	}

	err = fn(ctx, original)
	if harness.IsFatal(err) {
		return err
	}
	if restoreErr := o.Restore(ctx, key, original); restoreErr != nil {
		return errors.Join(err, restoreErr)
	}
	return err
}

func accepted(status core.ConfigurationStatus) bool {
	return status == core.ConfigurationStatusAccepted || status == core.ConfigurationStatusRebootRequired
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
