package oracle

import (
	"context"
	"errors"
	"strings"

	"ocpp_cp_harness/internal/harness"
)

const unknownKeyName = "UnknownKey"

type invalidChange struct {
	key, value string
}

var invalidChanges = []invalidChange{
	{"HeartbeatInterval", "not-a-number"},
	{"LightIntensity", "150"},
	{"LocalAuthorizeOffline", "yes"},
	{unknownKeyName, "value"},
}

// Scenarios is the configuration validation suite.
func (o *Oracle) Scenarios() []harness.Scenario {
	return []harness.Scenario{
		{Name: "Get all configuration", Run: o.checkFullConfiguration},
		{Name: "Get specific keys", Run: o.checkSpecificKeys},
		{Name: "Change configuration", Run: o.checkChange},
		{Name: "Read-only rejection", Run: o.checkReadOnly},
		{Name: "Invalid value rejection", Run: o.checkInvalidValues},
		{Name: "Range enforcement", Run: o.checkRange},
		{Name: "CSV validation", Run: o.checkCSV},
		{Name: "Reboot required keys", Run: o.checkRebootRequired},
		{Name: "Configuration persistence", Run: o.checkPersistence},
	}
}

func (o *Oracle) checkFullConfiguration(ctx context.Context) error {
	view, err := o.GetConfiguration(ctx)
	if err != nil {
		return err
	}
	if len(view.Known) < MinimumKeyCount {
		return harness.Assertf("server reports %d keys, expected at least %d", len(view.Known), MinimumKeyCount)
	}

	var failed failures
	for _, name := range EssentialKeys {
		if _, ok := view.Lookup(name); !ok {
			failed = append(failed, "missing essential key "+name)
		}
	}
	for _, name := range o.schema.ReadOnlyKeys() {
		if k, ok := view.Lookup(name); ok && !k.Readonly {
			failed = append(failed, name+" is not reported read-only")
		}
	}
	o.logger.WithField("keys", len(view.Known)).Infoln("Full configuration received")
	return failed.err()
}

func (o *Oracle) checkSpecificKeys(ctx context.Context) error {
	requested := []string{"HeartbeatInterval", unknownKeyName, "MeterValueSampleInterval"}
	view, err := o.GetConfiguration(ctx, requested...)
	if err != nil {
		return err
	}

	var failed failures
	for _, k := range view.Known {
		if !contains(requested, k.Key) {
			failed = append(failed, "unrequested key "+k.Key+" returned")
		}
	}
	for _, name := range requested {
		_, known := view.Lookup(name)
		unknown := view.IsUnknown(name)
		switch {
		case known && unknown:
			failed = append(failed, name+" reported both known and unknown")
		case !known && !unknown:
			failed = append(failed, name+" missing from the response")
		}
	}
	if !view.IsUnknown(unknownKeyName) {
		failed = append(failed, unknownKeyName+" not listed as unknown")
	}
	return failed.err()
}

func (o *Oracle) checkChange(ctx context.Context) error {
	const key = "HeartbeatInterval"
	return o.WithRestore(ctx, key, func(ctx context.Context, original string) error {
		value := "900"
		if original == value {
			value = "600"
		}
		if _, err := o.Expect(ctx, key, value); err != nil {
			return err
		}
		return o.Verify(ctx, key, value)
	})
}

// checkReadOnly writes every read-only key the server reports and expects a
// rejection with the value left untouched.
func (o *Oracle) checkReadOnly(ctx context.Context) error {
	names := o.schema.ReadOnlyKeys()
	before, err := o.GetConfiguration(ctx, names...)
	if err != nil {
		return err
	}

	var failed failures
	checked := 0
	for _, name := range names {
		original, ok := before.Value(name)
		if !ok {
			o.logger.WithField("key", name).Debugln("Read-only key not implemented, skipping")
			continue
		}
		checked++
		status, err := o.Expect(ctx, name, o.schema[name].ProbeValue())
		if err := failed.add(err); err != nil {
			return err
		}
		if accepted(status) {
			if err := failed.add(o.Restore(ctx, name, original)); err != nil {
				return err
			}
		}
	}
	if checked == 0 {
		return harness.Assertf("server reports none of the read-only keys %s", strings.Join(names, ", "))
	}

	after, err := o.GetConfiguration(ctx, names...)
	if err != nil {
		return err
	}
	for _, name := range names {
		was, ok := before.Value(name)
		if !ok {
			continue
		}
		if now, _ := after.Value(name); now != was {
			failed = append(failed, name+" changed from "+was+" to "+now)
		}
	}
	return failed.err()
}

func (o *Oracle) checkInvalidValues(ctx context.Context) error {
	var failed failures
	for _, c := range invalidChanges {
		var err error
		if _, known := o.schema[c.key]; known {
			err = o.expectRejected(ctx, c.key, c.value)
		} else {
			_, err = o.Expect(ctx, c.key, c.value)
		}
		if err := failed.add(err); err != nil {
			return err
		}
	}
	return failed.err()
}

// expectRejected writes an invalid value and puts the original back only if
// the server took it.
func (o *Oracle) expectRejected(ctx context.Context, key, value string) error {
	view, err := o.GetConfiguration(ctx, key)
	if err != nil {
		return err
	}
	original, known := view.Value(key)
	status, err := o.Expect(ctx, key, value)
	if known && accepted(status) {
		if restoreErr := o.Restore(ctx, key, original); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
	}
	return err
}

func (o *Oracle) checkRange(ctx context.Context) error {
	const key = "LightIntensity"
	return o.WithRestore(ctx, key, func(ctx context.Context, original string) error {
		var failed failures
		if _, err := o.Expect(ctx, key, "150"); failed.add(err) != nil {
			return err
		}
		if _, err := o.Expect(ctx, key, "50"); err != nil {
			return errors.Join(failed.err(), err)
		}
		if err := o.Verify(ctx, key, "50"); err != nil {
			return errors.Join(failed.err(), err)
		}
		return failed.err()
	})
}

func (o *Oracle) checkCSV(ctx context.Context) error {
	const key = "MeterValuesSampledData"
	return o.WithRestore(ctx, key, func(ctx context.Context, original string) error {
		if _, err := o.Expect(ctx, key, "Energy.Active.Import.Register,Power.Active.Import"); err != nil {
			return err
		}
		_, err := o.Expect(ctx, key, "Energy.Active.Import.Register,InvalidMeasurand")
		return err
	})
}

func (o *Oracle) checkRebootRequired(ctx context.Context) error {
	const key = "WebSocketPingInterval"
	return o.WithRestore(ctx, key, func(ctx context.Context, original string) error {
		status, err := o.Expect(ctx, key, "120")
		if err == nil {
			o.logger.WithField("key", key).WithField("status", status).Infoln("Reboot key change answered")
		}
		return err
	})
}

func (o *Oracle) checkPersistence(ctx context.Context) error {
	const key = "MeterValueSampleInterval"
	return o.WithRestore(ctx, key, func(ctx context.Context, original string) error {
		value := "45"
		if original == value {
			value = "30"
		}
		return o.VerifyPersistence(ctx, key, value)
	})
}

// failures collects assertion failures so a scenario reports every mismatch
// at once. Other errors are handed back to the caller.
type failures []string

func (f *failures) add(err error) error {
	if err == nil {
		return nil
	}
	if harness.Classify(err) != harness.KindAssertion {
		return err
	}
	*f = append(*f, err.Error())
	return nil
}

func (f failures) err() error {
	if len(f) == 0 {
		return nil
	}
	return harness.Assertf("%s", strings.Join(f, "; "))
}
