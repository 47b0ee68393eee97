package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"ocpp_cp_harness/internal/harness"
)

// Plan describes one simulated charging session.
type Plan struct {
	IdTag        string
	MeterStartWh int
	Duration     time.Duration
	Interval     time.Duration
}

func DefaultPlan() Plan {
	return Plan{
		IdTag:        "TEST-TAG",
		MeterStartWh: 1000,
		Duration:     30 * time.Second,
		Interval:     5 * time.Second,
	}
}

type Summary struct {
	TransactionID int
	MeterStartWh  int
	MeterStopWh   int
	Ticks         int
}

func (s Summary) DeliveredWh() int { return s.MeterStopWh - s.MeterStartWh }

// Run starts a transaction, reports a reading every plan.Interval until
// plan.Duration has elapsed, then stops it. A persisted meter register
// overrides plan.MeterStartWh. When a tick fails for any reason other than
// a lost connection the transaction is still stopped before returning.
func (s *Simulator) Run(ctx context.Context, plan Plan) (Summary, error) {
	if plan.Interval <= 0 {
		return Summary{}, fmt.Errorf("invalid sample interval %s", plan.Interval)
	}

	meterStart := plan.MeterStartWh
	if s.register != nil {
		wh, ok, err := s.register.Load()
		if err != nil {
			return Summary{}, fmt.Errorf("load meter register: %w", err)
		}
		if ok && wh > meterStart {
			meterStart = wh
		}
	}

	txID, err := s.Start(ctx, plan.IdTag, meterStart)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{TransactionID: txID, MeterStartWh: meterStart}

	var elapsed time.Duration
	for elapsed < plan.Duration {
		if err := s.sleep(ctx, plan.Interval); err != nil {
			return summary, err
		}
		elapsed += plan.Interval
		if _, err := s.Tick(ctx, plan.Interval); err != nil {
			if !harness.IsFatal(err) {
				s.stopBestEffort(ctx, &summary)
			}
			return summary, err
		}
		summary.Ticks++
	}

	summary.MeterStopWh = int(s.session.CumulativeEnergyWh)
	if err := s.Stop(ctx, summary.MeterStopWh); err != nil {
		return summary, err
	}
	s.logger.WithField("delivered_wh", summary.DeliveredWh()).
		WithField("ticks", summary.Ticks).
		Infoln("Charging session finished")
	return summary, nil
}

func (s *Simulator) stopBestEffort(ctx context.Context, summary *Summary) {
	summary.MeterStopWh = int(s.session.CumulativeEnergyWh)
	if err := s.Stop(ctx, summary.MeterStopWh); err != nil {
		s.logger.WithError(err).Warnln("Could not stop transaction after failure")
	}
}

// Scenarios is the meter simulator suite: boot, one fixed reading, a full
// session and an overload reading.
func (s *Simulator) Scenarios(plan Plan) []harness.Scenario {
	return []harness.Scenario{
		s.BootScenario(),
		{Name: "Single meter value", Run: func(ctx context.Context) error {
			return s.SendMeterValues(ctx, ReferenceSample())
		}},
		{Name: "Charging session", Run: func(ctx context.Context) error {
			summary, err := s.Run(ctx, plan)
			if err != nil {
				return err
			}
			if summary.MeterStopWh < summary.MeterStartWh {
				return harness.Assertf("meter went backwards: start %d Wh, stop %d Wh", summary.MeterStartWh, summary.MeterStopWh)
			}
			return nil
		}},
		{Name: "High power alert", Run: func(ctx context.Context) error {
			sample := OverloadSample()
			if len(Alerts(sample)) == 0 {
				return harness.Assertf("overload sample crosses no alert threshold")
			}
			return s.SendMeterValues(ctx, sample)
		}},
	}
}

// BootScenario registers the charge point and expects it to be accepted.
func (s *Simulator) BootScenario() harness.Scenario {
	return harness.Scenario{Name: "Boot notification", Run: func(ctx context.Context) error {
		conf, err := s.Boot(ctx)
		if err != nil {
			return err
		}
		if conf.Status != core.RegistrationStatusAccepted {
			return harness.Assertf("BootNotification returned %s", conf.Status)
		}
		return nil
	}}
}
