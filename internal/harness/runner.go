// Package harness sequences conformance scenarios and classifies their
// failures.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"ocpp_cp_harness/internal/report"
)

// Scenario is one named check. A nil error is a pass.
type Scenario struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes scenarios strictly in order. A transport error or the
// suite deadline abandons the remaining scenarios; every other error only
// fails the scenario it came from.
type Runner struct {
	Suite    string
	ClientID string
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
	Logger  *log.Entry

	now func() time.Time
}

func NewRunner(suite, clientID string, timeout time.Duration, logger *log.Entry) *Runner {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Runner{
		Suite:    suite,
		ClientID: clientID,
		Timeout:  timeout,
		Logger:   logger,
		now:      time.Now,
	}
}

func (r *Runner) Run(ctx context.Context, scenarios []Scenario) *report.Report {
	if r.now == nil {
		r.now = time.Now
	}
	if r.Logger == nil {
		r.Logger = log.NewEntry(log.StandardLogger())
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	rep := report.New(r.Suite, r.ClientID, r.now())
	defer func() { rep.FinishedAt = r.now() }()

	for _, sc := range scenarios {
		if rep.Aborted != "" {
			rep.Add(report.Result{Name: sc.Name, Status: report.StatusSkipped, Detail: "not run: " + rep.Aborted})
			continue
		}

		logger := r.Logger.WithField("scenario", sc.Name)
		logger.Infoln("Running scenario")
		started := r.now()
		err := runScenario(ctx, sc)
		res := r.result(ctx, sc.Name, err)
		res.Duration = r.now().Sub(started)
		rep.Add(res)

		if err != nil {
			logger.WithError(err).WithField("kind", res.Kind).Errorln("Scenario failed")
		} else {
			logger.Infoln("Scenario passed")
		}
		if IsFatal(err) {
			rep.Aborted = res.Detail
		}
	}
	return rep
}

func (r *Runner) result(ctx context.Context, name string, err error) report.Result {
	res := report.Result{Name: name, Status: report.StatusPass}
	if err == nil {
		return res
	}
	kind := Classify(err)
	res.Kind = kind.String()
	res.Detail = err.Error()
	switch kind {
	case KindDefect:
		res.Status = report.StatusDefect
	case KindSuiteTimeout:
		res.Status = report.StatusFail
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Detail = fmt.Sprintf("suite timed out after %s", r.Timeout)
		} else if ctx.Err() != nil {
			res.Detail = "run interrupted"
		}
	default:
		res.Status = report.StatusFail
	}
	return res
}

func runScenario(ctx context.Context, sc Scenario) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scenario panicked: %v", p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return sc.Run(ctx)
}
