// Package simulator plays the charge point side of a charging session and
// emits meter readings with bounded random jitter.
package simulator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp_cp_harness/internal/correlator"
	"ocpp_cp_harness/internal/harness"
)

type State int

const (
	Idle State = iota
	Active
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Active:
		return "Active"
	case Finalized:
		return "Finalized"
	}
	return "Unknown"
}

const (
	baselineTemperatureC = 25.0
	firmwareVersion      = "v1.0.0"
)

var (
	ErrNotActive     = errors.New("no active charging session")
	ErrAlreadyActive = errors.New("charging session already active")
)

// Session is the state of one transaction.
type Session struct {
	TransactionID      *int
	IdTag              string
	StartEnergyWh      float64
	CumulativeEnergyWh float64
	NominalPowerW      float64
	NominalVoltageV    float64
	StartedAt          time.Time
}

type Config struct {
	ConnectorID     int
	NominalPowerW   float64
	NominalVoltageV float64
	Model           string
	Vendor          string
}

func DefaultConfig() Config {
	return Config{
		ConnectorID:     1,
		NominalPowerW:   7400,
		NominalVoltageV: 230,
		Model:           "Simulator",
		Vendor:          "Test",
	}
}

// Rand is the source of uniform jitter in [0, 1).
type Rand interface {
	Float64() float64
}

// Register keeps the energy register between runs.
type Register interface {
	Load() (wh int, ok bool, err error)
	Save(wh int) error
}

// Publisher mirrors readings to an external telemetry sink.
type Publisher interface {
	Publish(ctx context.Context, subtopic string, v interface{}) error
}

type Simulator struct {
	caller    correlator.Caller
	cfg       Config
	logger    *log.Entry
	rand      Rand
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	register  Register
	publisher Publisher

	state   State
	session Session
}

type Option func(*Simulator)

func WithLogger(logger *log.Entry) Option {
	return func(s *Simulator) { s.logger = logger }
}

func WithRand(r Rand) Option {
	return func(s *Simulator) { s.rand = r }
}

// WithClock replaces the wall clock and the sleep between ticks.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Simulator) {
		s.now = now
		s.sleep = sleep
	}
}

func WithRegister(r Register) Option {
	return func(s *Simulator) { s.register = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Simulator) { s.publisher = p }
}

func New(caller correlator.Caller, cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		caller: caller,
		cfg:    cfg,
		logger: log.NewEntry(log.StandardLogger()),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) State() State { return s.state }

func (s *Simulator) Session() Session { return s.session }

// Boot sends BootNotification with a generated identity.
func (s *Simulator) Boot(ctx context.Context) (*core.BootNotificationConfirmation, error) {
	req := core.NewBootNotificationRequest(s.cfg.Model, s.cfg.Vendor)
	req.ChargePointSerialNumber = faker.CCNumber()
	req.MeterSerialNumber = faker.CCNumber()
	req.MeterType = faker.LastName()
	req.FirmwareVersion = firmwareVersion

	var conf core.BootNotificationConfirmation
	if err := correlator.Invoke(ctx, s.caller, req, &conf); err != nil {
		return nil, err
	}
	switch conf.Status {
	case core.RegistrationStatusAccepted:
		s.logger.WithField("interval", conf.Interval).Infoln("BootNotification accepted")
	case core.RegistrationStatusPending, core.RegistrationStatusRejected:
		s.logger.Println("BootNotification not accepted", conf.Status)
	default:
		return &conf, harness.Assertf("BootNotification returned unknown status %q", conf.Status)
	}
	return &conf, nil
}

type startTransactionConfirmation struct {
	IdTagInfo     *types.IdTagInfo `json:"idTagInfo"`
	TransactionId *int             `json:"transactionId"`
}

// Start opens a transaction. The simulator stays Idle unless the server
// accepts the idTag and assigns a transaction id.
func (s *Simulator) Start(ctx context.Context, idTag string, meterStartWh int) (int, error) {
	if s.state == Active {
		return 0, ErrAlreadyActive
	}
	startedAt := s.now()
	req := core.NewStartTransactionRequest(s.cfg.ConnectorID, idTag, meterStartWh, types.NewDateTime(startedAt))

	var conf startTransactionConfirmation
	if err := correlator.Invoke(ctx, s.caller, req, &conf); err != nil {
		return 0, err
	}
	if conf.TransactionId == nil {
		return 0, harness.Assertf("StartTransaction result carries no transactionId")
	}
	if conf.IdTagInfo != nil && conf.IdTagInfo.Status != types.AuthorizationStatusAccepted {
		return 0, harness.Assertf("transaction won't start: idTag %s is %s", idTag, conf.IdTagInfo.Status)
	}

	txID := *conf.TransactionId
	s.session = Session{
		TransactionID:      &txID,
		IdTag:              idTag,
		StartEnergyWh:      float64(meterStartWh),
		CumulativeEnergyWh: float64(meterStartWh),
		NominalPowerW:      s.cfg.NominalPowerW,
		NominalVoltageV:    s.cfg.NominalVoltageV,
		StartedAt:          startedAt,
	}
	s.state = Active
	s.logger.WithField("transaction_id", txID).WithField("meter_start", meterStartWh).Infoln("Transaction started")
	return txID, nil
}

// Tick advances the session by elapsed and reports the new reading with
// MeterValues. Energy only integrates non-negative power.
func (s *Simulator) Tick(ctx context.Context, elapsed time.Duration) (Reading, error) {
	if s.state != Active {
		return Reading{}, ErrNotActive
	}

	power := s.session.NominalPowerW + s.uniform(-500, 500)
	if power < 0 {
		power = 0
	}
	s.session.CumulativeEnergyWh += power * elapsed.Seconds() / 3600

	reading := Reading{
		Timestamp:    s.now(),
		EnergyWh:     s.session.CumulativeEnergyWh,
		PowerW:       power,
		CurrentA:     power / s.session.NominalVoltageV,
		TemperatureC: baselineTemperatureC + s.uniform(-5, 10),
		VoltageV:     s.session.NominalVoltageV + s.uniform(-5, 5),
	}
	return reading, s.SendMeterValues(ctx, reading.Sample())
}

// SendMeterValues reports one sample, tagged with the active transaction
// when there is one.
func (s *Simulator) SendMeterValues(ctx context.Context, sample Sample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	req := core.NewMeterValuesRequest(s.cfg.ConnectorID, []types.MeterValue{{
		Timestamp:    types.NewDateTime(sample.Timestamp),
		SampledValue: sample.SampledValues(),
	}})

	logger := s.logger.WithField("energy", sample.EnergyWh).WithField("power", sample.PowerW)
	if s.state == Active {
		txID := *s.session.TransactionID
		req.TransactionId = &txID
		logger = logger.WithField("transaction_id", txID)
	}
	for _, alert := range Alerts(sample) {
		logger.WithField("measurand", alert.Measurand).
			WithField("value", alert.Value).
			Warnln("Sample should raise alert:", alert.Reason)
	}

	var conf core.MeterValuesConfirmation
	if err := correlator.Invoke(ctx, s.caller, req, &conf); err != nil {
		logger.WithError(err).Errorln("Error sending meter values")
		return err
	}
	logger.Infoln("Meter values sent")

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, "meter", sample); err != nil {
			logger.WithError(err).Warnln("Telemetry publish failed")
		}
	}
	return nil
}

// Stop closes the active transaction. Without one it does nothing.
func (s *Simulator) Stop(ctx context.Context, meterStopWh int) error {
	if s.state != Active {
		s.logger.Debugln("No transaction running")
		return nil
	}
	txID := *s.session.TransactionID
	req := core.NewStopTransactionRequest(meterStopWh, types.NewDateTime(s.now()), txID)
	req.IdTag = s.session.IdTag
	req.Reason = core.ReasonEVDisconnected

	var conf core.StopTransactionConfirmation
	err := correlator.Invoke(ctx, s.caller, req, &conf)
	s.state = Finalized

	if s.register != nil {
		if saveErr := s.register.Save(meterStopWh); saveErr != nil {
			s.logger.WithError(saveErr).Errorln("Could not persist meter register")
		}
	}
	if err != nil {
		return err
	}
	s.logger.WithField("transaction_id", txID).WithField("meter_stop", meterStopWh).Infoln("Transaction stopped")
	return nil
}

func (s *Simulator) uniform(min, max float64) float64 {
	return min + (max-min)*s.rand.Float64()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
