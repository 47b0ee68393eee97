package simulator

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp_cp_harness/internal/correlator"
	"ocpp_cp_harness/internal/envelope"
	"ocpp_cp_harness/internal/fakecs"
	"ocpp_cp_harness/internal/harness"
	"ocpp_cp_harness/internal/store"
)

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

type recordingPublisher struct {
	subtopics []string
	samples   []Sample
}

func (p *recordingPublisher) Publish(_ context.Context, subtopic string, v interface{}) error {
	p.subtopics = append(p.subtopics, subtopic)
	p.samples = append(p.samples, v.(Sample))
	return nil
}

func quietLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

func newSimulator(t *testing.T, opts ...Option) (*Simulator, *fakecs.CentralSystem, *fakeClock) {
	t.Helper()
	cs := fakecs.New()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := correlator.New(cs, correlator.WithTimeout(200*time.Millisecond), correlator.WithLogger(quietLogger()))
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithRand(fixedRand(0.5)),
		WithClock(clock.now, clock.sleep),
	}, opts...)
	return New(c, DefaultConfig(), opts...), cs, clock
}

func meterValuesRequests(t *testing.T, cs *fakecs.CentralSystem) []core.MeterValuesRequest {
	t.Helper()
	var out []core.MeterValuesRequest
	for _, msg := range cs.Calls(core.MeterValuesFeatureName) {
		var req core.MeterValuesRequest
		require.NoError(t, json.Unmarshal(msg.Payload, &req))
		out = append(out, req)
	}
	return out
}

func TestReferenceSampleValues(t *testing.T) {
	values := ReferenceSample().SampledValues()
	require.Len(t, values, 5)

	got := map[types.Measurand]string{}
	for _, v := range values {
		got[v.Measurand] = v.Value
	}
	assert.Equal(t, map[types.Measurand]string{
		types.MeasurandEnergyActiveImportRegister: "5000",
		types.MeasurandPowerActiveImport:          "3700",
		types.MeasurandCurrentImport:              "16",
		types.MeasurandVoltage:                    "230",
		types.MeasurandTemperature:                "25",
	}, got)
	assert.Equal(t, types.MeasurandEnergyActiveImportRegister, values[0].Measurand)
	assert.Equal(t, types.UnitOfMeasureWh, values[0].Unit)
	assert.Equal(t, types.UnitOfMeasureCelsius, values[4].Unit)
}

func TestOverloadSampleOmitsTemperature(t *testing.T) {
	values := OverloadSample().SampledValues()
	require.Len(t, values, 4)
	for _, v := range values {
		assert.NotEqual(t, types.MeasurandTemperature, v.Measurand)
	}
}

func TestReadingSampleRounding(t *testing.T) {
	s := Reading{EnergyWh: 1010.98, PowerW: 7399.7, CurrentA: 32.1739, VoltageV: 231.26, TemperatureC: 27.04}.Sample()
	assert.Equal(t, 1010, s.EnergyWh)
	assert.Equal(t, 7399, s.PowerW)
	assert.Equal(t, 32.2, *s.CurrentA)
	assert.Equal(t, 231.3, *s.VoltageV)
	assert.Equal(t, 27.0, *s.TemperatureC)
}

func TestAlerts(t *testing.T) {
	assert.Empty(t, Alerts(ReferenceSample()))

	alerts := Alerts(OverloadSample())
	require.Len(t, alerts, 2)
	assert.Equal(t, types.MeasurandPowerActiveImport, alerts[0].Measurand)
	assert.Equal(t, types.MeasurandCurrentImport, alerts[1].Measurand)

	hot := ReferenceSample()
	hot.TemperatureC = Float(71)
	hot.VoltageV = Float(200)
	alerts = Alerts(hot)
	require.Len(t, alerts, 2)
	assert.Equal(t, types.MeasurandTemperature, alerts[0].Measurand)
	assert.Equal(t, types.MeasurandVoltage, alerts[1].Measurand)
}

func TestBoot(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	conf, err := sim.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.RegistrationStatusAccepted, conf.Status)

	calls := cs.Calls(core.BootNotificationFeatureName)
	require.Len(t, calls, 1)
	var req core.BootNotificationRequest
	require.NoError(t, json.Unmarshal(calls[0].Payload, &req))
	assert.Equal(t, "Simulator", req.ChargePointModel)
	assert.Equal(t, "Test", req.ChargePointVendor)
	assert.NotEmpty(t, req.ChargePointSerialNumber)
}

func TestStartAndTick(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	ctx := context.Background()

	txID, err := sim.Start(ctx, "TEST-TAG", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, txID)
	assert.Equal(t, Active, sim.State())

	_, err = sim.Start(ctx, "TEST-TAG", 1000)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	reading, err := sim.Tick(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 7400, reading.PowerW, 1e-9)
	assert.InDelta(t, 1000+7400*5.0/3600, reading.EnergyWh, 1e-9)
	assert.InDelta(t, 7400/230.0, reading.CurrentA, 1e-9)
	assert.InDelta(t, 230, reading.VoltageV, 1e-9)
	assert.InDelta(t, 27.5, reading.TemperatureC, 1e-9)

	reqs := meterValuesRequests(t, cs)
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].TransactionId)
	assert.Equal(t, txID, *reqs[0].TransactionId)
	assert.Equal(t, 1, reqs[0].ConnectorId)
	assert.Equal(t, "1010", reqs[0].MeterValue[0].SampledValue[0].Value)
}

func TestEnergyIntegratesPower(t *testing.T) {
	draws := []float64{0, 1, 0.2, 0.9, 0.5, 0.1}
	i := 0
	sim, _, _ := newSimulator(t, WithRand(randFunc(func() float64 {
		v := draws[i%len(draws)]
		i++
		return v
	})))
	ctx := context.Background()
	_, err := sim.Start(ctx, "TEST-TAG", 1000)
	require.NoError(t, err)

	last, want := 1000.0, 1000.0
	for n := 0; n < 10; n++ {
		interval := time.Duration(n%3+1) * 2 * time.Second
		reading, err := sim.Tick(ctx, interval)
		require.NoError(t, err)
		want += reading.PowerW * interval.Seconds() / 3600
		assert.InDelta(t, want, reading.EnergyWh, 1e-6, "tick %d", n)
		assert.GreaterOrEqual(t, reading.EnergyWh, last)
		assert.GreaterOrEqual(t, reading.PowerW, 6900.0)
		assert.LessOrEqual(t, reading.PowerW, 7900.0)
		assert.GreaterOrEqual(t, reading.TemperatureC, 20.0)
		assert.LessOrEqual(t, reading.TemperatureC, 35.0)
		last = reading.EnergyWh
	}
}

type randFunc func() float64

func (f randFunc) Float64() float64 { return f() }

func TestTickRequiresActiveSession(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	_, err := sim.Tick(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Empty(t, cs.Calls(""))
}

func TestStopWithoutSessionSendsNothing(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	require.NoError(t, sim.Stop(context.Background(), 1000))
	assert.Empty(t, cs.Calls(""))
	assert.Equal(t, Idle, sim.State())
}

func TestStartWithoutTransactionID(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	cs.Handle(core.StartTransactionFeatureName, func(*envelope.Message) (interface{}, *envelope.CallError) {
		return map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}, nil
	})

	_, err := sim.Start(context.Background(), "TEST-TAG", 1000)
	require.Error(t, err)
	assert.Equal(t, harness.KindAssertion, harness.Classify(err))
	assert.Equal(t, Idle, sim.State())
}

func TestStartWithRejectedIdTag(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	cs.Handle(core.StartTransactionFeatureName, func(*envelope.Message) (interface{}, *envelope.CallError) {
		return core.NewStartTransactionConfirmation(types.NewIdTagInfo(types.AuthorizationStatusBlocked), 7), nil
	})

	_, err := sim.Start(context.Background(), "BLOCKED", 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blocked")
	assert.Equal(t, Idle, sim.State())
}

func TestRunSession(t *testing.T) {
	pub := &recordingPublisher{}
	sim, cs, clock := newSimulator(t, WithPublisher(pub))

	summary, err := sim.Run(context.Background(), DefaultPlan())
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Ticks)
	assert.Len(t, clock.slept, 6)
	assert.Equal(t, 1000, summary.MeterStartWh)
	assert.Equal(t, 1061, summary.MeterStopWh)
	assert.Equal(t, 61, summary.DeliveredWh())
	assert.Equal(t, Finalized, sim.State())

	assert.Len(t, cs.Calls(core.StartTransactionFeatureName), 1)
	assert.Len(t, meterValuesRequests(t, cs), 6)
	assert.Len(t, pub.samples, 6)
	assert.Equal(t, "meter", pub.subtopics[0])

	stops := cs.Calls(core.StopTransactionFeatureName)
	require.Len(t, stops, 1)
	var stop core.StopTransactionRequest
	require.NoError(t, json.Unmarshal(stops[0].Payload, &stop))
	assert.Equal(t, 1061, stop.MeterStop)
	assert.Equal(t, summary.TransactionID, stop.TransactionId)
	assert.Equal(t, core.ReasonEVDisconnected, stop.Reason)

	// a second session may follow a finalized one
	_, err = sim.Start(context.Background(), "TEST-TAG", 1061)
	require.NoError(t, err)
}

func TestRunStopsAfterTickFailure(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	cs.Handle(core.MeterValuesFeatureName, func(msg *envelope.Message) (interface{}, *envelope.CallError) {
		return nil, &envelope.CallError{ID: msg.ID, Code: "InternalError", Description: "db down"}
	})

	_, err := sim.Run(context.Background(), DefaultPlan())
	require.Error(t, err)
	assert.Equal(t, harness.KindAssertion, harness.Classify(err))
	assert.Len(t, cs.Calls(core.MeterValuesFeatureName), 1)
	assert.Len(t, cs.Calls(core.StopTransactionFeatureName), 1)
	assert.Equal(t, Finalized, sim.State())
}

func TestRunResumesFromRegister(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	register := store.NewMeterRegister(db, "CP-1")
	require.NoError(t, register.Save(5000))

	sim, cs, _ := newSimulator(t, WithRegister(register))
	summary, err := sim.Run(context.Background(), DefaultPlan())
	require.NoError(t, err)
	assert.Equal(t, 5000, summary.MeterStartWh)

	var start core.StartTransactionRequest
	require.NoError(t, json.Unmarshal(cs.Calls(core.StartTransactionFeatureName)[0].Payload, &start))
	assert.Equal(t, 5000, start.MeterStart)

	wh, ok, err := register.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, summary.MeterStopWh, wh)
}

func TestScenariosPassAgainstCompliantServer(t *testing.T) {
	sim, _, _ := newSimulator(t)
	rep := harness.NewRunner("meter-simulator", "CP-1", 0, quietLogger()).
		Run(context.Background(), sim.Scenarios(DefaultPlan()))

	require.Len(t, rep.Results, 4)
	assert.True(t, rep.Passed(), "%+v", rep.Results)
}

func TestScenariosReportSilentServer(t *testing.T) {
	sim, cs, _ := newSimulator(t)
	cs.Silence(core.BootNotificationFeatureName)
	rep := harness.NewRunner("meter-simulator", "CP-1", 0, quietLogger()).
		Run(context.Background(), sim.Scenarios(DefaultPlan()))

	require.Len(t, rep.Results, 4)
	assert.Equal(t, harness.KindTimeout.String(), rep.Results[0].Kind)
	assert.False(t, rep.Passed())
	assert.Empty(t, rep.Aborted)
}
