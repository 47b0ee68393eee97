package simulator

import (
	"math"
	"strconv"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// Reading is the simulated physical state after one tick, unrounded.
type Reading struct {
	Timestamp    time.Time
	EnergyWh     float64
	PowerW       float64
	CurrentA     float64
	VoltageV     float64
	TemperatureC float64
}

// Sample is what goes on the wire: energy and power as integers, the rest
// to one decimal. Optional measurands are omitted when nil.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	EnergyWh     int       `json:"energyWh"`
	PowerW       int       `json:"powerW"`
	CurrentA     *float64  `json:"currentA,omitempty"`
	VoltageV     *float64  `json:"voltageV,omitempty"`
	TemperatureC *float64  `json:"temperatureC,omitempty"`
}

func (r Reading) Sample() Sample {
	return Sample{
		Timestamp:    r.Timestamp,
		EnergyWh:     int(r.EnergyWh),
		PowerW:       int(r.PowerW),
		CurrentA:     oneDecimal(r.CurrentA),
		VoltageV:     oneDecimal(r.VoltageV),
		TemperatureC: oneDecimal(r.TemperatureC),
	}
}

// SampledValues lists the sample's measurands in a fixed order: energy,
// power, current, voltage, temperature.
func (s Sample) SampledValues() []types.SampledValue {
	values := []types.SampledValue{
		{
			Value:     strconv.Itoa(s.EnergyWh),
			Measurand: types.MeasurandEnergyActiveImportRegister,
			Unit:      types.UnitOfMeasureWh,
		},
		{
			Value:     strconv.Itoa(s.PowerW),
			Measurand: types.MeasurandPowerActiveImport,
			Unit:      types.UnitOfMeasureW,
		},
	}
	if s.CurrentA != nil {
		values = append(values, types.SampledValue{
			Value:     formatDecimal(*s.CurrentA),
			Measurand: types.MeasurandCurrentImport,
			Unit:      types.UnitOfMeasureA,
		})
	}
	if s.VoltageV != nil {
		values = append(values, types.SampledValue{
			Value:     formatDecimal(*s.VoltageV),
			Measurand: types.MeasurandVoltage,
			Unit:      types.UnitOfMeasureV,
		})
	}
	if s.TemperatureC != nil {
		values = append(values, types.SampledValue{
			Value:     formatDecimal(*s.TemperatureC),
			Measurand: types.MeasurandTemperature,
			Unit:      types.UnitOfMeasureCelsius,
		})
	}
	return values
}

// ReferenceSample is the fixed single-reading probe.
func ReferenceSample() Sample {
	return Sample{
		EnergyWh:     5000,
		PowerW:       3700,
		CurrentA:     Float(16),
		VoltageV:     Float(230),
		TemperatureC: Float(25),
	}
}

// OverloadSample is a 55 kW reading meant to trip overload detection.
func OverloadSample() Sample {
	return Sample{
		EnergyWh: 10000,
		PowerW:   55000,
		CurrentA: Float(240),
		VoltageV: Float(230),
	}
}

func Float(v float64) *float64 { return &v }

func oneDecimal(v float64) *float64 {
	return Float(math.Round(v*10) / 10)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
