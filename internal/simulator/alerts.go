package simulator

import (
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// Alert is a threshold a sample is expected to cross on the server side.
type Alert struct {
	Measurand types.Measurand
	Value     float64
	Reason    string
}

const (
	maxPowerW       = 50000
	maxTemperatureC = 70
	minTemperatureC = -10
	minVoltageV     = 207
	maxVoltageV     = 253
	maxCurrentA     = 80
)

// Alerts returns the overload conditions present in s.
func Alerts(s Sample) []Alert {
	var alerts []Alert
	if s.PowerW > maxPowerW {
		alerts = append(alerts, Alert{types.MeasurandPowerActiveImport, float64(s.PowerW), fmt.Sprintf("power above %d W", maxPowerW)})
	}
	if t := s.TemperatureC; t != nil {
		switch {
		case *t > maxTemperatureC:
			alerts = append(alerts, Alert{types.MeasurandTemperature, *t, fmt.Sprintf("temperature above %d C", maxTemperatureC)})
		case *t < minTemperatureC:
			alerts = append(alerts, Alert{types.MeasurandTemperature, *t, fmt.Sprintf("temperature below %d C", minTemperatureC)})
		}
	}
	if v := s.VoltageV; v != nil && (*v > maxVoltageV || *v < minVoltageV) {
		alerts = append(alerts, Alert{types.MeasurandVoltage, *v, fmt.Sprintf("voltage outside %d-%d V", minVoltageV, maxVoltageV)})
	}
	if c := s.CurrentA; c != nil && *c > maxCurrentA {
		alerts = append(alerts, Alert{types.MeasurandCurrentImport, *c, fmt.Sprintf("current above %d A", maxCurrentA)})
	}
	return alerts
}
