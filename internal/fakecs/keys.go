package fakecs

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is one entry of the fake server's configuration surface.
type Key struct {
	Value          string
	ReadOnly       bool
	RebootRequired bool
	Validate       func(string) error
}

var measurands = []string{
	"Energy.Active.Import.Register",
	"Energy.Reactive.Import.Register",
	"Energy.Active.Export.Register",
	"Energy.Reactive.Export.Register",
	"Power.Active.Import",
	"Power.Reactive.Import",
	"Power.Active.Export",
	"Power.Reactive.Export",
	"Current.Import",
	"Current.Export",
	"Voltage",
	"Temperature",
}

// DefaultKeys is a strict OCPP 1.6 configuration surface.
func DefaultKeys() map[string]*Key {
	return map[string]*Key{
		"HeartbeatInterval":                       {Value: "300", Validate: intRange(0, 1<<31-1)},
		"ConnectionTimeOut":                       {Value: "60", Validate: intRange(0, 1<<31-1), RebootRequired: true},
		"ResetRetries":                            {Value: "3", Validate: intRange(0, 1<<31-1)},
		"BlinkRepeat":                             {Value: "3", Validate: intRange(0, 10)},
		"LightIntensity":                          {Value: "50", Validate: intRange(0, 100)},
		"MeterValuesSampledData":                  {Value: "Energy.Active.Import.Register,Power.Active.Import", Validate: csv(measurands)},
		"MeterValuesAlignedData":                  {Value: "Energy.Active.Import.Register", Validate: csv(nil)},
		"MeterValueSampleInterval":                {Value: "60", Validate: intRange(0, 3600)},
		"ClockAlignedDataInterval":                {Value: "900", Validate: intRange(0, 86400)},
		"StopTxnSampledData":                      {Value: "Energy.Active.Import.Register", Validate: csv(nil)},
		"StopTxnAlignedData":                      {Value: "", Validate: csv(nil)},
		"LocalAuthorizeOffline":                   {Value: "true", Validate: boolean},
		"LocalPreAuthorize":                       {Value: "false", Validate: boolean},
		"AuthorizeRemoteTxRequests":               {Value: "false", Validate: boolean},
		"ChargeProfileMaxStackLevel":              {Value: "10", ReadOnly: true},
		"ChargingScheduleAllowedChargingRateUnit": {Value: "Current,Power", ReadOnly: true},
		"ChargingScheduleMaxPeriods":              {Value: "24", ReadOnly: true},
		"MaxChargingProfilesInstalled":            {Value: "10", ReadOnly: true},
		"ConnectorSwitch3to1PhaseSupported":       {Value: "false", ReadOnly: true},
		"WebSocketPingInterval":                   {Value: "60", Validate: intRange(0, 3600), RebootRequired: true},
		"GetConfigurationMaxKeys":                 {Value: "100", ReadOnly: true},
		"SupportedFeatureProfiles":                {Value: "Core,SmartCharging,RemoteTrigger", ReadOnly: true, RebootRequired: true},
	}
}

func intRange(min, max int) func(string) error {
	return func(v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		if i < min || i > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

func boolean(v string) error {
	switch strings.ToLower(v) {
	case "true", "false":
		return nil
	}
	return fmt.Errorf("must be true or false")
}

func csv(allowed []string) func(string) error {
	return func(v string) error {
		if v == "" || len(allowed) == 0 {
			return nil
		}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			found := false
			for _, a := range allowed {
				if part == a {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("invalid value: %s", part)
			}
		}
		return nil
	}
}
