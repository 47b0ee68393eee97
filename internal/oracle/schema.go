package oracle

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"ocpp_cp_harness/internal/harness"
)

type Kind int

const (
	Integer Kind = iota
	Boolean
	String
	CSVList
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "Integer"
	case Boolean:
		return "Boolean"
	case String:
		return "String"
	case CSVList:
		return "CSVList"
	}
	return "Unknown"
}

// Constraint is the value domain of a key.
type Constraint interface {
	Kind() Kind
	Check(value string) error
	// Sample is a value inside the domain.
	Sample() string
}

// NoLimit is the upper bound of an integer key with no declared maximum.
const NoLimit = math.MaxInt32

type IntegerRange struct {
	Min int
	Max int
}

func (IntegerRange) Kind() Kind { return Integer }

func (r IntegerRange) Check(value string) error {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%q is not an integer", value)
	}
	if i < r.Min || i > r.Max {
		return fmt.Errorf("%d is outside %d..%d", i, r.Min, r.Max)
	}
	return nil
}

func (r IntegerRange) Sample() string {
	if r.Max-r.Min >= 2 {
		return strconv.Itoa(r.Min + (r.Max-r.Min)/2)
	}
	return strconv.Itoa(r.Min)
}

type Bool struct{}

func (Bool) Kind() Kind { return Boolean }

func (Bool) Check(value string) error {
	switch strings.ToLower(value) {
	case "true", "false":
		return nil
	}
	return fmt.Errorf("%q is not a boolean", value)
}

func (Bool) Sample() string { return "true" }

// List is a comma separated sequence whose every element must be one of
// Elements. An empty Elements accepts any token.
type List struct {
	Elements []string
}

func (List) Kind() Kind { return CSVList }

func (l List) Check(value string) error {
	if value == "" || len(l.Elements) == 0 {
		return nil
	}
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if !contains(l.Elements, token) {
			return fmt.Errorf("unknown element %q", token)
		}
	}
	return nil
}

func (l List) Sample() string {
	if len(l.Elements) == 0 {
		return ""
	}
	return l.Elements[0]
}

type Text struct{}

func (Text) Kind() Kind { return String }

func (Text) Check(string) error { return nil }

func (Text) Sample() string { return "harness" }

// Rule is what the oracle expects of one configuration key.
type Rule struct {
	Name           string
	Constraint     Constraint
	ReadOnly       bool
	RequiresReboot bool
	// Probe is written when checking read-only enforcement. Defaults to
	// Constraint.Sample().
	Probe string
}

func (r Rule) ProbeValue() string {
	if r.Probe != "" {
		return r.Probe
	}
	return r.Constraint.Sample()
}

type Schema map[string]Rule

// MinimumKeyCount is the least number of keys a full GetConfiguration
// should report.
const MinimumKeyCount = 10

// EssentialKeys must be present in a full GetConfiguration.
var EssentialKeys = []string{
	"HeartbeatInterval",
	"MeterValueSampleInterval",
	"LocalAuthorizeOffline",
	"ChargeProfileMaxStackLevel",
}

// Measurands are the sampled data tokens accepted in measurand lists.
var Measurands = []string{
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
	"Current.Offered",
	"Voltage",
	"Temperature",
	"SoC",
}

func DefaultSchema() Schema {
	measurands := List{Elements: Measurands}
	rules := []Rule{
		{Name: "HeartbeatInterval", Constraint: IntegerRange{0, NoLimit}},
		{Name: "ConnectionTimeOut", Constraint: IntegerRange{0, NoLimit}, RequiresReboot: true},
		{Name: "ResetRetries", Constraint: IntegerRange{0, NoLimit}},
		{Name: "BlinkRepeat", Constraint: IntegerRange{0, 10}},
		{Name: "LightIntensity", Constraint: IntegerRange{0, 100}},
		{Name: "MeterValueSampleInterval", Constraint: IntegerRange{0, 3600}},
		{Name: "ClockAlignedDataInterval", Constraint: IntegerRange{0, 86400}},
		{Name: "WebSocketPingInterval", Constraint: IntegerRange{0, 3600}, RequiresReboot: true},
		{Name: "LocalAuthorizeOffline", Constraint: Bool{}},
		{Name: "LocalPreAuthorize", Constraint: Bool{}},
		{Name: "AuthorizeRemoteTxRequests", Constraint: Bool{}},
		{Name: "MeterValuesSampledData", Constraint: measurands},
		{Name: "MeterValuesAlignedData", Constraint: measurands},
		{Name: "StopTxnSampledData", Constraint: measurands},
		{Name: "StopTxnAlignedData", Constraint: measurands},
		{Name: "ChargeProfileMaxStackLevel", Constraint: IntegerRange{0, NoLimit}, ReadOnly: true, Probe: "20"},
		{Name: "ChargingScheduleAllowedChargingRateUnit", Constraint: List{Elements: []string{"Current", "Power"}}, ReadOnly: true},
		{Name: "ChargingScheduleMaxPeriods", Constraint: IntegerRange{0, NoLimit}, ReadOnly: true, Probe: "48"},
		{Name: "MaxChargingProfilesInstalled", Constraint: IntegerRange{0, NoLimit}, ReadOnly: true, Probe: "20"},
		{Name: "ConnectorSwitch3to1PhaseSupported", Constraint: Bool{}, ReadOnly: true},
		{Name: "GetConfigurationMaxKeys", Constraint: IntegerRange{0, NoLimit}, ReadOnly: true, Probe: "200"},
		{Name: "SupportedFeatureProfiles", Constraint: List{Elements: []string{"Core", "FirmwareManagement", "LocalAuthListManagement", "Reservation", "SmartCharging", "RemoteTrigger"}}, ReadOnly: true, RequiresReboot: true},
	}
	s := make(Schema, len(rules))
	for _, r := range rules {
		s[r.Name] = r
	}
	return s
}

// ReadOnlyKeys returns the read-only key names in sorted order.
func (s Schema) ReadOnlyKeys() []string {
	var names []string
	for name, r := range s {
		if r.ReadOnly {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Expectation is the set of ChangeConfiguration statuses that conform for
// one key and value. A Soft expectation is only reported, never failed.
type Expectation struct {
	Key     string
	Value   string
	Allowed []core.ConfigurationStatus
	Soft    bool
	Reason  string
}

func (e Expectation) Matches(status core.ConfigurationStatus) bool {
	for _, s := range e.Allowed {
		if s == status {
			return true
		}
	}
	return false
}

// Check returns an assertion failure when status does not conform.
func (e Expectation) Check(status core.ConfigurationStatus) error {
	if e.Matches(status) {
		return nil
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return harness.Assertf("ChangeConfiguration %s=%q returned %s, expected %s (%s)",
		e.Key, e.Value, status, strings.Join(allowed, " or "), e.Reason)
}

// Expect derives the conforming statuses for writing value to key. Names
// outside the schema are treated as unknown to the server.
func (s Schema) Expect(key, value string) Expectation {
	e := Expectation{Key: key, Value: value}
	rule, ok := s[key]
	switch {
	case !ok:
		e.Allowed = []core.ConfigurationStatus{core.ConfigurationStatusRejected, core.ConfigurationStatusNotSupported}
		e.Reason = "unknown key"
	case rule.ReadOnly:
		e.Allowed = []core.ConfigurationStatus{core.ConfigurationStatusRejected}
		e.Reason = "read-only key"
	case rule.Constraint.Check(value) != nil:
		e.Allowed = []core.ConfigurationStatus{core.ConfigurationStatusRejected, core.ConfigurationStatusNotSupported}
		e.Reason = rule.Constraint.Check(value).Error()
		e.Soft = rule.Constraint.Kind() == CSVList
	case rule.RequiresReboot:
		e.Allowed = []core.ConfigurationStatus{core.ConfigurationStatusAccepted, core.ConfigurationStatusRebootRequired}
		e.Reason = "valid value, applied after reboot"
	default:
		e.Allowed = []core.ConfigurationStatus{core.ConfigurationStatusAccepted, core.ConfigurationStatusRebootRequired}
		e.Reason = "valid value"
	}
	return e
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
