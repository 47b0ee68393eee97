// Package config resolves harness settings from defaults, an optional YAML
// file and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ocpp_cp_harness/internal/correlator"
	"ocpp_cp_harness/internal/simulator"
	"ocpp_cp_harness/internal/telemetry"
	"ocpp_cp_harness/internal/transport"
)

type Config struct {
	Server       string        `yaml:"server"`
	ClientID     string        `yaml:"client_id"`
	Password     string        `yaml:"password"`
	CACert       string        `yaml:"ca_cert"`
	Insecure     bool          `yaml:"insecure"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	SuiteTimeout time.Duration `yaml:"timeout"`
	DBPath       string        `yaml:"db"`
	LogLevel     string        `yaml:"log_level"`

	MQTT       telemetry.Config `yaml:"mqtt"`
	Simulation Simulation       `yaml:"simulation"`
}

type Simulation struct {
	Duration        time.Duration `yaml:"duration"`
	Interval        time.Duration `yaml:"interval"`
	NominalPowerW   float64       `yaml:"nominal_power"`
	NominalVoltageV float64       `yaml:"nominal_voltage"`
	IdTag           string        `yaml:"id_tag"`
	ConnectorID     int           `yaml:"connector_id"`
	MeterStartWh    int           `yaml:"meter_start"`
}

func Default() Config {
	sim := simulator.DefaultConfig()
	plan := simulator.DefaultPlan()
	return Config{
		CallTimeout:  correlator.DefaultTimeout,
		SuiteTimeout: 30 * time.Second,
		LogLevel:     log.InfoLevel.String(),
		MQTT:         telemetry.Config{Topic: "ocpp"},
		Simulation: Simulation{
			Duration:        plan.Duration,
			Interval:        plan.Interval,
			NominalPowerW:   sim.NominalPowerW,
			NominalVoltageV: sim.NominalVoltageV,
			IdTag:           plan.IdTag,
			ConnectorID:     sim.ConnectorID,
			MeterStartWh:    plan.MeterStartWh,
		},
	}
}

// Load overlays the YAML file at path onto cfg.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Section selects optional flag groups.
type Section int

const (
	SimulationFlags Section = 1 << iota
	MQTTFlags
)

// Parse resolves the configuration for the command name. extra binds
// command specific flags that are not part of Config.
func Parse(name string, args []string, defaults Config, sections Section, extra func(fs *flag.FlagSet)) (*Config, error) {
	cfg := defaults
	var path string

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "YAML configuration file")
	bind(fs, &cfg, sections)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if path == "" {
		return &cfg, nil
	}

	fromFile := defaults
	if err := Load(path, &fromFile); err != nil {
		return nil, err
	}
	overrides := flag.NewFlagSet(name, flag.ContinueOnError)
	bind(overrides, &fromFile, sections)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if overrides.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		setErr = overrides.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return nil, setErr
	}
	return &fromFile, nil
}

func bind(fs *flag.FlagSet, cfg *Config, sections Section) {
	fs.StringVar(&cfg.Server, "cs", cfg.Server, "central system url")
	fs.StringVar(&cfg.ClientID, "cp", cfg.ClientID, "charge point id")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "basic auth password")
	fs.StringVar(&cfg.CACert, "ca-cert", cfg.CACert, "extra root certificate (PEM) for wss://")
	fs.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "skip TLS certificate verification")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "time to wait for each response")
	fs.DurationVar(&cfg.SuiteTimeout, "timeout", cfg.SuiteTimeout, "overall run timeout (0 = none)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "db path (empty = no persistence)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	if sections&SimulationFlags != 0 {
		fs.DurationVar(&cfg.Simulation.Duration, "duration", cfg.Simulation.Duration, "charging session length")
		fs.DurationVar(&cfg.Simulation.Interval, "interval", cfg.Simulation.Interval, "meter value interval")
		fs.Float64Var(&cfg.Simulation.NominalPowerW, "power", cfg.Simulation.NominalPowerW, "nominal charging power (W)")
		fs.Float64Var(&cfg.Simulation.NominalVoltageV, "voltage", cfg.Simulation.NominalVoltageV, "nominal voltage (V)")
		fs.StringVar(&cfg.Simulation.IdTag, "id-tag", cfg.Simulation.IdTag, "idTag used to start transactions")
		fs.IntVar(&cfg.Simulation.ConnectorID, "connector", cfg.Simulation.ConnectorID, "connector id")
		fs.IntVar(&cfg.Simulation.MeterStartWh, "meter-start", cfg.Simulation.MeterStartWh, "meter start (Wh)")
	}
	if sections&MQTTFlags != 0 {
		fs.StringVar(&cfg.MQTT.BrokerURL, "mqtt-broker", cfg.MQTT.BrokerURL, "MQTT broker url for telemetry (empty = disabled)")
		fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic prefix")
		fs.StringVar(&cfg.MQTT.Username, "mqtt-user", cfg.MQTT.Username, "MQTT user name")
		fs.StringVar(&cfg.MQTT.Password, "mqtt-password", cfg.MQTT.Password, "MQTT password")
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.Server == "":
		errs = append(errs, errors.New("missing central system url"))
	case !strings.HasPrefix(c.Server, "ws://") && !strings.HasPrefix(c.Server, "wss://"):
		errs = append(errs, fmt.Errorf("central system url %q must be ws:// or wss://", c.Server))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("missing charge point id"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if c.SuiteTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.SuiteTimeout))
	}
	if c.Simulation.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Simulation.Interval))
	}
	if c.Simulation.NominalVoltageV <= 0 {
		errs = append(errs, fmt.Errorf("voltage must be positive, got %g", c.Simulation.NominalVoltageV))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// TransportOptions builds the websocket options, with TLS for wss:// urls.
func (c *Config) TransportOptions(logger *log.Entry) (transport.Options, error) {
	opts := transport.Options{Password: c.Password, Logger: logger}
	if strings.HasPrefix(c.Server, "wss://") {
		tlsConfig, err := transport.TLSConfig(c.CACert, c.Insecure)
		if err != nil {
			return opts, err
		}
		opts.TLSConfig = tlsConfig
	}
	return opts, nil
}

func (c *Config) SimulatorConfig() simulator.Config {
	sim := simulator.DefaultConfig()
	sim.ConnectorID = c.Simulation.ConnectorID
	sim.NominalPowerW = c.Simulation.NominalPowerW
	sim.NominalVoltageV = c.Simulation.NominalVoltageV
	return sim
}

func (c *Config) Plan() simulator.Plan {
	return simulator.Plan{
		IdTag:        c.Simulation.IdTag,
		MeterStartWh: c.Simulation.MeterStartWh,
		Duration:     c.Simulation.Duration,
		Interval:     c.Simulation.Interval,
	}
}
