package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server: ws://cs.example:9000/ocpp
client_id: CP-FILE
call_timeout: 5s
timeout: 1m
log_level: debug
mqtt:
  broker: tcp://broker:1883
  topic: fleet
simulation:
  duration: 10s
  interval: 2s
  nominal_power: 11000
  id_tag: FILE-TAG
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.SuiteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Simulation.Duration)
	assert.Equal(t, 5*time.Second, cfg.Simulation.Interval)
	assert.Equal(t, 7400.0, cfg.Simulation.NominalPowerW)
	assert.Equal(t, 230.0, cfg.Simulation.NominalVoltageV)
	assert.Equal(t, "TEST-TAG", cfg.Simulation.IdTag)
	assert.Equal(t, 1, cfg.Simulation.ConnectorID)
	assert.Equal(t, 1000, cfg.Simulation.MeterStartWh)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse("config-validator", []string{"-cs", "ws://localhost:9000", "-cp", "CP-1", "-timeout", "45s"}, Default(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000", cfg.Server)
	assert.Equal(t, "CP-1", cfg.ClientID)
	assert.Equal(t, 45*time.Second, cfg.SuiteTimeout)
	require.NoError(t, cfg.Validate())
}

func TestParseUnknownSectionFlag(t *testing.T) {
	_, err := Parse("config-validator", []string{"-power", "100"}, Default(), 0, nil)
	assert.Error(t, err)
}

func TestFileThenFlags(t *testing.T) {
	path := writeConfig(t, sample)
	var history bool
	cfg, err := Parse("meter-simulator",
		[]string{"-config", path, "-cp", "CP-FLAG", "-interval", "1s", "-history"},
		Default(), SimulationFlags|MQTTFlags,
		func(fs *flag.FlagSet) { fs.BoolVar(&history, "history", false, "") })
	require.NoError(t, err)

	assert.True(t, history)
	assert.Equal(t, "ws://cs.example:9000/ocpp", cfg.Server)
	assert.Equal(t, "CP-FLAG", cfg.ClientID)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, time.Minute, cfg.SuiteTimeout)
	assert.Equal(t, log.DebugLevel, cfg.Level())
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "fleet", cfg.MQTT.Topic)
	assert.Equal(t, 10*time.Second, cfg.Simulation.Duration)
	assert.Equal(t, time.Second, cfg.Simulation.Interval)
	assert.Equal(t, 11000.0, cfg.Simulation.NominalPowerW)
	assert.Equal(t, 230.0, cfg.Simulation.NominalVoltageV)
	assert.Equal(t, "FILE-TAG", cfg.Plan().IdTag)
	assert.Equal(t, 11000.0, cfg.SimulatorConfig().NominalPowerW)
}

func TestBadFile(t *testing.T) {
	_, err := Parse("x", []string{"-config", writeConfig(t, "server: [")}, Default(), 0, nil)
	assert.Error(t, err)

	_, err = Parse("x", []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, Default(), 0, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server = "http://localhost"
	cfg.CallTimeout = 0
	cfg.LogLevel = "loud"
	cfg.Simulation.NominalVoltageV = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be ws:// or wss://")
	assert.Contains(t, err.Error(), "missing charge point id")
	assert.Contains(t, err.Error(), "call timeout must be positive")
	assert.Contains(t, err.Error(), "not a valid logrus Level")
	assert.Contains(t, err.Error(), "voltage must be positive, got 0")

	cfg = Default()
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing central system url")
}

func TestValidateRejectsNegativeVoltage(t *testing.T) {
	cfg, err := Parse("meter-simulator", []string{"-cs", "ws://localhost:9000", "-cp", "CP-1", "-voltage", "-230"}, Default(), SimulationFlags, nil)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voltage must be positive, got -230")
}

func TestTransportOptions(t *testing.T) {
	cfg := Default()
	cfg.Server = "ws://localhost:9000"
	cfg.Password = "secret"
	opts, err := cfg.TransportOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", opts.Password)
	assert.Nil(t, opts.TLSConfig)

	cfg.Server = "wss://localhost:9000"
	cfg.Insecure = true
	opts, err = cfg.TransportOptions(nil)
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.True(t, opts.TLSConfig.InsecureSkipVerify)
}
