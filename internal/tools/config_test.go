package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/luxmeter/tsl2591"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultBackend, cfg.I2C.Backend)
	assert.Equal(t, DefaultBus, cfg.I2C.Bus)
	assert.Equal(t, tsl2591.TSL2591_ADDR, cfg.I2C.Address)
	assert.Equal(t, tsl2591.GainLow, cfg.Gain)
	assert.Equal(t, tsl2591.IntegrationTime600MS, cfg.Integration)
	assert.Equal(t, "Lux", cfg.Upload.Field)
	assert.Equal(t, []string{"sqlite"}, cfg.Upload.Sinks)
	assert.Equal(t, 30*time.Second, cfg.Record.Interval)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("LUXMETER_SENSOR_GAIN", "high")
	t.Setenv("LUXMETER_SENSOR_INTEGRATION", "200ms")
	t.Setenv("LUXMETER_I2C_ADDRESS", "0x39")
	t.Setenv("LUXMETER_RECORD_INTERVAL", "5s")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, tsl2591.GainHigh, cfg.Gain)
	assert.Equal(t, tsl2591.IntegrationTime200MS, cfg.Integration)
	assert.Equal(t, uint16(0x39), cfg.I2C.Address)
	assert.Equal(t, 5*time.Second, cfg.Record.Interval)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
i2c:
  backend: fake
sensor:
  gain: high
  integration: 100ms
upload:
  field: Illuminance
`), 0644))

	cmd := &cobra.Command{Use: "test"}
	Flags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", file, "--integration", "300ms"}))

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "fake", cfg.I2C.Backend)
	assert.Equal(t, tsl2591.GainHigh, cfg.Gain)
	assert.Equal(t, tsl2591.IntegrationTime300MS, cfg.Integration)
	assert.Equal(t, "Illuminance", cfg.Upload.Field)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("LUXMETER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig(nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			I2C:    I2COpt{Backend: "devfs"},
			Sensor: SensorOpt{Gain: "low", Integration: "600ms"},
			Upload: UploadOpt{Field: "Lux", Sinks: []string{"sqlite"}},
			Record: RecordOpt{Interval: time.Second},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "bad gain", mutate: func(c *Config) { c.Sensor.Gain = "huge" }},
		{name: "bad integration", mutate: func(c *Config) { c.Sensor.Integration = "50ms" }},
		{name: "bad backend", mutate: func(c *Config) { c.I2C.Backend = "spi" }},
		{name: "empty field", mutate: func(c *Config) { c.Upload.Field = "" }},
		{name: "no sinks", mutate: func(c *Config) { c.Upload.Sinks = nil }},
		{name: "unknown sink", mutate: func(c *Config) { c.Upload.Sinks = []string{"firebase"} }},
		{name: "mqtt without broker", mutate: func(c *Config) { c.Upload.Sinks = []string{"mqtt"} }},
		{name: "zero interval", mutate: func(c *Config) { c.Record.Interval = 0 }},
	}

	c := valid()
	require.NoError(t, c.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
