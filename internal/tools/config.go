package tools

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ztkent/luxmeter/tsl2591"
)

const (
	DefaultAppName      = "luxmeter"
	DefaultConfigName   = "config"
	DefaultBus          = "/dev/i2c-1"
	DefaultBackend      = "devfs"
	DefaultField        = "Lux"
	DefaultDBPath       = "luxmeter.db"
	DefaultMQTTTopic    = "luxmeter"
	DefaultMQTTClientID = "luxmeter"
	DefaultPort         = 80
	DefaultInterval     = 30 * time.Second
	DefaultMaxDuration  = 8 * time.Hour
)

var userHomeDir, _ = os.UserHomeDir()
var DefaultConfigSearchPath0 = path.Join(userHomeDir, ".config", DefaultAppName)

const DefaultConfigSearchPath1 = "/etc/" + DefaultAppName
const DefaultConfigSearchPath2 = "./"

type LogOpt struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

type I2COpt struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Bus     string `yaml:"bus" mapstructure:"bus"`
	Address uint16 `yaml:"address" mapstructure:"address"`
}

type SensorOpt struct {
	Gain        string `yaml:"gain" mapstructure:"gain"`
	Integration string `yaml:"integration" mapstructure:"integration"`
}

type UploadOpt struct {
	Field string   `yaml:"field" mapstructure:"field"`
	Sinks []string `yaml:"sinks" mapstructure:"sinks"`
}

type DBOpt struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type MQTTOpt struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

type ServerOpt struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	SSL       bool   `yaml:"ssl" mapstructure:"ssl"`
	Cert      string `yaml:"cert" mapstructure:"cert"`
	Key       string `yaml:"key" mapstructure:"key"`
	LocalOnly bool   `yaml:"local_only" mapstructure:"local_only"`
}

type RecordOpt struct {
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxDuration time.Duration `yaml:"max_duration" mapstructure:"max_duration"`
}

// Config is everything the luxmeter commands read from flags, environment
// and the config file.
type Config struct {
	Log    LogOpt    `yaml:"log" mapstructure:"log"`
	I2C    I2COpt    `yaml:"i2c" mapstructure:"i2c"`
	Sensor SensorOpt `yaml:"sensor" mapstructure:"sensor"`
	Upload UploadOpt `yaml:"upload" mapstructure:"upload"`
	DB     DBOpt     `yaml:"db" mapstructure:"db"`
	MQTT   MQTTOpt   `yaml:"mqtt" mapstructure:"mqtt"`
	Server ServerOpt `yaml:"server" mapstructure:"server"`
	Record RecordOpt `yaml:"record" mapstructure:"record"`

	// Parsed from Sensor by Validate
	Gain        tsl2591.Gain            `yaml:"-" mapstructure:"-"`
	Integration tsl2591.IntegrationTime `yaml:"-" mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("i2c.backend", DefaultBackend)
	v.SetDefault("i2c.bus", DefaultBus)
	v.SetDefault("i2c.address", tsl2591.TSL2591_ADDR)
	v.SetDefault("sensor.gain", "low")
	v.SetDefault("sensor.integration", "600ms")
	v.SetDefault("upload.field", DefaultField)
	v.SetDefault("upload.sinks", []string{"sqlite"})
	v.SetDefault("db.path", DefaultDBPath)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.ssl", false)
	v.SetDefault("server.cert", "cert.pem")
	v.SetDefault("server.key", "key.pem")
	v.SetDefault("server.local_only", false)
	v.SetDefault("record.interval", DefaultInterval)
	v.SetDefault("record.max_duration", DefaultMaxDuration)
}

// Flags registers the command line flags LoadConfig knows how to bind.
func Flags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "configuration file path")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("backend", "", "I2C backend (devfs, periph, fake)")
	cmd.PersistentFlags().String("bus", "", "I2C bus, e.g. /dev/i2c-1")
	cmd.PersistentFlags().String("gain", "", "sensor gain (low, high)")
	cmd.PersistentFlags().String("integration", "", "sensor integration time (100ms..600ms)")
}

// LoadConfig resolves the configuration in this order, highest first:
// command line flags, LUXMETER_* environment variables, the config file
// (--config, LUXMETER_CONFIG, or config.yaml in the search paths), defaults.
func LoadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := ""
	if cmd != nil {
		configFile, _ = cmd.Flags().GetString("config")
	}
	if configFile == "" {
		configFile = os.Getenv("LUXMETER_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigSearchPath0)
		v.AddConfigPath(DefaultConfigSearchPath1)
		v.AddConfigPath(DefaultConfigSearchPath2)
	}

	v.SetEnvPrefix(DefaultAppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		bindFlag(v, cmd, "log.level", "log-level")
		bindFlag(v, cmd, "i2c.backend", "backend")
		bindFlag(v, cmd, "i2c.bus", "bus")
		bindFlag(v, cmd, "sensor.gain", "gain")
		bindFlag(v, cmd, "sensor.integration", "integration")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	if f := cmd.Flags().Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// Validate parses the sensor settings and checks the remaining values.
func (c *Config) Validate() error {
	gain, err := tsl2591.ParseGain(c.Sensor.Gain)
	if err != nil {
		return fmt.Errorf("sensor.gain: %w", err)
	}
	integration, err := tsl2591.ParseIntegrationTime(c.Sensor.Integration)
	if err != nil {
		return fmt.Errorf("sensor.integration: %w", err)
	}
	c.Gain = gain
	c.Integration = integration

	switch c.I2C.Backend {
	case "devfs", "periph", "fake":
	default:
		return fmt.Errorf("i2c.backend: unknown backend %q", c.I2C.Backend)
	}
	if c.Upload.Field == "" {
		return errors.New("upload.field must not be empty")
	}
	if len(c.Upload.Sinks) == 0 {
		return errors.New("upload.sinks must name at least one sink")
	}
	for _, sink := range c.Upload.Sinks {
		switch sink {
		case "sqlite":
		case "mqtt":
			if c.MQTT.Broker == "" {
				return errors.New("mqtt.broker is required for the mqtt sink")
			}
		default:
			return fmt.Errorf("upload.sinks: unknown sink %q", sink)
		}
	}
	if c.Record.Interval <= 0 {
		return errors.New("record.interval must be positive")
	}
	return nil
}
