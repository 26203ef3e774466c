package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// SerialConfig selects the port bridged to MQTT.
type SerialConfig struct {
	Device       string        `mapstructure:"device"`
	BaudRate     int           `mapstructure:"baudRate"`
	Parity       string        `mapstructure:"parity"`
	DataBits     int           `mapstructure:"dataBits"`
	StopBits     int           `mapstructure:"stopBits"`
	Delimiter    string        `mapstructure:"delimiter"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// Options converts the section into serial.Port options.
func (c SerialConfig) Options() ([]serial.Option, error) {
	parity, err := serial.ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	var stop serial.StopBits
	switch c.StopBits {
	case 1:
		stop = serial.StopBitsOne
	case 2:
		stop = serial.StopBitsTwo
	case 15:
		stop = serial.StopBitsOnePointFive
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}
	return []serial.Option{
		serial.WithBaudRate(c.BaudRate),
		serial.WithParity(parity),
		serial.WithDataBits(c.DataBits),
		serial.WithStopBits(stop),
		serial.WithDelimiter(c.Delimiter),
		serial.WithReadTimeout(c.ReadTimeout),
		serial.WithPollInterval(c.PollInterval),
	}, nil
}

// MQTTConfig describes the broker connection and topic layout.
type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"clientId"`
	TopicPrefix string        `mapstructure:"topicPrefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LumberjackConfig configures the rolling log file. An empty Filename
// disables file output.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads configuration from path (YAML, TOML or JSON) and RXSERIAL_*
// environment variables, e.g. RXSERIAL_SERIAL_DEVICE. With an empty path
// RXSERIAL_CONFIG is consulted, then ./rxserial.yaml and
// ./configs/rxserial.yaml; a missing file leaves defaults and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RXSERIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("rxserial")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting the bridge cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial.Device) == "" {
		return errors.New("serial.device is required")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baudRate must be positive, got %d", c.Serial.BaudRate)
	}
	if _, err := c.Serial.Options(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Serial.Delimiter == "" {
		return errors.New("serial.delimiter must not be empty")
	}
	if strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		return errors.New("mqtt.topicPrefix is required")
	}
	if c.Metrics.Enable && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baudRate", serial.DefaultBaudRate)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.dataBits", serial.DefaultDataBits)
	v.SetDefault("serial.stopBits", 1)
	v.SetDefault("serial.delimiter", serial.DefaultDelimiter)
	v.SetDefault("serial.readTimeout", "1s")
	v.SetDefault("serial.pollInterval", serial.DefaultPollInterval.String())

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientId", "")
	v.SetDefault("mqtt.topicPrefix", "serial")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.addr", ":9108")
	v.SetDefault("metrics.path", "/metrics")
}
