package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AirModes-Relay/internal/sink"
)

// Config is the complete relay configuration. Zero-valued fields in the file
// keep their defaults.
type Config struct {
	Radio     RadioConfig     `yaml:"radio"`
	Transport TransportConfig `yaml:"transport"`
	Queue     QueueConfig     `yaml:"queue"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RadioConfig struct {
	// Source is uhd, osmocom, a capture file, or host:port for UDP frames.
	Source  string `yaml:"source"`
	Subdev  string `yaml:"subdev"`
	Antenna string `yaml:"antenna"`
	Args    string `yaml:"args"`

	Freq float64 `yaml:"freq"`
	// Gain unset selects the device default.
	Gain      *float64 `yaml:"gain"`
	Rate      float64  `yaml:"rate"`
	Threshold float64  `yaml:"threshold"`
	PMF       bool     `yaml:"pmf"`
	DCBlock   bool     `yaml:"dcblock"`

	HardwareTimeout time.Duration `yaml:"hardware_timeout"`
	ReplayInterval  time.Duration `yaml:"replay_interval"` // Pause between replayed frames
}

type TransportConfig struct {
	PublishPort int    `yaml:"publish_port"` // 0 disables the network publisher
	Remote      string `yaml:"remote"`       // Comma-separated relay addresses
	IdentityKey string `yaml:"identity_key"`
	MDNS        bool   `yaml:"mdns"`
	Rendezvous  string `yaml:"rendezvous"`

	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

type QueueConfig struct {
	HighWater int `yaml:"high_water"`
}

type SinksConfig struct {
	NoPrint bool            `yaml:"no_print"`
	MQTT    sink.MQTTConfig `yaml:"mqtt"` // Enabled when broker is set
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. :9108, empty disables
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func Default() *Config {
	return &Config{
		Radio: RadioConfig{
			Source:          "uhd",
			Freq:            1090e6,
			Rate:            4e6,
			Threshold:       7.0,
			HardwareTimeout: 5 * time.Second,
		},
		Transport: TransportConfig{
			Rendezvous:      "modes-relay",
			ConnectAttempts: 3,
			ConnectTimeout:  10 * time.Second,
			RetryInterval:   time.Second,
			DrainTimeout:    2 * time.Second,
		},
		Queue: QueueConfig{HighWater: 10000},
		Sinks: SinksConfig{MQTT: sink.MQTTConfig{TopicPrefix: "modes"}},
		Logging: LoggingConfig{
			Level:      "INFO",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

var validLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

// Validate checks ranges only; source classification and address parsing
// happen at startup where their errors are reported with the value.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Radio.Source) == "" {
		errs = append(errs, errors.New("radio source cannot be empty"))
	}
	if c.Radio.Rate <= 0 {
		errs = append(errs, fmt.Errorf("radio rate must be positive, got %v", c.Radio.Rate))
	}
	if c.Radio.Freq <= 0 {
		errs = append(errs, fmt.Errorf("radio freq must be positive, got %v", c.Radio.Freq))
	}
	if c.Radio.HardwareTimeout <= 0 {
		errs = append(errs, errors.New("radio hardware_timeout must be positive"))
	}
	if c.Transport.PublishPort < 0 || c.Transport.PublishPort > 65535 {
		errs = append(errs, fmt.Errorf("transport publish_port must be between 0 and 65535, got %d", c.Transport.PublishPort))
	}
	if c.Transport.ConnectAttempts < 1 {
		errs = append(errs, errors.New("transport connect_attempts must be at least 1"))
	}
	if c.Transport.DrainTimeout <= 0 {
		errs = append(errs, errors.New("transport drain_timeout must be positive"))
	}
	if c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.Sinks.MQTT.QoS))
	}
	if !validLevels[strings.ToUpper(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging level %q is not one of DEBUG, INFO, WARN, ERROR", c.Logging.Level))
	}
	return errors.Join(errs...)
}
