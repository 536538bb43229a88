// Package config loads the observatory daemon configuration from a YAML
// file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Devices DevicesConfig `yaml:"devices"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// DevicesConfig lists the devices the daemon manages. Absent sections are
// simply not managed.
type DevicesConfig struct {
	Telescope       *DeviceConfig `yaml:"telescope"`
	Dome            *DeviceConfig `yaml:"dome"`
	CoverCalibrator *DeviceConfig `yaml:"covercalibrator"`
}

// DeviceConfig describes one device session.
type DeviceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Number          int           `yaml:"number"`
	ClientID        int           `yaml:"client_id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MQTTConfig configures the optional telemetry bridge. An empty broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration defaults applied before the file is
// read.
func Default() Config {
	return Config{
		MQTT: MQTTConfig{
			TopicPrefix: "observatory",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate applies per-device defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	for name, dev := range map[string]*DeviceConfig{
		"telescope":       c.Devices.Telescope,
		"dome":            c.Devices.Dome,
		"covercalibrator": c.Devices.CoverCalibrator,
	} {
		if dev == nil {
			continue
		}
		if dev.BaseURL == "" {
			return fmt.Errorf("device %s: base_url is required", name)
		}
		if dev.Number < 0 {
			return fmt.Errorf("device %s: invalid device number %d", name, dev.Number)
		}
		if dev.ClientID == 0 {
			dev.ClientID = 1
		}
		if dev.PollInterval <= 0 {
			dev.PollInterval = time.Second
		}
		if dev.PollTimeout <= 0 {
			dev.PollTimeout = 30 * time.Second
		}
		if dev.RefreshInterval <= 0 {
			dev.RefreshInterval = time.Second
		}
	}
	return nil
}
