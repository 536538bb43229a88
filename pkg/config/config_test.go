package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observatory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
devices:
  telescope:
    base_url: http://localhost:11111
    number: 0
    poll_interval: 500ms
  dome:
    base_url: http://localhost:11111
    number: 1
    client_id: 7
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: obs
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tel := cfg.Devices.Telescope
	require.NotNil(t, tel)
	assert.Equal(t, "http://localhost:11111", tel.BaseURL)
	assert.Equal(t, 500*time.Millisecond, tel.PollInterval)
	// Unset values fall back to their defaults.
	assert.Equal(t, 1, tel.ClientID)
	assert.Equal(t, 30*time.Second, tel.PollTimeout)
	assert.Equal(t, time.Second, tel.RefreshInterval)

	dome := cfg.Devices.Dome
	require.NotNil(t, dome)
	assert.Equal(t, 1, dome.Number)
	assert.Equal(t, 7, dome.ClientID)

	assert.Nil(t, cfg.Devices.CoverCalibrator)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "obs", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "devices: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
devices:
  dome:
    number: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
}

func TestValidateRejectsNegativeNumber(t *testing.T) {
	cfg := Default()
	cfg.Devices.Telescope = &DeviceConfig{
		BaseURL: "http://localhost:11111",
		Number:  -1,
	}
	assert.Error(t, cfg.Validate())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "observatory", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.Devices.Telescope)
}
