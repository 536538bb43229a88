package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"observatory/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "observatory.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := New(db)
	require.NoError(t, err)
	return st
}

func TestNewSeedsDefaults(t *testing.T) {
	st := newTestStore(t)

	cfg, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestConfigRoundTrip(t *testing.T) {
	st := newTestStore(t)

	cfg := config.Default()
	cfg.Devices.Telescope = &config.DeviceConfig{
		BaseURL:         "http://localhost:11111",
		ClientID:        1,
		PollInterval:    time.Second,
		PollTimeout:     30 * time.Second,
		RefreshInterval: time.Second,
	}
	cfg.MQTT.Broker = "tcp://localhost:1883"

	require.NoError(t, st.SetConfig(cfg))

	got, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSetConfigOverwrites(t *testing.T) {
	st := newTestStore(t)

	first := config.Default()
	first.Log.Level = "debug"
	require.NoError(t, st.SetConfig(first))

	second := config.Default()
	second.Log.Level = "warn"
	require.NoError(t, st.SetConfig(second))

	got, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", got.Log.Level)
}
