package model

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"observatory/alpaca"
)

// TelescopeSnapshot holds the last-observed mount properties.
type TelescopeSnapshot struct {
	RightAscension float64
	Declination    float64
	Altitude       float64
	Azimuth        float64
	SiderealTime   float64
	Tracking       bool
	Slewing        bool
	AtPark         bool
	AtHome         bool
}

// Telescope is the model over a mount adapter.
type Telescope struct {
	broadcaster
	adapter *alpaca.Telescope

	mu   sync.Mutex
	snap TelescopeSnapshot
}

// NewTelescope wraps a mount adapter.
func NewTelescope(adapter *alpaca.Telescope, logger log.FieldLogger) *Telescope {
	return &Telescope{
		broadcaster: newBroadcaster("telescope", logger),
		adapter:     adapter,
	}
}

// Adapter exposes the underlying device adapter for direct command access.
func (m *Telescope) Adapter() *alpaca.Telescope { return m.adapter }

// Snapshot returns a copy of the last-observed properties.
func (m *Telescope) Snapshot() TelescopeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Refresh reads the mount's cheap getters and publishes change events for
// every property that transitioned. It never issues actions and may
// interleave with an in-flight operation on the same device.
func (m *Telescope) Refresh(ctx context.Context) error {
	ra, err := m.adapter.RightAscension(ctx)
	if err != nil {
		return err
	}
	dec, err := m.adapter.Declination(ctx)
	if err != nil {
		return err
	}
	alt, err := m.adapter.Altitude(ctx)
	if err != nil {
		return err
	}
	az, err := m.adapter.Azimuth(ctx)
	if err != nil {
		return err
	}
	sidereal, err := m.adapter.SiderealTime(ctx)
	if err != nil {
		return err
	}
	tracking, err := m.adapter.Tracking(ctx)
	if err != nil {
		return err
	}
	slewing, err := m.adapter.Slewing(ctx)
	if err != nil {
		return err
	}
	atPark, err := m.adapter.AtPark(ctx)
	if err != nil {
		return err
	}
	atHome, err := m.adapter.AtHome(ctx)
	if err != nil {
		return err
	}

	// The reported moving flag stays true while an operation is pending so
	// a not-moving snapshot always means the device is idle.
	if op := m.adapter.Pending(); op != nil {
		slewing = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	setField(&m.broadcaster, "right_ascension", &m.snap.RightAscension, ra)
	setField(&m.broadcaster, "declination", &m.snap.Declination, dec)
	setField(&m.broadcaster, "altitude", &m.snap.Altitude, alt)
	setField(&m.broadcaster, "azimuth", &m.snap.Azimuth, az)
	setField(&m.broadcaster, "sidereal_time", &m.snap.SiderealTime, sidereal)
	setField(&m.broadcaster, "tracking", &m.snap.Tracking, tracking)
	setField(&m.broadcaster, "slewing", &m.snap.Slewing, slewing)
	setField(&m.broadcaster, "at_park", &m.snap.AtPark, atPark)
	setField(&m.broadcaster, "at_home", &m.snap.AtHome, atHome)
	return nil
}

// SlewToCoordinates delegates to the adapter and surfaces failures as error
// events as well as the returned error.
func (m *Telescope) SlewToCoordinates(ctx context.Context, ra, dec float64) error {
	if err := m.adapter.SlewToCoordinates(ctx, ra, dec); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// SetTracking delegates to the adapter.
func (m *Telescope) SetTracking(ctx context.Context, tracking bool) error {
	if err := m.adapter.SetTracking(ctx, tracking); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// AbortSlew delegates to the adapter. Always accepted.
func (m *Telescope) AbortSlew(ctx context.Context) error {
	if err := m.adapter.AbortSlew(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// Park delegates to the adapter.
func (m *Telescope) Park(ctx context.Context) error {
	if err := m.adapter.Park(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// Unpark delegates to the adapter.
func (m *Telescope) Unpark(ctx context.Context) error {
	if err := m.adapter.Unpark(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// FindHome delegates to the adapter.
func (m *Telescope) FindHome(ctx context.Context) error {
	if err := m.adapter.FindHome(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}
