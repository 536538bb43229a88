package model

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"observatory/alpaca"
)

// DomeSnapshot holds the last-observed dome properties. ShutterMoving is
// derived from the shutter status code, not read from the wire.
type DomeSnapshot struct {
	Azimuth       float64
	Slewing       bool
	AtPark        bool
	AtHome        bool
	Slaved        bool
	Shutter       alpaca.ShutterStatus
	ShutterMoving bool
}

// Dome is the model over a dome adapter.
type Dome struct {
	broadcaster
	adapter *alpaca.Dome

	mu   sync.Mutex
	snap DomeSnapshot
}

// NewDome wraps a dome adapter.
func NewDome(adapter *alpaca.Dome, logger log.FieldLogger) *Dome {
	return &Dome{
		broadcaster: newBroadcaster("dome", logger),
		adapter:     adapter,
	}
}

// Adapter exposes the underlying device adapter for direct command access.
func (m *Dome) Adapter() *alpaca.Dome { return m.adapter }

// Snapshot returns a copy of the last-observed properties.
func (m *Dome) Snapshot() DomeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Refresh reads the dome's cheap getters and publishes change events for
// every property that transitioned.
func (m *Dome) Refresh(ctx context.Context) error {
	az, err := m.adapter.Azimuth(ctx)
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
	slaved, err := m.adapter.Slaved(ctx)
	if err != nil {
		return err
	}
	shutter, err := m.adapter.ShutterState(ctx)
	if err != nil {
		return err
	}

	// Keep the moving flags consistent with the pending operation so a
	// not-moving snapshot always means the device is idle.
	shutterMoving := shutter == alpaca.ShutterOpening || shutter == alpaca.ShutterClosing
	if op := m.adapter.Pending(); op != nil {
		switch op.Kind() {
		case alpaca.OpShutterOpen, alpaca.OpShutterClose:
			shutterMoving = true
		default:
			slewing = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	setField(&m.broadcaster, "azimuth", &m.snap.Azimuth, az)
	setField(&m.broadcaster, "slewing", &m.snap.Slewing, slewing)
	setField(&m.broadcaster, "at_park", &m.snap.AtPark, atPark)
	setField(&m.broadcaster, "at_home", &m.snap.AtHome, atHome)
	setField(&m.broadcaster, "slaved", &m.snap.Slaved, slaved)
	setField(&m.broadcaster, "shutter_status", &m.snap.Shutter, shutter)
	setField(&m.broadcaster, "shutter_moving", &m.snap.ShutterMoving, shutterMoving)
	return nil
}

// SlewToAzimuth delegates to the adapter.
func (m *Dome) SlewToAzimuth(ctx context.Context, azimuth float64) error {
	if err := m.adapter.SlewToAzimuth(ctx, azimuth); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// AbortSlew delegates to the adapter. Always accepted.
func (m *Dome) AbortSlew(ctx context.Context) error {
	if err := m.adapter.AbortSlew(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// OpenShutter delegates to the adapter.
func (m *Dome) OpenShutter(ctx context.Context) error {
	if err := m.adapter.OpenShutter(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// CloseShutter delegates to the adapter.
func (m *Dome) CloseShutter(ctx context.Context) error {
	if err := m.adapter.CloseShutter(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// Park delegates to the adapter.
func (m *Dome) Park(ctx context.Context) error {
	if err := m.adapter.Park(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// Unpark delegates to the adapter.
func (m *Dome) Unpark(ctx context.Context) error {
	if err := m.adapter.Unpark(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// FindHome delegates to the adapter.
func (m *Dome) FindHome(ctx context.Context) error {
	if err := m.adapter.FindHome(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// SetSlaved delegates to the adapter.
func (m *Dome) SetSlaved(ctx context.Context, slaved bool) error {
	if err := m.adapter.SetSlaved(ctx, slaved); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}
