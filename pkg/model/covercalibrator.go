package model

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"observatory/alpaca"
)

// CoverCalibratorSnapshot holds the last-observed cover/calibrator
// properties. CoverMoving and CalibratorChanging are derived flags, see
// Refresh.
type CoverCalibratorSnapshot struct {
	Cover              alpaca.CoverState
	CoverMoving        bool
	Calibrator         alpaca.CalibratorState
	CalibratorChanging bool
	Brightness         int
}

// CoverCalibrator is the model over a cover/calibrator adapter. Commands
// against an absent sub-feature are rejected locally, with an error event
// and no network call.
type CoverCalibrator struct {
	broadcaster
	adapter *alpaca.CoverCalibrator

	mu   sync.Mutex
	snap CoverCalibratorSnapshot

	// fallbackChanging is set once the driver turns out not to support the
	// calibratorchanging indicator. The fallback infers "changing" from a
	// state transition between two consecutive refreshes, which misses a
	// change that starts and settles within one tick; shorten the refresh
	// interval if that matters for a given driver.
	fallbackChanging bool

	// seeded is set after the first refresh populates the snapshot. Until
	// then the heuristic has no baseline to compare against.
	seeded bool
}

// NewCoverCalibrator wraps a cover/calibrator adapter.
func NewCoverCalibrator(adapter *alpaca.CoverCalibrator, logger log.FieldLogger) *CoverCalibrator {
	return &CoverCalibrator{
		broadcaster: newBroadcaster("covercalibrator", logger),
		adapter:     adapter,
	}
}

// Adapter exposes the underlying device adapter for direct command access.
func (m *CoverCalibrator) Adapter() *alpaca.CoverCalibrator { return m.adapter }

// Snapshot returns a copy of the last-observed properties.
func (m *CoverCalibrator) Snapshot() CoverCalibratorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// UsingChangingFallback reports whether calibrator_changing events come
// from the consecutive-state heuristic rather than the driver's indicator.
func (m *CoverCalibrator) UsingChangingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackChanging
}

// Refresh reads the device's cheap getters and publishes change events for
// every property that transitioned. cover_moving derives from the Moving
// status code; calibrator_changing uses the driver's indicator when
// supported and the consecutive-state heuristic otherwise.
func (m *CoverCalibrator) Refresh(ctx context.Context) error {
	snap := CoverCalibratorSnapshot{}

	if m.adapter.CoverPresent() {
		cover, err := m.adapter.CoverStatus(ctx)
		if err != nil {
			return err
		}
		snap.Cover = cover
		snap.CoverMoving = cover == alpaca.CoverMoving
	}

	usedFallback := false
	if m.adapter.CalibratorPresent() {
		cal, err := m.adapter.CalibratorStatus(ctx)
		if err != nil {
			return err
		}
		snap.Calibrator = cal

		brightness, err := m.adapter.Brightness(ctx)
		if err != nil {
			return err
		}
		snap.Brightness = brightness

		changing, err := m.adapter.CalibratorIsChanging(ctx)
		switch {
		case err == nil:
			snap.CalibratorChanging = changing
		case errors.Is(err, alpaca.ErrCapabilityAbsent):
			// Heuristic: a state transition since the previous refresh
			// counts as "changing" for this tick only. The first refresh
			// only establishes the baseline.
			usedFallback = true
			m.mu.Lock()
			snap.CalibratorChanging = m.seeded && cal != m.snap.Calibrator
			m.mu.Unlock()
		default:
			return err
		}
	}

	if op := m.adapter.Pending(); op != nil {
		switch op.Kind() {
		case alpaca.OpCoverOpen, alpaca.OpCoverClose:
			snap.CoverMoving = true
		case alpaca.OpCalibratorOn, alpaca.OpCalibratorOff:
			snap.CalibratorChanging = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackChanging = usedFallback
	m.seeded = true
	setField(&m.broadcaster, "cover_state", &m.snap.Cover, snap.Cover)
	setField(&m.broadcaster, "cover_moving", &m.snap.CoverMoving, snap.CoverMoving)
	setField(&m.broadcaster, "calibrator_state", &m.snap.Calibrator, snap.Calibrator)
	setField(&m.broadcaster, "calibrator_changing", &m.snap.CalibratorChanging, snap.CalibratorChanging)
	setField(&m.broadcaster, "brightness", &m.snap.Brightness, snap.Brightness)
	return nil
}

func (m *CoverCalibrator) guardCover(op string) error {
	if !m.adapter.CoverPresent() {
		err := &alpaca.Error{Kind: alpaca.KindCapabilityAbsent, Op: op}
		m.publishError(err)
		return err
	}
	return nil
}

func (m *CoverCalibrator) guardCalibrator(op string) error {
	if !m.adapter.CalibratorPresent() {
		err := &alpaca.Error{Kind: alpaca.KindCapabilityAbsent, Op: op}
		m.publishError(err)
		return err
	}
	return nil
}

// OpenCover delegates to the adapter after the local capability guard.
func (m *CoverCalibrator) OpenCover(ctx context.Context) error {
	if err := m.guardCover("opencover"); err != nil {
		return err
	}
	if err := m.adapter.OpenCover(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// CloseCover delegates to the adapter after the local capability guard.
func (m *CoverCalibrator) CloseCover(ctx context.Context) error {
	if err := m.guardCover("closecover"); err != nil {
		return err
	}
	if err := m.adapter.CloseCover(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// HaltCover delegates to the adapter. Always accepted when a cover exists.
func (m *CoverCalibrator) HaltCover(ctx context.Context) error {
	if err := m.guardCover("haltcover"); err != nil {
		return err
	}
	if err := m.adapter.HaltCover(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// CalibratorOn energizes the calibrator, clamping the requested brightness
// to the device range. An on command while already on adjusts brightness in
// place.
func (m *CoverCalibrator) CalibratorOn(ctx context.Context, brightness int) error {
	if err := m.guardCalibrator("calibratoron"); err != nil {
		return err
	}
	if brightness < 0 {
		brightness = 0
	}
	if max := m.adapter.MaxBrightness(); brightness > max {
		brightness = max
	}
	if err := m.adapter.CalibratorOn(ctx, brightness); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// CalibratorOff delegates to the adapter after the local capability guard.
func (m *CoverCalibrator) CalibratorOff(ctx context.Context) error {
	if err := m.guardCalibrator("calibratoroff"); err != nil {
		return err
	}
	if err := m.adapter.CalibratorOff(ctx); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}

// SetBrightness adjusts an energized calibrator, clamping to the device
// range.
func (m *CoverCalibrator) SetBrightness(ctx context.Context, brightness int) error {
	if err := m.guardCalibrator("calibratoron"); err != nil {
		return err
	}
	if brightness < 0 {
		brightness = 0
	}
	if max := m.adapter.MaxBrightness(); brightness > max {
		brightness = max
	}
	if err := m.adapter.SetBrightness(ctx, brightness); err != nil {
		m.publishError(err)
		return err
	}
	return nil
}
