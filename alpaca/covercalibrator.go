package alpaca

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// CoverState codes as defined by the Alpaca cover/calibrator API.
type CoverState int

const (
	CoverNotPresent CoverState = iota
	CoverClosed
	CoverMoving
	CoverOpen
	CoverUnknown
	CoverFault
)

func (s CoverState) String() string {
	switch s {
	case CoverNotPresent:
		return "not present"
	case CoverClosed:
		return "closed"
	case CoverMoving:
		return "moving"
	case CoverOpen:
		return "open"
	case CoverFault:
		return "error"
	}
	return "unknown"
}

// CalibratorState codes as defined by the Alpaca cover/calibrator API.
type CalibratorState int

const (
	CalibratorNotPresent CalibratorState = iota
	CalibratorOff
	CalibratorReady
	CalibratorNotReady
	CalibratorOn
)

func (s CalibratorState) String() string {
	switch s {
	case CalibratorNotPresent:
		return "not present"
	case CalibratorOff:
		return "off"
	case CalibratorReady:
		return "ready"
	case CalibratorNotReady:
		return "not ready"
	case CalibratorOn:
		return "on"
	}
	return "unknown"
}

// CoverCalibrator is the adapter for an Alpaca cover/calibrator unit. Both
// sub-features are optional: presence is probed once at connect and cached
// for the session, and commands against an absent sub-feature fail without
// a network call.
type CoverCalibrator struct {
	device

	coverPresent      bool
	calibratorPresent bool
	maxBrightness     int

	targetBrightness int

	// Support for the dedicated motion indicators varies across drivers.
	// Probed lazily on first use; nil means untested.
	supportsCoverMoving      *bool
	supportsCalibratorChange *bool
}

// NewCoverCalibrator creates a cover/calibrator adapter over the given
// session.
func NewCoverCalibrator(client *Client, poll PollConfig, logger log.FieldLogger) *CoverCalibrator {
	return &CoverCalibrator{device: newDevice(client, poll, logger)}
}

// Connect establishes the session and probes which sub-features the device
// actually has. The result is cached; it is not re-probed per command.
func (c *CoverCalibrator) Connect(ctx context.Context) error {
	if err := c.device.connect(ctx); err != nil {
		return err
	}

	coverState, err := c.client.GetInt(ctx, "coverstate")
	if err != nil {
		c.setConnected(false)
		return err
	}
	calState, err := c.client.GetInt(ctx, "calibratorstate")
	if err != nil {
		c.setConnected(false)
		return err
	}

	c.mu.Lock()
	c.coverPresent = CoverState(coverState) != CoverNotPresent
	c.calibratorPresent = CalibratorState(calState) != CalibratorNotPresent
	c.mu.Unlock()

	if c.CalibratorPresent() {
		max, err := c.client.GetInt(ctx, "maxbrightness")
		if err != nil {
			c.logger.Warnf("maxbrightness unavailable, assuming 100: %v", err)
			max = 100
		}
		c.mu.Lock()
		c.maxBrightness = max
		c.mu.Unlock()
	}

	c.logger.Infof("cover present: %v, calibrator present: %v",
		c.CoverPresent(), c.CalibratorPresent())
	return nil
}

// CoverPresent reports whether the device has a movable cover.
func (c *CoverCalibrator) CoverPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coverPresent
}

// CalibratorPresent reports whether the device has a calibrator lamp.
func (c *CoverCalibrator) CalibratorPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibratorPresent
}

// MaxBrightness returns the calibrator's maximum brightness, read once at
// connect.
func (c *CoverCalibrator) MaxBrightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxBrightness
}

// TargetBrightness returns the last requested calibrator brightness.
func (c *CoverCalibrator) TargetBrightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetBrightness
}

func (c *CoverCalibrator) checkCover(op string) error {
	if err := c.checkConnected(op); err != nil {
		return err
	}
	if !c.CoverPresent() {
		return errCapabilityAbsent(op, "device has no cover")
	}
	return nil
}

func (c *CoverCalibrator) checkCalibrator(op string) error {
	if err := c.checkConnected(op); err != nil {
		return err
	}
	if !c.CalibratorPresent() {
		return errCapabilityAbsent(op, "device has no calibrator")
	}
	return nil
}

// CoverStatus reads the cover status code.
func (c *CoverCalibrator) CoverStatus(ctx context.Context) (CoverState, error) {
	if err := c.checkConnected("coverstate"); err != nil {
		return CoverUnknown, err
	}
	v, err := c.client.GetInt(ctx, "coverstate")
	return CoverState(v), err
}

// CalibratorStatus reads the calibrator status code.
func (c *CoverCalibrator) CalibratorStatus(ctx context.Context) (CalibratorState, error) {
	if err := c.checkConnected("calibratorstate"); err != nil {
		return CalibratorNotPresent, err
	}
	v, err := c.client.GetInt(ctx, "calibratorstate")
	return CalibratorState(v), err
}

// Brightness reads the current calibrator brightness.
func (c *CoverCalibrator) Brightness(ctx context.Context) (int, error) {
	if err := c.checkCalibrator("brightness"); err != nil {
		return 0, err
	}
	return c.client.GetInt(ctx, "brightness")
}

// CoverIsMoving reports whether the cover is in motion. The dedicated
// covermoving endpoint is used when the driver supports it; otherwise the
// Moving status code serves as the fallback. Support is probed on the first
// call and cached.
func (c *CoverCalibrator) CoverIsMoving(ctx context.Context) (bool, error) {
	if err := c.checkCover("covermoving"); err != nil {
		return false, err
	}

	c.mu.Lock()
	supported := c.supportsCoverMoving
	c.mu.Unlock()

	if supported == nil || *supported {
		moving, err := c.client.GetBool(ctx, "covermoving")
		if err == nil {
			if supported == nil {
				yes := true
				c.mu.Lock()
				c.supportsCoverMoving = &yes
				c.mu.Unlock()
			}
			return moving, nil
		}
		if supported == nil && errors.Is(err, ErrDeviceReported) {
			c.logger.Info("covermoving unsupported, falling back to coverstate")
			no := false
			c.mu.Lock()
			c.supportsCoverMoving = &no
			c.mu.Unlock()
		} else {
			return false, err
		}
	}

	state, err := c.CoverStatus(ctx)
	if err != nil {
		return false, err
	}
	return state == CoverMoving, nil
}

// CalibratorIsChanging reports whether the calibrator output is still
// settling, using the dedicated calibratorchanging endpoint when the driver
// supports it. When unsupported the caller must fall back to comparing
// consecutive states; ErrCapabilityAbsent signals that case after the first
// failed probe.
func (c *CoverCalibrator) CalibratorIsChanging(ctx context.Context) (bool, error) {
	if err := c.checkCalibrator("calibratorchanging"); err != nil {
		return false, err
	}

	c.mu.Lock()
	supported := c.supportsCalibratorChange
	c.mu.Unlock()

	if supported != nil && !*supported {
		return false, errCapabilityAbsent("calibratorchanging", "indicator unsupported by driver")
	}

	changing, err := c.client.GetBool(ctx, "calibratorchanging")
	if err == nil {
		if supported == nil {
			yes := true
			c.mu.Lock()
			c.supportsCalibratorChange = &yes
			c.mu.Unlock()
		}
		return changing, nil
	}
	if supported == nil && errors.Is(err, ErrDeviceReported) {
		c.logger.Info("calibratorchanging unsupported by driver")
		no := false
		c.mu.Lock()
		c.supportsCalibratorChange = &no
		c.mu.Unlock()
		return false, errCapabilityAbsent("calibratorchanging", "indicator unsupported by driver")
	}
	return false, err
}

// coverPoll builds the completion predicate for a cover move: terminal when
// the status equals the requested end state, failed when it reads the fault
// code.
func (c *CoverCalibrator) coverPoll(want CoverState, op string) pollFunc {
	return func(ctx context.Context) (bool, error) {
		v, err := c.client.GetInt(ctx, "coverstate")
		if err != nil {
			return false, err
		}
		switch state := CoverState(v); state {
		case want:
			return true, nil
		case CoverFault:
			return false, errDeviceReported(op, 0, "cover reports error state")
		default:
			return false, nil
		}
	}
}

// BeginOpenCover opens the cover. Completion: cover status reads open.
func (c *CoverCalibrator) BeginOpenCover(ctx context.Context) (*Operation, error) {
	if err := c.checkCover("opencover"); err != nil {
		return nil, err
	}
	issue := func(ctx context.Context) error {
		c.logger.Info("opening cover")
		return c.client.Put(ctx, "opencover", nil)
	}
	return c.begin(ctx, OpCoverOpen, issue, c.coverPoll(CoverOpen, "opencover"), nil)
}

// OpenCover is the blocking form of BeginOpenCover.
func (c *CoverCalibrator) OpenCover(ctx context.Context) error {
	op, err := c.BeginOpenCover(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginCloseCover closes the cover. Completion: cover status reads closed.
func (c *CoverCalibrator) BeginCloseCover(ctx context.Context) (*Operation, error) {
	if err := c.checkCover("closecover"); err != nil {
		return nil, err
	}
	issue := func(ctx context.Context) error {
		c.logger.Info("closing cover")
		return c.client.Put(ctx, "closecover", nil)
	}
	return c.begin(ctx, OpCoverClose, issue, c.coverPoll(CoverClosed, "closecover"), nil)
}

// CloseCover is the blocking form of BeginCloseCover.
func (c *CoverCalibrator) CloseCover(ctx context.Context) error {
	op, err := c.BeginCloseCover(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// HaltCover stops cover movement. Accepted in any phase.
func (c *CoverCalibrator) HaltCover(ctx context.Context) error {
	if err := c.checkCover("haltcover"); err != nil {
		return err
	}
	return c.abort(ctx, "haltcover")
}

// calibratorSettled reports whether the calibrator has stopped changing,
// preferring the dedicated indicator and falling back to the status code.
func (c *CoverCalibrator) calibratorSettled(ctx context.Context) (bool, error) {
	changing, err := c.CalibratorIsChanging(ctx)
	if err == nil {
		return !changing, nil
	}
	if !errors.Is(err, ErrCapabilityAbsent) {
		return false, err
	}

	v, err := c.client.GetInt(ctx, "calibratorstate")
	if err != nil {
		return false, err
	}
	return CalibratorState(v) != CalibratorNotReady, nil
}

// BeginCalibratorOn energizes the calibrator at the given brightness. When
// the calibrator is already on this adjusts the brightness in place; the
// wire command is the same. Completion: the changing indicator clears, then
// the read-back brightness is verified against the request, since "not busy"
// does not by itself prove the lamp reached the requested level.
func (c *CoverCalibrator) BeginCalibratorOn(ctx context.Context, brightness int) (*Operation, error) {
	if err := c.checkCalibrator("calibratoron"); err != nil {
		return nil, err
	}

	issue := func(ctx context.Context) error {
		c.mu.Lock()
		c.targetBrightness = brightness
		c.mu.Unlock()

		c.logger.Infof("calibrator on, brightness %d", brightness)
		form := url.Values{}
		form.Set("Brightness", strconv.Itoa(brightness))
		return c.client.Put(ctx, "calibratoron", form)
	}

	poll := c.calibratorSettled

	verify := func(ctx context.Context) error {
		got, err := c.client.GetInt(ctx, "brightness")
		if err != nil {
			return err
		}
		if got != brightness {
			return errVerificationf("calibratoron", "settled at brightness %d, requested %d", got, brightness)
		}
		return nil
	}

	return c.begin(ctx, OpCalibratorOn, issue, poll, verify)
}

// CalibratorOn is the blocking form of BeginCalibratorOn.
func (c *CoverCalibrator) CalibratorOn(ctx context.Context, brightness int) error {
	op, err := c.BeginCalibratorOn(ctx, brightness)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginCalibratorOff switches the calibrator off. Completion: the changing
// indicator clears, then the status is verified to read off.
func (c *CoverCalibrator) BeginCalibratorOff(ctx context.Context) (*Operation, error) {
	if err := c.checkCalibrator("calibratoroff"); err != nil {
		return nil, err
	}

	issue := func(ctx context.Context) error {
		c.mu.Lock()
		c.targetBrightness = 0
		c.mu.Unlock()

		c.logger.Info("calibrator off")
		return c.client.Put(ctx, "calibratoroff", nil)
	}

	poll := c.calibratorSettled

	verify := func(ctx context.Context) error {
		v, err := c.client.GetInt(ctx, "calibratorstate")
		if err != nil {
			return err
		}
		if state := CalibratorState(v); state != CalibratorOff && state != CalibratorReady {
			return errVerificationf("calibratoroff", "calibrator reads %s after settling", state)
		}
		return nil
	}

	return c.begin(ctx, OpCalibratorOff, issue, poll, verify)
}

// CalibratorOff is the blocking form of BeginCalibratorOff.
func (c *CoverCalibrator) CalibratorOff(ctx context.Context) error {
	op, err := c.BeginCalibratorOff(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// SetBrightness adjusts the brightness of a calibrator that is already on.
// The calibrator must be energized first; the adjustment goes through the
// same calibratoron command.
func (c *CoverCalibrator) SetBrightness(ctx context.Context, brightness int) error {
	if err := c.checkCalibrator("calibratoron"); err != nil {
		return err
	}
	state, err := c.CalibratorStatus(ctx)
	if err != nil {
		return err
	}
	if state != CalibratorOn {
		return errDeviceReported("calibratoron", 0, "calibrator is not on")
	}
	return c.CalibratorOn(ctx, brightness)
}
