package alpaca

import (
	"context"
	"math"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// ShutterStatus codes as defined by the Alpaca dome API.
type ShutterStatus int

const (
	ShutterOpen ShutterStatus = iota
	ShutterClosed
	ShutterOpening
	ShutterClosing
	ShutterError
)

func (s ShutterStatus) String() string {
	switch s {
	case ShutterOpen:
		return "open"
	case ShutterClosed:
		return "closed"
	case ShutterOpening:
		return "opening"
	case ShutterClosing:
		return "closing"
	case ShutterError:
		return "error"
	}
	return "unknown"
}

// azimuthTolerance is how close (in degrees) the settled azimuth must be to
// the requested target for a dome slew to count as verified.
const azimuthTolerance = 1.0

// Dome is the adapter for an Alpaca observatory dome.
type Dome struct {
	device
	targetAzimuth float64
}

// NewDome creates a dome adapter over the given session.
func NewDome(client *Client, poll PollConfig, logger log.FieldLogger) *Dome {
	return &Dome{device: newDevice(client, poll, logger)}
}

// Connect establishes the session.
func (d *Dome) Connect(ctx context.Context) error {
	return d.device.connect(ctx)
}

// Azimuth reads the dome azimuth in degrees.
func (d *Dome) Azimuth(ctx context.Context) (float64, error) {
	if err := d.checkConnected("azimuth"); err != nil {
		return 0, err
	}
	return d.client.GetFloat(ctx, "azimuth")
}

// Slewing reads the dome rotation busy indicator.
func (d *Dome) Slewing(ctx context.Context) (bool, error) {
	if err := d.checkConnected("slewing"); err != nil {
		return false, err
	}
	return d.client.GetBool(ctx, "slewing")
}

// AtPark reads the parked flag.
func (d *Dome) AtPark(ctx context.Context) (bool, error) {
	if err := d.checkConnected("atpark"); err != nil {
		return false, err
	}
	return d.client.GetBool(ctx, "atpark")
}

// AtHome reads the home flag.
func (d *Dome) AtHome(ctx context.Context) (bool, error) {
	if err := d.checkConnected("athome"); err != nil {
		return false, err
	}
	return d.client.GetBool(ctx, "athome")
}

// ShutterState reads the shutter status code.
func (d *Dome) ShutterState(ctx context.Context) (ShutterStatus, error) {
	if err := d.checkConnected("shutterstatus"); err != nil {
		return ShutterError, err
	}
	v, err := d.client.GetInt(ctx, "shutterstatus")
	return ShutterStatus(v), err
}

// Slaved reads the slaved-to-mount flag.
func (d *Dome) Slaved(ctx context.Context) (bool, error) {
	if err := d.checkConnected("slaved"); err != nil {
		return false, err
	}
	return d.client.GetBool(ctx, "slaved")
}

// SetSlaved switches dome slaving and verifies the read-back, the flag
// being silently ignored by some controllers.
func (d *Dome) SetSlaved(ctx context.Context, slaved bool) error {
	if err := d.checkConnected("slaved"); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Slaved", formBool(slaved))
	if err := d.client.Put(ctx, "slaved", form); err != nil {
		return err
	}

	got, err := d.client.GetBool(ctx, "slaved")
	if err != nil {
		return err
	}
	if got != slaved {
		return errVerificationf("slaved", "requested %v, device reports %v", slaved, got)
	}
	d.logger.Infof("slaved set to %v", slaved)
	return nil
}

// TargetAzimuth returns the last recorded slew target.
func (d *Dome) TargetAzimuth() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targetAzimuth
}

// BeginSlewToAzimuth rotates the dome to the given azimuth. Completion: the
// slewing indicator reads false, then the settled azimuth is verified
// against the target.
func (d *Dome) BeginSlewToAzimuth(ctx context.Context, azimuth float64) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.mu.Lock()
		d.targetAzimuth = azimuth
		d.mu.Unlock()

		d.logger.Infof("slewing to azimuth %.2f°", azimuth)
		form := url.Values{}
		form.Set("Azimuth", formFloat(azimuth))
		return d.client.Put(ctx, "slewtoazimuth", form)
	}

	poll := func(ctx context.Context) (bool, error) {
		slewing, err := d.client.GetBool(ctx, "slewing")
		return !slewing, err
	}

	verify := func(ctx context.Context) error {
		got, err := d.client.GetFloat(ctx, "azimuth")
		if err != nil {
			return err
		}
		if math.Abs(got-azimuth) > azimuthTolerance {
			return errVerificationf("slewtoazimuth", "settled at %.2f°, requested %.2f°", got, azimuth)
		}
		return nil
	}

	return d.begin(ctx, OpSlew, issue, poll, verify)
}

// SlewToAzimuth is the blocking form of BeginSlewToAzimuth.
func (d *Dome) SlewToAzimuth(ctx context.Context, azimuth float64) error {
	op, err := d.BeginSlewToAzimuth(ctx, azimuth)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// AbortSlew stops dome rotation. Accepted in any phase.
func (d *Dome) AbortSlew(ctx context.Context) error {
	return d.abort(ctx, "abortslew")
}

// shutterPoll builds the completion predicate for a shutter move. The
// shutter exposes a richer status code than the generic slewing flag: the
// requested end state is the terminal success and ShutterError is a
// distinct terminal failure, not "still moving".
func (d *Dome) shutterPoll(want ShutterStatus, op string) pollFunc {
	return func(ctx context.Context) (bool, error) {
		v, err := d.client.GetInt(ctx, "shutterstatus")
		if err != nil {
			return false, err
		}
		switch status := ShutterStatus(v); status {
		case want:
			return true, nil
		case ShutterError:
			return false, errDeviceReported(op, 0, "shutter reports error state")
		default:
			return false, nil
		}
	}
}

// BeginOpenShutter opens the dome shutter. Completion: shutter status reads
// open.
func (d *Dome) BeginOpenShutter(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.logger.Info("opening shutter")
		return d.client.Put(ctx, "openshutter", nil)
	}
	return d.begin(ctx, OpShutterOpen, issue, d.shutterPoll(ShutterOpen, "openshutter"), nil)
}

// OpenShutter is the blocking form of BeginOpenShutter.
func (d *Dome) OpenShutter(ctx context.Context) error {
	op, err := d.BeginOpenShutter(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginCloseShutter closes the dome shutter. Completion: shutter status
// reads closed.
func (d *Dome) BeginCloseShutter(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.logger.Info("closing shutter")
		return d.client.Put(ctx, "closeshutter", nil)
	}
	return d.begin(ctx, OpShutterClose, issue, d.shutterPoll(ShutterClosed, "closeshutter"), nil)
}

// CloseShutter is the blocking form of BeginCloseShutter.
func (d *Dome) CloseShutter(ctx context.Context) error {
	op, err := d.BeginCloseShutter(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginPark rotates the dome to its park position. Completion: the parked
// flag reads true.
func (d *Dome) BeginPark(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.logger.Info("parking")
		return d.client.Put(ctx, "park", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		return d.client.GetBool(ctx, "atpark")
	}
	return d.begin(ctx, OpPark, issue, poll, nil)
}

// Park is the blocking form of BeginPark.
func (d *Dome) Park(ctx context.Context) error {
	op, err := d.BeginPark(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginUnpark releases the dome from its park position. Completion: the
// parked flag reads false.
func (d *Dome) BeginUnpark(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.logger.Info("unparking")
		return d.client.Put(ctx, "unpark", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		parked, err := d.client.GetBool(ctx, "atpark")
		return !parked, err
	}
	return d.begin(ctx, OpUnpark, issue, poll, nil)
}

// Unpark is the blocking form of BeginUnpark.
func (d *Dome) Unpark(ctx context.Context) error {
	op, err := d.BeginUnpark(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginFindHome rotates the dome to its home position. Completion: the home
// flag reads true.
func (d *Dome) BeginFindHome(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		d.logger.Info("finding home")
		return d.client.Put(ctx, "findhome", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		return d.client.GetBool(ctx, "athome")
	}
	return d.begin(ctx, OpFindHome, issue, poll, nil)
}

// FindHome is the blocking form of BeginFindHome.
func (d *Dome) FindHome(ctx context.Context) error {
	op, err := d.BeginFindHome(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}
