package alpaca

import (
	"context"
	"math"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// coordTolerance is how close (in degrees or hours) the settled position
// must be to the requested target for a slew to count as verified.
const coordTolerance = 0.01

// Telescope is the adapter for an Alpaca telescope mount.
type Telescope struct {
	device

	// Target values recorded before the slew request is sent; the
	// completion check verifies against these.
	targetRA  float64
	targetDec float64
}

// NewTelescope creates a telescope adapter over the given session.
func NewTelescope(client *Client, poll PollConfig, logger log.FieldLogger) *Telescope {
	return &Telescope{device: newDevice(client, poll, logger)}
}

// Connect establishes the session. The mount has no optional sub-features
// to probe.
func (t *Telescope) Connect(ctx context.Context) error {
	return t.device.connect(ctx)
}

// RightAscension reads the current right ascension in hours.
func (t *Telescope) RightAscension(ctx context.Context) (float64, error) {
	if err := t.checkConnected("rightascension"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "rightascension")
}

// Declination reads the current declination in degrees.
func (t *Telescope) Declination(ctx context.Context) (float64, error) {
	if err := t.checkConnected("declination"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "declination")
}

// Altitude reads the current altitude in degrees.
func (t *Telescope) Altitude(ctx context.Context) (float64, error) {
	if err := t.checkConnected("altitude"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "altitude")
}

// Azimuth reads the current azimuth in degrees.
func (t *Telescope) Azimuth(ctx context.Context) (float64, error) {
	if err := t.checkConnected("azimuth"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "azimuth")
}

// Slewing reads the mount's busy indicator.
func (t *Telescope) Slewing(ctx context.Context) (bool, error) {
	if err := t.checkConnected("slewing"); err != nil {
		return false, err
	}
	return t.client.GetBool(ctx, "slewing")
}

// Tracking reads the sidereal tracking flag.
func (t *Telescope) Tracking(ctx context.Context) (bool, error) {
	if err := t.checkConnected("tracking"); err != nil {
		return false, err
	}
	return t.client.GetBool(ctx, "tracking")
}

// SetTracking switches sidereal tracking on or off.
func (t *Telescope) SetTracking(ctx context.Context, tracking bool) error {
	if err := t.checkConnected("tracking"); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Tracking", formBool(tracking))
	return t.client.Put(ctx, "tracking", form)
}

// AtPark reads the parked flag.
func (t *Telescope) AtPark(ctx context.Context) (bool, error) {
	if err := t.checkConnected("atpark"); err != nil {
		return false, err
	}
	return t.client.GetBool(ctx, "atpark")
}

// AtHome reads the home flag.
func (t *Telescope) AtHome(ctx context.Context) (bool, error) {
	if err := t.checkConnected("athome"); err != nil {
		return false, err
	}
	return t.client.GetBool(ctx, "athome")
}

// IsPulseGuiding reads the pulse-guiding indicator.
func (t *Telescope) IsPulseGuiding(ctx context.Context) (bool, error) {
	if err := t.checkConnected("ispulseguiding"); err != nil {
		return false, err
	}
	return t.client.GetBool(ctx, "ispulseguiding")
}

// SiderealTime reads the local apparent sidereal time in hours.
func (t *Telescope) SiderealTime(ctx context.Context) (float64, error) {
	if err := t.checkConnected("siderealtime"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "siderealtime")
}

// SiteLatitude reads the observing site latitude in degrees.
func (t *Telescope) SiteLatitude(ctx context.Context) (float64, error) {
	if err := t.checkConnected("sitelatitude"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "sitelatitude")
}

// SiteLongitude reads the observing site longitude in degrees.
func (t *Telescope) SiteLongitude(ctx context.Context) (float64, error) {
	if err := t.checkConnected("sitelongitude"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "sitelongitude")
}

// SiteElevation reads the observing site elevation in meters.
func (t *Telescope) SiteElevation(ctx context.Context) (float64, error) {
	if err := t.checkConnected("siteelevation"); err != nil {
		return 0, err
	}
	return t.client.GetFloat(ctx, "siteelevation")
}

// SetTargetCoordinates records the slew target on the mount. Always called
// before the slew request so the completion check has a target to verify
// against.
func (t *Telescope) SetTargetCoordinates(ctx context.Context, ra, dec float64) error {
	if err := t.checkConnected("targetrightascension"); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("TargetRightAscension", formFloat(ra))
	if err := t.client.Put(ctx, "targetrightascension", form); err != nil {
		return err
	}

	form = url.Values{}
	form.Set("TargetDeclination", formFloat(dec))
	if err := t.client.Put(ctx, "targetdeclination", form); err != nil {
		return err
	}

	t.mu.Lock()
	t.targetRA = ra
	t.targetDec = dec
	t.mu.Unlock()
	return nil
}

// TargetCoordinates returns the last recorded slew target.
func (t *Telescope) TargetCoordinates() (ra, dec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetRA, t.targetDec
}

// BeginSlew sets the target coordinates, issues the slew and returns once
// the request is acknowledged. Completion: the slewing indicator reads
// false, then the settled position is verified against the target.
func (t *Telescope) BeginSlew(ctx context.Context, ra, dec float64) (*Operation, error) {
	issue := func(ctx context.Context) error {
		if err := t.SetTargetCoordinates(ctx, ra, dec); err != nil {
			return err
		}
		t.logger.Infof("slewing to RA %.4fh Dec %.4f°", ra, dec)
		form := url.Values{}
		form.Set("RightAscension", formFloat(ra))
		form.Set("Declination", formFloat(dec))
		return t.client.Put(ctx, "slewtocoordinates", form)
	}

	poll := func(ctx context.Context) (bool, error) {
		slewing, err := t.client.GetBool(ctx, "slewing")
		return !slewing, err
	}

	verify := func(ctx context.Context) error {
		gotRA, err := t.client.GetFloat(ctx, "rightascension")
		if err != nil {
			return err
		}
		gotDec, err := t.client.GetFloat(ctx, "declination")
		if err != nil {
			return err
		}
		if math.Abs(gotRA-ra) > coordTolerance || math.Abs(gotDec-dec) > coordTolerance {
			return errVerificationf("slew",
				"settled at RA %.4f Dec %.4f, requested RA %.4f Dec %.4f", gotRA, gotDec, ra, dec)
		}
		return nil
	}

	return t.begin(ctx, OpSlew, issue, poll, verify)
}

// SlewToCoordinates is the blocking form of BeginSlew.
func (t *Telescope) SlewToCoordinates(ctx context.Context, ra, dec float64) error {
	op, err := t.BeginSlew(ctx, ra, dec)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// AbortSlew stops mount movement. Accepted in any phase.
func (t *Telescope) AbortSlew(ctx context.Context) error {
	return t.abort(ctx, "abortslew")
}

// BeginPark moves the mount to its park position. Completion: the parked
// flag reads true.
func (t *Telescope) BeginPark(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		t.logger.Info("parking")
		return t.client.Put(ctx, "park", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		return t.client.GetBool(ctx, "atpark")
	}
	return t.begin(ctx, OpPark, issue, poll, nil)
}

// Park is the blocking form of BeginPark.
func (t *Telescope) Park(ctx context.Context) error {
	op, err := t.BeginPark(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginUnpark releases the mount from its park position. Completion: the
// parked flag reads false.
func (t *Telescope) BeginUnpark(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		t.logger.Info("unparking")
		return t.client.Put(ctx, "unpark", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		parked, err := t.client.GetBool(ctx, "atpark")
		return !parked, err
	}
	return t.begin(ctx, OpUnpark, issue, poll, nil)
}

// Unpark is the blocking form of BeginUnpark.
func (t *Telescope) Unpark(ctx context.Context) error {
	op, err := t.BeginUnpark(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

// BeginFindHome moves the mount to its home position. Completion: the home
// flag reads true.
func (t *Telescope) BeginFindHome(ctx context.Context) (*Operation, error) {
	issue := func(ctx context.Context) error {
		t.logger.Info("finding home")
		return t.client.Put(ctx, "findhome", nil)
	}
	poll := func(ctx context.Context) (bool, error) {
		return t.client.GetBool(ctx, "athome")
	}
	return t.begin(ctx, OpFindHome, issue, poll, nil)
}

// FindHome is the blocking form of BeginFindHome.
func (t *Telescope) FindHome(ctx context.Context) error {
	op, err := t.BeginFindHome(ctx)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}
