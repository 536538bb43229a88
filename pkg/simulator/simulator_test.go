package simulator

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory/alpaca"
)

var fastOptions = Options{
	MoveDuration:      20 * time.Millisecond,
	ChangingIndicator: true,
}

var fastPoll = alpaca.PollConfig{
	Interval: 2 * time.Millisecond,
	Timeout:  time.Second,
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	sim := NewServer(nil)
	sim.Add(NewTelescope(sim, 0, opts, nil))
	sim.Add(NewDome(sim, 0, opts, nil))
	sim.Add(NewCoverCalibrator(sim, 0, opts, nil))

	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestTelescopeAgainstSimulator(t *testing.T) {
	srv := newTestServer(t, fastOptions)
	ctx := context.Background()

	tel := alpaca.NewTelescope(alpaca.NewClient(srv.URL, "telescope", 0, 1), fastPoll, nil)
	require.NoError(t, tel.Connect(ctx))

	// Starts parked; a slew while parked is rejected by the hardware.
	parked, err := tel.AtPark(ctx)
	require.NoError(t, err)
	assert.True(t, parked)
	assert.ErrorIs(t, tel.SlewToCoordinates(ctx, 10.5, 41.2), alpaca.ErrDeviceReported)

	require.NoError(t, tel.Unpark(ctx))
	require.NoError(t, tel.SlewToCoordinates(ctx, 10.5, 41.2))

	ra, err := tel.RightAscension(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, ra, 0.01)

	require.NoError(t, tel.Park(ctx))
	parked, err = tel.AtPark(ctx)
	require.NoError(t, err)
	assert.True(t, parked)
}

func TestDomeAgainstSimulator(t *testing.T) {
	srv := newTestServer(t, fastOptions)
	ctx := context.Background()

	dome := alpaca.NewDome(alpaca.NewClient(srv.URL, "dome", 0, 1), fastPoll, nil)
	require.NoError(t, dome.Connect(ctx))

	require.NoError(t, dome.OpenShutter(ctx))
	state, err := dome.ShutterState(ctx)
	require.NoError(t, err)
	assert.Equal(t, alpaca.ShutterOpen, state)

	require.NoError(t, dome.SlewToAzimuth(ctx, 135.0))
	az, err := dome.Azimuth(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 135.0, az, 1.0)

	require.NoError(t, dome.CloseShutter(ctx))
	state, err = dome.ShutterState(ctx)
	require.NoError(t, err)
	assert.Equal(t, alpaca.ShutterClosed, state)
}

func TestDomeAbortAgainstSimulator(t *testing.T) {
	srv := newTestServer(t, Options{MoveDuration: time.Second, ChangingIndicator: true})
	ctx := context.Background()

	dome := alpaca.NewDome(alpaca.NewClient(srv.URL, "dome", 0, 1), fastPoll, nil)
	require.NoError(t, dome.Connect(ctx))

	op, err := dome.BeginSlewToAzimuth(ctx, 270.0)
	require.NoError(t, err)

	require.NoError(t, dome.AbortSlew(ctx))
	require.NoError(t, op.Wait(ctx))
	assert.True(t, op.Aborted())

	// Stopped well short of the target.
	az, err := dome.Azimuth(ctx)
	require.NoError(t, err)
	assert.Less(t, az, 260.0)
}

func TestCoverCalibratorAgainstSimulator(t *testing.T) {
	srv := newTestServer(t, fastOptions)
	ctx := context.Background()

	cc := alpaca.NewCoverCalibrator(alpaca.NewClient(srv.URL, "covercalibrator", 0, 1), fastPoll, nil)
	require.NoError(t, cc.Connect(ctx))
	assert.True(t, cc.CoverPresent())
	assert.True(t, cc.CalibratorPresent())
	assert.Equal(t, 255, cc.MaxBrightness())

	require.NoError(t, cc.OpenCover(ctx))
	state, err := cc.CoverStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, alpaca.CoverOpen, state)

	require.NoError(t, cc.CalibratorOn(ctx, 128))
	brightness, err := cc.Brightness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 128, brightness)

	require.NoError(t, cc.CalibratorOff(ctx))
	require.NoError(t, cc.CloseCover(ctx))
}

func TestCoverCalibratorWithoutIndicator(t *testing.T) {
	srv := newTestServer(t, Options{MoveDuration: 20 * time.Millisecond, ChangingIndicator: false})
	ctx := context.Background()

	cc := alpaca.NewCoverCalibrator(alpaca.NewClient(srv.URL, "covercalibrator", 0, 1), fastPoll, nil)
	require.NoError(t, cc.Connect(ctx))

	// The adapter detects the missing indicator and the operation still
	// completes through the state-code fallback.
	require.NoError(t, cc.CalibratorOn(ctx, 64))

	_, err := cc.CalibratorIsChanging(ctx)
	assert.ErrorIs(t, err, alpaca.ErrCapabilityAbsent)
}
