package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory/alpaca"
)

var testPoll = alpaca.PollConfig{
	Interval: time.Millisecond,
	Timeout:  250 * time.Millisecond,
}

// fakeDevice serves an Alpaca device whose properties are a mutable map.
type fakeDevice struct {
	srv *httptest.Server

	mu      sync.Mutex
	props   map[string]any
	failing map[string]int
	total   int
}

func newFakeDevice(t *testing.T) *fakeDevice {
	f := &fakeDevice{
		props:   make(map[string]any),
		failing: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		endpoint := parts[len(parts)-1]

		f.mu.Lock()
		f.total++
		code, failing := f.failing[endpoint]
		value := f.props[endpoint]
		f.mu.Unlock()

		if failing {
			json.NewEncoder(w).Encode(map[string]any{
				"ErrorNumber":  code,
				"ErrorMessage": "scripted failure",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ErrorNumber":  0,
			"ErrorMessage": "",
			"Value":        value,
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevice) set(endpoint string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[endpoint] = value
}

func (f *fakeDevice) fail(endpoint string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[endpoint] = code
}

func (f *fakeDevice) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// drain collects everything currently buffered on a subscription.
func drain(sub *Subscription) []Change {
	var out []Change
	for {
		select {
		case c := <-sub.C:
			out = append(out, c)
		default:
			return out
		}
	}
}

func newTelescopeModel(t *testing.T, f *fakeDevice) *Telescope {
	t.Helper()
	adapter := alpaca.NewTelescope(alpaca.NewClient(f.srv.URL, "telescope", 0, 1), testPoll, nil)
	require.NoError(t, adapter.Connect(context.Background()))
	return NewTelescope(adapter, nil)
}

func newDomeModel(t *testing.T, f *fakeDevice) *Dome {
	t.Helper()
	adapter := alpaca.NewDome(alpaca.NewClient(f.srv.URL, "dome", 0, 1), testPoll, nil)
	require.NoError(t, adapter.Connect(context.Background()))
	return NewDome(adapter, nil)
}

func newCoverCalibratorModel(t *testing.T, f *fakeDevice) *CoverCalibrator {
	t.Helper()
	adapter := alpaca.NewCoverCalibrator(alpaca.NewClient(f.srv.URL, "covercalibrator", 0, 1), testPoll, nil)
	require.NoError(t, adapter.Connect(context.Background()))
	return NewCoverCalibrator(adapter, nil)
}

func TestTelescopeRefreshEmitsOnlyTransitions(t *testing.T) {
	f := newFakeDevice(t)
	f.set("rightascension", 10.5)
	f.set("declination", 41.2)
	f.set("tracking", true)
	m := newTelescopeModel(t, f)
	ctx := context.Background()

	sub := m.Subscribe(64)
	defer m.Unsubscribe(sub.ID)

	require.NoError(t, m.Refresh(ctx))
	first := drain(sub)

	// The initial refresh reports every property that differs from the
	// zero snapshot, nothing else.
	props := make(map[string]bool)
	for _, c := range first {
		props[c.Property] = true
	}
	assert.True(t, props["right_ascension"])
	assert.True(t, props["declination"])
	assert.True(t, props["tracking"])
	assert.False(t, props["slewing"])
	assert.False(t, props["at_park"])

	// Nothing changed on the device, nothing is emitted.
	require.NoError(t, m.Refresh(ctx))
	assert.Empty(t, drain(sub))

	// One transition, one event.
	f.set("declination", 42.0)
	require.NoError(t, m.Refresh(ctx))
	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, "declination", events[0].Property)
	assert.Equal(t, 41.2, events[0].Old)
	assert.Equal(t, 42.0, events[0].New)

	snap := m.Snapshot()
	assert.Equal(t, 42.0, snap.Declination)
	assert.True(t, snap.Tracking)
}

func TestTelescopeRefreshPendingForcesSlewing(t *testing.T) {
	f := newFakeDevice(t)
	f.set("slewing", false)
	f.set("atpark", false)
	m := newTelescopeModel(t, f)
	ctx := context.Background()

	// A park that never completes keeps the operation pending.
	op, err := m.Adapter().BeginPark(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Refresh(ctx))
	assert.True(t, m.Snapshot().Slewing)

	// Let the stuck park terminate.
	require.NoError(t, m.Adapter().AbortSlew(ctx))
	require.NoError(t, op.Wait(ctx))

	require.NoError(t, m.Refresh(ctx))
	assert.False(t, m.Snapshot().Slewing)
}

func TestDomeRefreshDerivesShutterMoving(t *testing.T) {
	f := newFakeDevice(t)
	f.set("shutterstatus", 2)
	m := newDomeModel(t, f)
	ctx := context.Background()

	require.NoError(t, m.Refresh(ctx))
	snap := m.Snapshot()
	assert.Equal(t, alpaca.ShutterOpening, snap.Shutter)
	assert.True(t, snap.ShutterMoving)

	f.set("shutterstatus", 0)
	require.NoError(t, m.Refresh(ctx))
	snap = m.Snapshot()
	assert.Equal(t, alpaca.ShutterOpen, snap.Shutter)
	assert.False(t, snap.ShutterMoving)
}

func TestDomeCommandFailurePublishesErrorEvent(t *testing.T) {
	f := newFakeDevice(t)
	f.fail("openshutter", 1035)
	m := newDomeModel(t, f)
	ctx := context.Background()

	sub := m.Subscribe(16)
	defer m.Unsubscribe(sub.ID)

	err := m.OpenShutter(ctx)
	require.Error(t, err)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, ErrorProperty, events[0].Property)
	assert.Nil(t, events[0].Old)
}

func TestCoverCalibratorLocalGuard(t *testing.T) {
	f := newFakeDevice(t)
	f.set("coverstate", 0)
	f.set("calibratorstate", 0)
	m := newCoverCalibratorModel(t, f)
	ctx := context.Background()

	sub := m.Subscribe(16)
	defer m.Unsubscribe(sub.ID)
	before := f.requestCount()

	err := m.OpenCover(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, alpaca.ErrCapabilityAbsent))

	err = m.CalibratorOn(ctx, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, alpaca.ErrCapabilityAbsent))

	// Both rejections happen locally and still surface as error events.
	assert.Equal(t, before, f.requestCount())
	assert.Len(t, drain(sub), 2)
}

func TestCoverCalibratorChangingFallback(t *testing.T) {
	f := newFakeDevice(t)
	f.set("coverstate", 1)
	f.set("calibratorstate", 1)
	f.set("maxbrightness", 100)
	f.fail("calibratorchanging", 1024)
	m := newCoverCalibratorModel(t, f)
	ctx := context.Background()

	sub := m.Subscribe(16)
	defer m.Unsubscribe(sub.ID)

	// The first refresh only seeds the baseline: a lamp idling at off
	// must not read as changing just because the snapshot started empty.
	require.NoError(t, m.Refresh(ctx))
	assert.True(t, m.UsingChangingFallback())
	assert.False(t, m.Snapshot().CalibratorChanging)
	for _, c := range drain(sub) {
		assert.NotEqual(t, "calibrator_changing", c.Property)
	}

	// Steady state between refreshes reads as not changing.
	require.NoError(t, m.Refresh(ctx))
	assert.False(t, m.Snapshot().CalibratorChanging)

	// A state transition counts as changing for that tick.
	f.set("calibratorstate", 4)
	require.NoError(t, m.Refresh(ctx))
	assert.True(t, m.Snapshot().CalibratorChanging)

	require.NoError(t, m.Refresh(ctx))
	assert.False(t, m.Snapshot().CalibratorChanging)
}

func TestCoverCalibratorOnClampsBrightness(t *testing.T) {
	f := newFakeDevice(t)
	f.set("coverstate", 1)
	f.set("calibratorstate", 1)
	f.set("maxbrightness", 100)
	f.set("calibratorchanging", false)
	f.set("brightness", 100)
	m := newCoverCalibratorModel(t, f)
	ctx := context.Background()

	// 500 is clamped to the device maximum; the read-back of 100 then
	// matches and the operation verifies clean.
	require.NoError(t, m.CalibratorOn(ctx, 500))
	assert.Equal(t, 100, m.Adapter().TargetBrightness())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFakeDevice(t)
	f.set("tracking", true)
	m := newTelescopeModel(t, f)
	ctx := context.Background()

	a := m.Subscribe(16)
	b := m.Subscribe(16)
	require.NotEqual(t, a.ID, b.ID)

	require.NoError(t, m.Refresh(ctx))
	assert.NotEmpty(t, drain(a))
	assert.NotEmpty(t, drain(b))

	m.Unsubscribe(a.ID)
	_, open := <-a.C
	assert.False(t, open)

	f.set("tracking", false)
	require.NoError(t, m.Refresh(ctx))
	assert.Len(t, drain(b), 1)
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestUpdaterRunsUntilCancelled(t *testing.T) {
	r := &countingRefresher{}
	u := NewUpdater(r, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
