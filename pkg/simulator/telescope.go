package simulator

import (
	"math"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// move is a linear transition between two values. Position is interpolated
// lazily on read; no goroutine drives it.
type move struct {
	from, to   float64
	start, end time.Time
}

func settledMove(v float64) move {
	return move{from: v, to: v}
}

func (m move) value(now time.Time) float64 {
	if !now.Before(m.end) {
		return m.to
	}
	if now.Before(m.start) || m.end.Sub(m.start) <= 0 {
		return m.from
	}
	progress := float64(now.Sub(m.start)) / float64(m.end.Sub(m.start))
	return m.from + progress*(m.to-m.from)
}

func (m move) done(now time.Time) bool {
	return !now.Before(m.end)
}

// Telescope simulates an equatorial mount.
type Telescope struct {
	logger log.FieldLogger
	opts   Options
	srv    *Server
	info   DeviceInfo

	mu        sync.Mutex
	connected bool
	tracking  bool
	atPark    bool
	atHome    bool

	ra, dec             move
	targetRA, targetDec float64

	// One flag transition (park, unpark, findhome) at a time.
	pending    string
	pendingEnd time.Time
}

// NewTelescope creates a mount simulator starting parked at the pole.
func NewTelescope(srv *Server, number int, opts Options, logger log.FieldLogger) *Telescope {
	if logger == nil {
		logger = log.WithField("device", "telescope-sim")
	}
	return &Telescope{
		logger: logger,
		opts:   opts,
		srv:    srv,
		info: DeviceInfo{
			Name:     "Telescope Simulator",
			Type:     "Telescope",
			Number:   number,
			UniqueID: newUniqueID(),
		},
		atPark: true,
		ra:     settledMove(0),
		dec:    settledMove(90),
	}
}

func (t *Telescope) Info() DeviceInfo { return t.info }

// settle applies any flag transition whose deadline has passed. Callers hold
// the lock.
func (t *Telescope) settle(now time.Time) {
	if t.pending == "" || now.Before(t.pendingEnd) {
		return
	}
	switch t.pending {
	case "park":
		t.atPark = true
		t.atHome = false
	case "unpark":
		t.atPark = false
	case "findhome":
		t.atHome = true
		t.atPark = false
	}
	t.pending = ""
}

func (t *Telescope) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("PUT /connected", t.srv.handle(func(r *http.Request) (any, error) {
		v, err := formBool(r, "Connected")
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.connected = v
		t.mu.Unlock()
		return nil, nil
	}))
	mux.Handle("GET /connected", t.srv.handle(func(r *http.Request) (any, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.connected, nil
	}))

	mux.Handle("GET /name", t.srv.handle(func(r *http.Request) (any, error) {
		return t.info.Name, nil
	}))
	mux.Handle("GET /description", t.srv.handle(func(r *http.Request) (any, error) {
		return "Simulated equatorial mount", nil
	}))
	mux.Handle("GET /driverinfo", t.srv.handle(func(r *http.Request) (any, error) {
		return "observatory simulator", nil
	}))

	mux.Handle("GET /rightascension", t.srv.handle(func(r *http.Request) (any, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.ra.value(time.Now()), nil
	}))
	mux.Handle("GET /declination", t.srv.handle(func(r *http.Request) (any, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.dec.value(time.Now()), nil
	}))
	mux.Handle("GET /altitude", t.srv.handle(func(r *http.Request) (any, error) {
		return 45.0, nil
	}))
	mux.Handle("GET /azimuth", t.srv.handle(func(r *http.Request) (any, error) {
		return 180.0, nil
	}))
	mux.Handle("GET /siderealtime", t.srv.handle(func(r *http.Request) (any, error) {
		// Close enough for a simulator: UTC hours wrapped to [0, 24).
		now := time.Now().UTC()
		return math.Mod(float64(now.Hour())+float64(now.Minute())/60, 24), nil
	}))
	mux.Handle("GET /sitelatitude", t.srv.handle(func(r *http.Request) (any, error) {
		return 40.0, nil
	}))
	mux.Handle("GET /sitelongitude", t.srv.handle(func(r *http.Request) (any, error) {
		return -4.0, nil
	}))
	mux.Handle("GET /siteelevation", t.srv.handle(func(r *http.Request) (any, error) {
		return 650.0, nil
	}))
	mux.Handle("GET /ispulseguiding", t.srv.handle(func(r *http.Request) (any, error) {
		return false, nil
	}))

	mux.Handle("GET /slewing", t.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		t.mu.Lock()
		defer t.mu.Unlock()
		t.settle(now)
		return !t.ra.done(now) || !t.dec.done(now) || t.pending != "", nil
	}))

	mux.Handle("GET /tracking", t.srv.handle(func(r *http.Request) (any, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.tracking, nil
	}))
	mux.Handle("PUT /tracking", t.srv.handle(func(r *http.Request) (any, error) {
		v, err := formBool(r, "Tracking")
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.tracking = v
		t.mu.Unlock()
		t.logger.Infof("tracking: %v", v)
		return nil, nil
	}))

	mux.Handle("GET /atpark", t.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		t.mu.Lock()
		defer t.mu.Unlock()
		t.settle(now)
		return t.atPark, nil
	}))
	mux.Handle("GET /athome", t.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		t.mu.Lock()
		defer t.mu.Unlock()
		t.settle(now)
		return t.atHome, nil
	}))

	mux.Handle("PUT /targetrightascension", t.srv.handle(func(r *http.Request) (any, error) {
		v, err := formFloat(r, "TargetRightAscension")
		if err != nil {
			return nil, err
		}
		if v < 0 || v >= 24 {
			return nil, errInvalidValue("right ascension out of range")
		}
		t.mu.Lock()
		t.targetRA = v
		t.mu.Unlock()
		return nil, nil
	}))
	mux.Handle("PUT /targetdeclination", t.srv.handle(func(r *http.Request) (any, error) {
		v, err := formFloat(r, "TargetDeclination")
		if err != nil {
			return nil, err
		}
		if v < -90 || v > 90 {
			return nil, errInvalidValue("declination out of range")
		}
		t.mu.Lock()
		t.targetDec = v
		t.mu.Unlock()
		return nil, nil
	}))

	mux.Handle("PUT /slewtocoordinates", t.srv.handle(func(r *http.Request) (any, error) {
		ra, err := formFloat(r, "RightAscension")
		if err != nil {
			return nil, err
		}
		dec, err := formFloat(r, "Declination")
		if err != nil {
			return nil, err
		}
		now := time.Now()
		t.mu.Lock()
		if t.atPark {
			t.mu.Unlock()
			return nil, errInvalidValue("mount is parked")
		}
		end := now.Add(t.opts.MoveDuration)
		t.ra = move{from: t.ra.value(now), to: ra, start: now, end: end}
		t.dec = move{from: t.dec.value(now), to: dec, start: now, end: end}
		t.mu.Unlock()
		t.logger.Infof("slewing to RA %.4f Dec %.4f", ra, dec)
		return nil, nil
	}))

	mux.Handle("PUT /abortslew", t.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		t.mu.Lock()
		t.ra = settledMove(t.ra.value(now))
		t.dec = settledMove(t.dec.value(now))
		t.pending = ""
		t.mu.Unlock()
		t.logger.Info("slew aborted")
		return nil, nil
	}))

	mux.Handle("PUT /park", t.srv.handle(func(r *http.Request) (any, error) {
		t.beginFlagMove("park")
		return nil, nil
	}))
	mux.Handle("PUT /unpark", t.srv.handle(func(r *http.Request) (any, error) {
		t.beginFlagMove("unpark")
		return nil, nil
	}))
	mux.Handle("PUT /findhome", t.srv.handle(func(r *http.Request) (any, error) {
		t.beginFlagMove("findhome")
		return nil, nil
	}))
}

func (t *Telescope) beginFlagMove(kind string) {
	t.mu.Lock()
	t.pending = kind
	t.pendingEnd = time.Now().Add(t.opts.MoveDuration)
	t.mu.Unlock()
	t.logger.Infof("%s started", kind)
}
