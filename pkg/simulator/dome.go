package simulator

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// shutter status codes on the wire.
const (
	shutterOpen = iota
	shutterClosed
	shutterOpening
	shutterClosing
)

// Dome simulates a rotating dome with a motorized shutter.
type Dome struct {
	logger log.FieldLogger
	opts   Options
	srv    *Server
	info   DeviceInfo

	mu        sync.Mutex
	connected bool
	slaved    bool
	atPark    bool
	atHome    bool

	azimuth move

	shutter    int
	shutterEnd time.Time

	pending    string
	pendingEnd time.Time
}

// NewDome creates a dome simulator starting parked with the shutter closed.
func NewDome(srv *Server, number int, opts Options, logger log.FieldLogger) *Dome {
	if logger == nil {
		logger = log.WithField("device", "dome-sim")
	}
	return &Dome{
		logger: logger,
		opts:   opts,
		srv:    srv,
		info: DeviceInfo{
			Name:     "Dome Simulator",
			Type:     "Dome",
			Number:   number,
			UniqueID: newUniqueID(),
		},
		atPark:  true,
		azimuth: settledMove(0),
		shutter: shutterClosed,
	}
}

func (d *Dome) Info() DeviceInfo { return d.info }

// settle applies finished transitions. Callers hold the lock.
func (d *Dome) settle(now time.Time) {
	if !now.Before(d.shutterEnd) {
		switch d.shutter {
		case shutterOpening:
			d.shutter = shutterOpen
		case shutterClosing:
			d.shutter = shutterClosed
		}
	}
	if d.pending != "" && !now.Before(d.pendingEnd) {
		switch d.pending {
		case "park":
			d.atPark = true
			d.atHome = false
		case "unpark":
			d.atPark = false
		case "findhome":
			d.atHome = true
			d.atPark = false
		}
		d.pending = ""
	}
}

func (d *Dome) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("PUT /connected", d.srv.handle(func(r *http.Request) (any, error) {
		v, err := formBool(r, "Connected")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.connected = v
		d.mu.Unlock()
		return nil, nil
	}))
	mux.Handle("GET /connected", d.srv.handle(func(r *http.Request) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.connected, nil
	}))

	mux.Handle("GET /name", d.srv.handle(func(r *http.Request) (any, error) {
		return d.info.Name, nil
	}))
	mux.Handle("GET /description", d.srv.handle(func(r *http.Request) (any, error) {
		return "Simulated observatory dome", nil
	}))
	mux.Handle("GET /driverinfo", d.srv.handle(func(r *http.Request) (any, error) {
		return "observatory simulator", nil
	}))

	mux.Handle("GET /azimuth", d.srv.handle(func(r *http.Request) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.azimuth.value(time.Now()), nil
	}))
	mux.Handle("GET /slewing", d.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		d.mu.Lock()
		defer d.mu.Unlock()
		d.settle(now)
		return !d.azimuth.done(now) || d.pending != "", nil
	}))
	mux.Handle("GET /shutterstatus", d.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		d.mu.Lock()
		defer d.mu.Unlock()
		d.settle(now)
		return d.shutter, nil
	}))
	mux.Handle("GET /atpark", d.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		d.mu.Lock()
		defer d.mu.Unlock()
		d.settle(now)
		return d.atPark, nil
	}))
	mux.Handle("GET /athome", d.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		d.mu.Lock()
		defer d.mu.Unlock()
		d.settle(now)
		return d.atHome, nil
	}))

	mux.Handle("GET /slaved", d.srv.handle(func(r *http.Request) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.slaved, nil
	}))
	mux.Handle("PUT /slaved", d.srv.handle(func(r *http.Request) (any, error) {
		v, err := formBool(r, "Slaved")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.slaved = v
		d.mu.Unlock()
		d.logger.Infof("slaved: %v", v)
		return nil, nil
	}))

	mux.Handle("PUT /slewtoazimuth", d.srv.handle(func(r *http.Request) (any, error) {
		az, err := formFloat(r, "Azimuth")
		if err != nil {
			return nil, err
		}
		if az < 0 || az >= 360 {
			return nil, errInvalidValue("azimuth out of range")
		}
		now := time.Now()
		d.mu.Lock()
		d.azimuth = move{
			from:  d.azimuth.value(now),
			to:    az,
			start: now,
			end:   now.Add(d.opts.MoveDuration),
		}
		d.atPark = false
		d.atHome = false
		d.mu.Unlock()
		d.logger.Infof("rotating to azimuth %.2f", az)
		return nil, nil
	}))

	mux.Handle("PUT /abortslew", d.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		d.mu.Lock()
		d.azimuth = settledMove(d.azimuth.value(now))
		d.pending = ""
		d.mu.Unlock()
		d.logger.Info("rotation aborted")
		return nil, nil
	}))

	mux.Handle("PUT /openshutter", d.srv.handle(func(r *http.Request) (any, error) {
		d.beginShutterMove(shutterOpening, shutterOpen)
		return nil, nil
	}))
	mux.Handle("PUT /closeshutter", d.srv.handle(func(r *http.Request) (any, error) {
		d.beginShutterMove(shutterClosing, shutterClosed)
		return nil, nil
	}))

	mux.Handle("PUT /park", d.srv.handle(func(r *http.Request) (any, error) {
		d.beginFlagMove("park")
		return nil, nil
	}))
	mux.Handle("PUT /unpark", d.srv.handle(func(r *http.Request) (any, error) {
		d.beginFlagMove("unpark")
		return nil, nil
	}))
	mux.Handle("PUT /findhome", d.srv.handle(func(r *http.Request) (any, error) {
		d.beginFlagMove("findhome")
		return nil, nil
	}))
}

func (d *Dome) beginShutterMove(transit, final int) {
	now := time.Now()
	d.mu.Lock()
	d.settle(now)
	if d.shutter != final {
		d.shutter = transit
		d.shutterEnd = now.Add(d.opts.MoveDuration)
	}
	d.mu.Unlock()
	if transit == shutterOpening {
		d.logger.Info("shutter opening")
	} else {
		d.logger.Info("shutter closing")
	}
}

func (d *Dome) beginFlagMove(kind string) {
	d.mu.Lock()
	d.pending = kind
	d.pendingEnd = time.Now().Add(d.opts.MoveDuration)
	d.mu.Unlock()
	d.logger.Infof("%s started", kind)
}
