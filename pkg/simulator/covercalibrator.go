package simulator

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// cover and calibrator status codes on the wire.
const (
	coverClosed = 1
	coverMoving = 2
	coverOpen   = 3

	calibratorOff      = 1
	calibratorReady    = 2
	calibratorNotReady = 3
	calibratorOn       = 4
)

// CoverCalibrator simulates a flat panel: a motorized cover plus an
// electroluminescent lamp whose brightness takes a moment to stabilize.
type CoverCalibrator struct {
	logger log.FieldLogger
	opts   Options
	srv    *Server
	info   DeviceInfo

	maxBrightness int

	mu        sync.Mutex
	connected bool

	cover       int
	coverTarget int
	coverEnd    time.Time

	calibrator       int
	calibratorTarget int
	calibratorEnd    time.Time

	brightness       int
	targetBrightness int
}

// NewCoverCalibrator creates a simulator starting with the cover closed and
// the lamp off.
func NewCoverCalibrator(srv *Server, number int, opts Options, logger log.FieldLogger) *CoverCalibrator {
	if logger == nil {
		logger = log.WithField("device", "covercalibrator-sim")
	}
	return &CoverCalibrator{
		logger: logger,
		opts:   opts,
		srv:    srv,
		info: DeviceInfo{
			Name:     "Flat Panel Simulator",
			Type:     "CoverCalibrator",
			Number:   number,
			UniqueID: newUniqueID(),
		},
		maxBrightness: 255,
		cover:         coverClosed,
		coverTarget:   coverClosed,
		calibrator:    calibratorOff,
	}
}

func (c *CoverCalibrator) Info() DeviceInfo { return c.info }

// settle applies finished transitions. Callers hold the lock.
func (c *CoverCalibrator) settle(now time.Time) {
	if c.cover == coverMoving && !now.Before(c.coverEnd) {
		c.cover = c.coverTarget
	}
	if c.calibrator == calibratorNotReady && !now.Before(c.calibratorEnd) {
		c.calibrator = c.calibratorTarget
		c.brightness = c.targetBrightness
	}
}

func (c *CoverCalibrator) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("PUT /connected", c.srv.handle(func(r *http.Request) (any, error) {
		v, err := formBool(r, "Connected")
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.connected = v
		c.mu.Unlock()
		return nil, nil
	}))
	mux.Handle("GET /connected", c.srv.handle(func(r *http.Request) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connected, nil
	}))

	mux.Handle("GET /name", c.srv.handle(func(r *http.Request) (any, error) {
		return c.info.Name, nil
	}))
	mux.Handle("GET /description", c.srv.handle(func(r *http.Request) (any, error) {
		return "Simulated flat panel", nil
	}))
	mux.Handle("GET /driverinfo", c.srv.handle(func(r *http.Request) (any, error) {
		return "observatory simulator", nil
	}))

	mux.Handle("GET /coverstate", c.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.settle(now)
		return c.cover, nil
	}))
	mux.Handle("GET /calibratorstate", c.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.settle(now)
		return c.calibrator, nil
	}))
	mux.Handle("GET /brightness", c.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.settle(now)
		return c.brightness, nil
	}))
	mux.Handle("GET /maxbrightness", c.srv.handle(func(r *http.Request) (any, error) {
		return c.maxBrightness, nil
	}))

	mux.Handle("GET /covermoving", c.srv.handle(func(r *http.Request) (any, error) {
		if !c.opts.ChangingIndicator {
			return nil, errNotImplemented("covermoving")
		}
		now := time.Now()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.settle(now)
		return c.cover == coverMoving, nil
	}))
	mux.Handle("GET /calibratorchanging", c.srv.handle(func(r *http.Request) (any, error) {
		if !c.opts.ChangingIndicator {
			return nil, errNotImplemented("calibratorchanging")
		}
		now := time.Now()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.settle(now)
		return c.calibrator == calibratorNotReady, nil
	}))

	mux.Handle("PUT /opencover", c.srv.handle(func(r *http.Request) (any, error) {
		c.beginCoverMove(coverOpen)
		return nil, nil
	}))
	mux.Handle("PUT /closecover", c.srv.handle(func(r *http.Request) (any, error) {
		c.beginCoverMove(coverClosed)
		return nil, nil
	}))
	mux.Handle("PUT /haltcover", c.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		c.mu.Lock()
		c.settle(now)
		if c.cover == coverMoving {
			// Stopped partway; report the state it was leaving.
			if c.coverTarget == coverOpen {
				c.cover = coverClosed
			} else {
				c.cover = coverOpen
			}
			c.coverTarget = c.cover
		}
		c.mu.Unlock()
		c.logger.Info("cover halted")
		return nil, nil
	}))

	mux.Handle("PUT /calibratoron", c.srv.handle(func(r *http.Request) (any, error) {
		brightness, err := formInt(r, "Brightness")
		if err != nil {
			return nil, err
		}
		if brightness < 0 || brightness > c.maxBrightness {
			return nil, errInvalidValue("brightness out of range")
		}
		now := time.Now()
		c.mu.Lock()
		c.calibrator = calibratorNotReady
		c.calibratorTarget = calibratorOn
		c.calibratorEnd = now.Add(c.opts.MoveDuration)
		c.targetBrightness = brightness
		c.mu.Unlock()
		c.logger.Infof("calibrator on, brightness %d", brightness)
		return nil, nil
	}))
	mux.Handle("PUT /calibratoroff", c.srv.handle(func(r *http.Request) (any, error) {
		now := time.Now()
		c.mu.Lock()
		c.calibrator = calibratorNotReady
		c.calibratorTarget = calibratorOff
		c.calibratorEnd = now.Add(c.opts.MoveDuration)
		c.targetBrightness = 0
		c.mu.Unlock()
		c.logger.Info("calibrator off")
		return nil, nil
	}))
}

func (c *CoverCalibrator) beginCoverMove(target int) {
	now := time.Now()
	c.mu.Lock()
	c.settle(now)
	if c.cover != target {
		c.cover = coverMoving
		c.coverTarget = target
		c.coverEnd = now.Add(c.opts.MoveDuration)
	}
	c.mu.Unlock()
	if target == coverOpen {
		c.logger.Info("cover opening")
	} else {
		c.logger.Info("cover closing")
	}
}
