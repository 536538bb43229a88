// Package simulator serves simulated Alpaca devices, so the daemon and its
// adapters can be exercised without observatory hardware. Device state
// transitions take a configurable duration; positions are interpolated while
// a move is in flight.
package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DeviceInfo describes one simulated device for the management endpoints.
type DeviceInfo struct {
	Name     string `json:"DeviceName"`
	Type     string `json:"DeviceType"`
	Number   int    `json:"DeviceNumber"`
	UniqueID string `json:"UniqueID"`
}

// Device is one simulated device: it reports its identity and registers its
// endpoint handlers on a per-device mux.
type Device interface {
	Info() DeviceInfo
	RegisterRoutes(mux *http.ServeMux)
}

// Options tunes the simulated hardware.
type Options struct {
	// MoveDuration is how long a slew, shutter move, cover move or
	// calibrator change takes.
	MoveDuration time.Duration
	// ChangingIndicator controls whether the covercalibrator implements
	// the dedicated covermoving/calibratorchanging endpoints; some real
	// drivers do not.
	ChangingIndicator bool
}

// DefaultOptions moves at a pace suited for watching the daemon by hand.
var DefaultOptions = Options{
	MoveDuration:      5 * time.Second,
	ChangingIndicator: true,
}

// Server is the HTTP front of the simulated observatory.
type Server struct {
	logger  log.FieldLogger
	mux     *http.ServeMux
	devices []Device

	serverTx atomic.Int32
}

// NewServer creates a server with the management endpoints registered.
// Devices are attached with Add.
func NewServer(logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.WithField("component", "simulator")
	}
	s := &Server{
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.Handle("GET /management/apiversions", s.handle(func(r *http.Request) (any, error) {
		return []int{1}, nil
	}))
	s.mux.Handle("GET /management/v1/description", s.handle(func(r *http.Request) (any, error) {
		return map[string]string{
			"ServerName":   "Observatory Simulator",
			"Manufacturer": "observatory",
			"Location":     "nowhere",
		}, nil
	}))
	s.mux.Handle("GET /management/v1/configureddevices", s.handle(func(r *http.Request) (any, error) {
		infos := make([]DeviceInfo, 0, len(s.devices))
		for _, dev := range s.devices {
			infos = append(infos, dev.Info())
		}
		return infos, nil
	}))

	return s
}

// Add registers a device under its /api/v1/{type}/{number}/ prefix.
func (s *Server) Add(dev Device) {
	s.devices = append(s.devices, dev)

	mux := http.NewServeMux()
	dev.RegisterRoutes(mux)

	info := dev.Info()
	prefix := fmt.Sprintf("/api/v1/%s/%d", strings.ToLower(info.Type), info.Number)
	s.mux.Handle(prefix+"/", http.StripPrefix(prefix, mux))
	s.logger.Infof("%s serving at %s", info.Name, prefix)
}

func (s *Server) Handler() http.Handler { return s.mux }

// deviceError is reported through the response envelope, not as an HTTP
// failure.
type deviceError struct {
	number  int
	message string
}

func (e *deviceError) Error() string { return e.message }

func errNotImplemented(endpoint string) error {
	return &deviceError{number: 1024, message: endpoint + " is not implemented"}
}

func errInvalidValue(msg string) error {
	return &deviceError{number: 1025, message: msg}
}

// handlerFunc produces a response value or a device-level error for one
// request.
type handlerFunc func(r *http.Request) (any, error)

// handle wraps a handlerFunc with the response envelope: transaction IDs are
// echoed and assigned, device errors become a non-zero ErrorNumber with HTTP
// 200.
func (s *Server) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientTx, _ := strconv.Atoi(requestParam(r, "ClientTransactionID"))

		body := map[string]any{
			"ClientTransactionID": clientTx,
			"ServerTransactionID": int(s.serverTx.Add(1)),
			"ErrorNumber":         0,
			"ErrorMessage":        "",
		}

		value, err := fn(r)
		if err != nil {
			devErr, ok := err.(*deviceError)
			if !ok {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			body["ErrorNumber"] = devErr.number
			body["ErrorMessage"] = devErr.message
		} else if value != nil {
			body["Value"] = value
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

// requestParam reads a protocol parameter from the query or the form body,
// depending on the method.
func requestParam(r *http.Request, name string) string {
	if r.Method == http.MethodPut {
		r.ParseForm()
		return r.PostForm.Get(name)
	}
	return r.URL.Query().Get(name)
}

func formFloat(r *http.Request, name string) (float64, error) {
	v, err := strconv.ParseFloat(requestParam(r, name), 64)
	if err != nil {
		return 0, errInvalidValue(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return v, nil
}

func formInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(requestParam(r, name))
	if err != nil {
		return 0, errInvalidValue(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return v, nil
}

func formBool(r *http.Request, name string) (bool, error) {
	switch strings.ToLower(requestParam(r, name)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errInvalidValue("invalid " + name)
}

func newUniqueID() string { return uuid.NewString() }
