package alpaca

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// testPoll keeps state-machine tests fast and deterministic.
var testPoll = PollConfig{
	Interval: time.Millisecond,
	Timeout:  250 * time.Millisecond,
}

// fakeServer simulates an Alpaca device with scripted property values: each
// GET of an endpoint pops the next scripted value, and the last one repeats.
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	values   map[string][]any
	failures map[string]fakeFailure
	gets     map[string]int
	puts     map[string]int
	lastForm map[string]map[string]string
	total    int
}

type fakeFailure struct {
	errorNumber int
	message     string
	httpStatus  int
	rawBody     string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		values:   make(map[string][]any),
		failures: make(map[string]fakeFailure),
		gets:     make(map[string]int),
		puts:     make(map[string]int),
		lastForm: make(map[string]map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }

// script sets the value sequence a GET of endpoint walks through.
func (f *fakeServer) script(endpoint string, values ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[endpoint] = values
}

// fail makes requests to endpoint return an Alpaca error envelope.
func (f *fakeServer) fail(endpoint string, code int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpoint] = fakeFailure{errorNumber: code, message: message}
}

// failHTTP makes requests to endpoint return a bare HTTP error.
func (f *fakeServer) failHTTP(endpoint string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpoint] = fakeFailure{httpStatus: status}
}

// respondRaw makes requests to endpoint return the given body verbatim.
func (f *fakeServer) respondRaw(endpoint, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpoint] = fakeFailure{rawBody: body}
}

func (f *fakeServer) getCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[endpoint]
}

func (f *fakeServer) putCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[endpoint]
}

func (f *fakeServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// form returns the body parameters of the last PUT to endpoint.
func (f *fakeServer) form(endpoint string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm[endpoint]
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	endpoint := parts[len(parts)-1]

	f.mu.Lock()
	f.total++

	// Requests are counted whether they succeed or not; capability probes
	// of failing endpoints must still show up in the counters.
	if r.Method == http.MethodPut {
		f.puts[endpoint]++
		r.ParseForm()
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.lastForm[endpoint] = form
	} else {
		f.gets[endpoint]++
	}

	if failure, ok := f.failures[endpoint]; ok {
		f.mu.Unlock()
		switch {
		case failure.httpStatus != 0:
			http.Error(w, http.StatusText(failure.httpStatus), failure.httpStatus)
		case failure.rawBody != "":
			fmt.Fprint(w, failure.rawBody)
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"ErrorNumber":  failure.errorNumber,
				"ErrorMessage": failure.message,
			})
		}
		return
	}

	var value any
	if r.Method == http.MethodGet {
		seq := f.values[endpoint]
		if len(seq) > 0 {
			value = seq[0]
			if len(seq) > 1 {
				f.values[endpoint] = seq[1:]
			}
		}
	}
	f.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"ErrorNumber":  0,
		"ErrorMessage": "",
		"Value":        value,
	})
}

func newTestTelescope(t *testing.T, f *fakeServer) *Telescope {
	tel := NewTelescope(NewClient(f.URL(), "telescope", 0, 1), testPoll, nil)
	return tel
}

func newTestDome(t *testing.T, f *fakeServer) *Dome {
	return NewDome(NewClient(f.URL(), "dome", 0, 1), testPoll, nil)
}

func newTestCoverCalibrator(t *testing.T, f *fakeServer) *CoverCalibrator {
	return NewCoverCalibrator(NewClient(f.URL(), "covercalibrator", 0, 1), testPoll, nil)
}
