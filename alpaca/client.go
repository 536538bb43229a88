// Documentation: https://ascom-standards.org/api/?urls.primaryName=ASCOM+Alpaca+Device+API
//
// Package alpaca implements the client side of the ASCOM Alpaca protocol:
// an HTTP transport plus typed device adapters for telescope mounts, domes
// and cover/calibrator units. Every multi-step hardware action (slewing,
// moving a shutter, energizing a calibrator lamp) is fire-and-poll on the
// wire; the adapters turn that into cancellable operations with verified
// outcomes.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type envelope struct {
	ClientTransactionID int             `json:"ClientTransactionID"`
	ServerTransactionID int             `json:"ServerTransactionID"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
	Value               json.RawMessage `json:"Value,omitempty"`
}

// Client is one device session against an Alpaca server. It owns the
// transaction counter for the session; the counter is incremented atomically
// so concurrent action and refresh calls never reuse an ID.
type Client struct {
	baseURL    string
	deviceType string
	number     int
	clientID   int

	httpClient *http.Client
	txCounter  atomic.Int32
}

// NewClient creates a session for one device. baseURL is the server root,
// e.g. "http://localhost:11111"; deviceType is the Alpaca slug ("telescope",
// "dome", "covercalibrator").
func NewClient(baseURL, deviceType string, number, clientID int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceType: strings.ToLower(deviceType),
		number:     number,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient replaces the underlying HTTP client. Useful for tests and
// for callers that need custom timeouts.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

func (c *Client) DeviceType() string { return c.deviceType }
func (c *Client) Number() int        { return c.number }

func (c *Client) endpointURL(endpoint string) string {
	return fmt.Sprintf("%s/api/v1/%s/%d/%s", c.baseURL, c.deviceType, c.number, endpoint)
}

func (c *Client) nextTransactionID() int {
	return int(c.txCounter.Add(1))
}

// Get issues a GET for a device property and decodes the envelope's Value
// into out. A nil out discards the value.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	query := url.Values{}
	query.Set("ClientID", strconv.Itoa(c.clientID))
	query.Set("ClientTransactionID", strconv.Itoa(c.nextTransactionID()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(endpoint)+"?"+query.Encode(), nil)
	if err != nil {
		return errTransport(endpoint, err)
	}

	return c.do(req, endpoint, out)
}

// Put issues a PUT with a form-encoded body. The protocol parameters are
// attached to the form alongside the caller's values.
func (c *Client) Put(ctx context.Context, endpoint string, form url.Values) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("ClientID", strconv.Itoa(c.clientID))
	form.Set("ClientTransactionID", strconv.Itoa(c.nextTransactionID()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpointURL(endpoint), strings.NewReader(form.Encode()))
	if err != nil {
		return errTransport(endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, endpoint, nil)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errTransport(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errTransport(endpoint, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errTransport(endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errTransport(endpoint, fmt.Errorf("malformed response body: %w", err))
	}

	if env.ErrorNumber != 0 {
		return errDeviceReported(endpoint, env.ErrorNumber, env.ErrorMessage)
	}

	if out != nil && env.Value != nil {
		if err := json.Unmarshal(env.Value, out); err != nil {
			return errTransport(endpoint, fmt.Errorf("malformed value: %w", err))
		}
	}
	return nil
}

// GetBool reads a boolean property.
func (c *Client) GetBool(ctx context.Context, endpoint string) (bool, error) {
	var v bool
	err := c.Get(ctx, endpoint, &v)
	return v, err
}

// GetFloat reads a numeric property.
func (c *Client) GetFloat(ctx context.Context, endpoint string) (float64, error) {
	var v float64
	err := c.Get(ctx, endpoint, &v)
	return v, err
}

// GetInt reads an integer property (status codes, brightness).
func (c *Client) GetInt(ctx context.Context, endpoint string) (int, error) {
	var v int
	err := c.Get(ctx, endpoint, &v)
	return v, err
}

// GetString reads a string property.
func (c *Client) GetString(ctx context.Context, endpoint string) (string, error) {
	var v string
	err := c.Get(ctx, endpoint, &v)
	return v, err
}

// formBool renders a bool the way the Alpaca API expects it in form bodies.
func formBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
