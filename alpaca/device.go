package alpaca

import (
	"context"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
)

// device is the shared part of every adapter: the session, the connection
// flag and the single pending-operation slot. At most one multi-step action
// runs per device; only the goroutine started by begin advances its phase.
type device struct {
	client *Client
	logger log.FieldLogger
	poll   PollConfig

	mu        sync.Mutex
	connected bool
	pending   *Operation
}

func newDevice(client *Client, poll PollConfig, logger log.FieldLogger) device {
	if logger == nil {
		logger = log.WithField("device", client.DeviceType())
	}
	return device{
		client: client,
		logger: logger,
		poll:   poll,
	}
}

// Connected reports the locally tracked connection state. No request is
// made; use the getters for a live read.
func (d *device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *device) setConnected(v bool) {
	d.mu.Lock()
	d.connected = v
	d.mu.Unlock()
}

// checkConnected guards every command: issuing anything before a successful
// connect fails without touching the network.
func (d *device) checkConnected(op string) error {
	if !d.Connected() {
		return errNotConnected(op)
	}
	return nil
}

// connect sets the Connected property on the device. Adapters wrap this to
// probe capabilities once per session.
func (d *device) connect(ctx context.Context) error {
	form := url.Values{}
	form.Set("Connected", formBool(true))
	if err := d.client.Put(ctx, "connected", form); err != nil {
		return err
	}
	d.setConnected(true)
	d.logger.Info("connected")
	return nil
}

// Disconnect clears the Connected property and forgets the session state.
func (d *device) Disconnect(ctx context.Context) error {
	if err := d.checkConnected("disconnect"); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Connected", formBool(false))
	if err := d.client.Put(ctx, "connected", form); err != nil {
		return err
	}
	d.setConnected(false)
	d.logger.Info("disconnected")
	return nil
}

// Name reads the device name.
func (d *device) Name(ctx context.Context) (string, error) {
	if err := d.checkConnected("name"); err != nil {
		return "", err
	}
	return d.client.GetString(ctx, "name")
}

// Description reads the device description.
func (d *device) Description(ctx context.Context) (string, error) {
	if err := d.checkConnected("description"); err != nil {
		return "", err
	}
	return d.client.GetString(ctx, "description")
}

// DriverInfo reads the driver description string.
func (d *device) DriverInfo(ctx context.Context) (string, error) {
	if err := d.checkConnected("driverinfo"); err != nil {
		return "", err
	}
	return d.client.GetString(ctx, "driverinfo")
}

// Pending returns the in-flight operation, or nil when the device is idle.
func (d *device) Pending() *Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// begin claims the pending-operation slot, sends the action request and
// starts the polling loop on its own goroutine. It returns once the
// operation is Requested (the PUT was acknowledged); callers use Wait for
// blocking semantics. A second non-abort action while one is pending is
// rejected, never interleaved.
func (d *device) begin(ctx context.Context, kind OperationKind, issue func(context.Context) error, poll pollFunc, verify verifyFunc) (*Operation, error) {
	if err := d.checkConnected(kind.String()); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.pending != nil {
		active := d.pending.kind
		d.mu.Unlock()
		return nil, errOperationRejected(kind.String(), active)
	}
	op := newOperation(kind)
	d.pending = op
	d.mu.Unlock()

	if err := issue(ctx); err != nil {
		d.clearPending(op)
		op.finish(err)
		return nil, err
	}

	d.logger.Debugf("%s requested", kind)
	go d.runOperation(ctx, op, poll, verify)
	return op, nil
}

func (d *device) clearPending(op *Operation) {
	d.mu.Lock()
	if d.pending == op {
		d.pending = nil
	}
	d.mu.Unlock()
}

// abort sends a stop command. It is accepted in any phase: if an operation
// is polling, it is marked aborted and the stop is observed by the loop on
// its next completion poll.
func (d *device) abort(ctx context.Context, endpoint string) error {
	if err := d.checkConnected(endpoint); err != nil {
		return err
	}

	d.mu.Lock()
	if d.pending != nil {
		d.pending.markAborted()
	}
	d.mu.Unlock()

	d.logger.Infof("%s requested", endpoint)
	return d.client.Put(ctx, endpoint, nil)
}
