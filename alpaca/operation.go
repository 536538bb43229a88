package alpaca

import (
	"context"
	"sync/atomic"
	"time"
)

// OperationKind identifies what a pending operation is doing.
type OperationKind int

const (
	OpSlew OperationKind = iota
	OpPark
	OpUnpark
	OpFindHome
	OpShutterOpen
	OpShutterClose
	OpCoverOpen
	OpCoverClose
	OpCalibratorOn
	OpCalibratorOff
)

func (k OperationKind) String() string {
	switch k {
	case OpSlew:
		return "slew"
	case OpPark:
		return "park"
	case OpUnpark:
		return "unpark"
	case OpFindHome:
		return "findhome"
	case OpShutterOpen:
		return "open shutter"
	case OpShutterClose:
		return "close shutter"
	case OpCoverOpen:
		return "open cover"
	case OpCoverClose:
		return "close cover"
	case OpCalibratorOn:
		return "calibrator on"
	case OpCalibratorOff:
		return "calibrator off"
	}
	return "unknown"
}

// Phase of the operation state machine. Transitions are strictly ordered
// within one device: Idle -> Requested -> Polling -> {Done | Failed}.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRequested
	PhasePolling
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequested:
		return "requested"
	case PhasePolling:
		return "polling"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// PollConfig drives the polling loop of a multi-step action. Explicit
// configuration rather than constants so tests can run the state machine
// with millisecond timing.
type PollConfig struct {
	Interval time.Duration // delay between completion polls
	Timeout  time.Duration // deadline for the whole operation
}

// DefaultPollConfig matches the original hardware timing: one poll per
// second, thirty seconds before an operation is declared stuck.
var DefaultPollConfig = PollConfig{
	Interval: time.Second,
	Timeout:  30 * time.Second,
}

// Operation is the in-flight record of one multi-step action. It is created
// once the action's PUT has been acknowledged and is owned by a single
// goroutine that advances its phase; callers only observe it.
type Operation struct {
	kind    OperationKind
	started time.Time

	phase   atomic.Int32
	aborted atomic.Bool

	done chan struct{}
	err  error // set before done is closed
}

func newOperation(kind OperationKind) *Operation {
	op := &Operation{
		kind:    kind,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	op.phase.Store(int32(PhaseRequested))
	return op
}

func (o *Operation) Kind() OperationKind { return o.kind }
func (o *Operation) Started() time.Time  { return o.started }
func (o *Operation) Phase() Phase        { return Phase(o.phase.Load()) }

// Done is closed when the operation reaches a terminal phase.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err returns the operation outcome. Only valid after Done is closed.
func (o *Operation) Err() error { return o.err }

// Wait blocks until the operation terminates or ctx is cancelled. The
// operation keeps running on cancellation; only the wait is abandoned.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) finish(err error) {
	if err != nil {
		o.phase.Store(int32(PhaseFailed))
	} else {
		o.phase.Store(int32(PhaseDone))
	}
	o.err = err
	close(o.done)
}

// markAborted records that an abort/halt was requested while the operation
// was in flight. The polling loop skips target verification for an aborted
// operation; stopping short of the target is the requested outcome.
func (o *Operation) markAborted() { o.aborted.Store(true) }

func (o *Operation) Aborted() bool { return o.aborted.Load() }

// pollFunc checks the completion indicator once. done reports whether the
// terminal condition holds; a non-nil error ends the operation immediately.
type pollFunc func(ctx context.Context) (done bool, err error)

// verifyFunc re-checks the settled value against the requested target for
// actions where "not busy" does not by itself prove correctness.
type verifyFunc func(ctx context.Context) error

// runOperation executes the Polling phase of the shared state machine on
// its own goroutine: poll until the terminal condition, then verify. The
// device returns to idle on every path; failures are never left silently
// pending.
func (d *device) runOperation(ctx context.Context, op *Operation, poll pollFunc, verify verifyFunc) {
	err := d.pollLoop(ctx, op, poll, verify)
	d.clearPending(op)
	if err != nil {
		d.logger.Warnf("%s failed: %v", op.kind, err)
	} else {
		d.logger.Debugf("%s completed", op.kind)
	}
	op.finish(err)
}

func (d *device) pollLoop(ctx context.Context, op *Operation, poll pollFunc, verify verifyFunc) error {
	op.phase.Store(int32(PhasePolling))

	deadline := time.Now().Add(d.poll.Timeout)
	timer := time.NewTimer(d.poll.Interval)
	defer timer.Stop()

	for {
		done, err := poll(ctx)
		if err != nil {
			return err
		}
		// An abort terminates the operation on its next poll cycle even
		// when the device never reaches the requested end state; the
		// hardware may settle anywhere after a halt.
		if done || op.Aborted() {
			break
		}

		if time.Now().After(deadline) {
			return errTimeout(op.kind.String(), "terminal condition not reached before deadline")
		}

		timer.Reset(d.poll.Interval)
		select {
		case <-ctx.Done():
			return errTransport(op.kind.String(), ctx.Err())
		case <-timer.C:
		}
	}

	if verify != nil && !op.Aborted() {
		return verify(ctx)
	}
	return nil
}
