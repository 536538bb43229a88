package alpaca

import "fmt"

// ErrorKind classifies adapter failures. Every command either succeeds with
// a verified terminal state or fails with exactly one of these kinds.
type ErrorKind int

const (
	// KindNotConnected: command issued before a successful connect. No
	// request is made.
	KindNotConnected ErrorKind = iota
	// KindCapabilityAbsent: the device does not have the sub-feature the
	// command needs (no cover, no calibrator). No request is made.
	KindCapabilityAbsent
	// KindTransport: network failure, non-200 HTTP status or a malformed
	// response body.
	KindTransport
	// KindDeviceReported: a non-zero ErrorNumber in the response envelope,
	// or a status code signaling a hardware fault (e.g. shutter error).
	KindDeviceReported
	// KindTimeout: the polling deadline elapsed before the terminal
	// condition was observed. The action is not retried.
	KindTimeout
	// KindVerification: the device settled but the resulting value does not
	// match the requested target.
	KindVerification
	// KindOperationRejected: a non-abort action was requested while another
	// operation is still in flight on the same device.
	KindOperationRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not connected"
	case KindCapabilityAbsent:
		return "capability absent"
	case KindTransport:
		return "transport failure"
	case KindDeviceReported:
		return "device reported error"
	case KindTimeout:
		return "operation timeout"
	case KindVerification:
		return "verification mismatch"
	case KindOperationRejected:
		return "concurrent operation rejected"
	}
	return "unknown"
}

// Error is the adapter error type. Code carries the Alpaca ErrorNumber when
// Kind is KindDeviceReported and the failure came from the envelope.
type Error struct {
	Kind ErrorKind
	Op   string // endpoint or action name
	Code int
	Err  error
	msg  string
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so callers can test against the
// exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotConnected      = &Error{Kind: KindNotConnected}
	ErrCapabilityAbsent  = &Error{Kind: KindCapabilityAbsent}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrDeviceReported    = &Error{Kind: KindDeviceReported}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrVerification      = &Error{Kind: KindVerification}
	ErrOperationRejected = &Error{Kind: KindOperationRejected}
)

func errNotConnected(op string) error {
	return &Error{Kind: KindNotConnected, Op: op}
}

func errCapabilityAbsent(op, msg string) error {
	return &Error{Kind: KindCapabilityAbsent, Op: op, msg: msg}
}

func errTransport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func errDeviceReported(op string, code int, msg string) error {
	return &Error{Kind: KindDeviceReported, Op: op, Code: code, msg: msg}
}

func errTimeout(op string, msg string) error {
	return &Error{Kind: KindTimeout, Op: op, msg: msg}
}

func errVerificationf(op, format string, args ...any) error {
	return &Error{Kind: KindVerification, Op: op, msg: fmt.Sprintf(format, args...)}
}

func errOperationRejected(op string, active OperationKind) error {
	return &Error{
		Kind: KindOperationRejected,
		Op:   op,
		msg:  fmt.Sprintf("%s still in progress", active),
	}
}
