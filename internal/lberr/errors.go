// Package lberr defines the error taxonomy used across the LBeacon
// firmware. Every long-lived task classifies its own failures into one
// of these kinds so the supervisor can decide, without inspecting
// message strings, whether a failure is fatal to the whole process,
// fatal to a single task, or routine.
package lberr

import "errors"

// Kind identifies which policy in §7 of the design applies to an error.
type Kind int

const (
	// Config covers a parse failure or an out-of-range configuration
	// value. Fatal at startup.
	Config Kind = iota
	// AlreadyRunning means the pid lock is held by another process.
	AlreadyRunning
	// DongleUnavailable means an HCI device could not be opened after
	// the retry budget was exhausted. Fatal for the owning task only.
	DongleUnavailable
	// AdvertiseTimeout means the advertising controller did not ACK in
	// time. Transient; retried before downgrading to a warning.
	AdvertiseTimeout
	// AdvertiseStatus means the controller returned a non-zero status
	// byte for a command. Transient, same policy as AdvertiseTimeout.
	AdvertiseStatus
	// StoreFull means the slab allocator had no free slot. Never
	// fatal; the caller drops the sighting and a counter is bumped.
	StoreFull
	// TransportError means a UDP send or receive failed. The gateway
	// session returns to Joining.
	TransportError
	// ProtocolError means a malformed gateway packet was received.
	// The packet is dropped and logged at warn.
	ProtocolError
	// Shutdown is cooperative cancellation; every task treats it as a
	// clean exit.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case AlreadyRunning:
		return "already_running"
	case DongleUnavailable:
		return "dongle_unavailable"
	case AdvertiseTimeout:
		return "advertise_timeout"
	case AdvertiseStatus:
		return "advertise_status"
	case StoreFull:
		return "store_full"
	case TransportError:
		return "transport_error"
	case ProtocolError:
		return "protocol_error"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers across task
// boundaries can classify failures without parsing strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op, wrapping err (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
