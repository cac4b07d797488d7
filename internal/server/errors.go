package server

import "github.com/juju/errors"

// Kind tags a connection-lifecycle failure with the category spec.md §7
// defines. The worker uses it when a handshake fails, to log an
// authentication failure apart from other handshake failures.
type Kind int

const (
	_ Kind = iota
	IOError
	ProtocolError
	AuthError
	DriverError
	RuleError
	UnsupportedCommand
	UnsupportedForward
)

func (k Kind) String() string {
	switch k {
	case IOError:
		return "IOError"
	case ProtocolError:
		return "ProtocolError"
	case AuthError:
		return "AuthError"
	case DriverError:
		return "DriverError"
	case RuleError:
		return "RuleError"
	case UnsupportedCommand:
		return "UnsupportedCommand"
	case UnsupportedForward:
		return "UnsupportedForward"
	default:
		return "Unknown"
	}
}

// Fault pairs a Kind with the underlying cause, so callers can branch on
// Kind while logging still sees the full juju/errors trace.
type Fault struct {
	Kind  Kind
	cause error
}

func (f *Fault) Error() string { return f.Kind.String() + ": " + f.cause.Error() }

// Cause implements the juju/errors causer interface.
func (f *Fault) Cause() error { return f.cause }

// Fail wraps err with kind, tracing it through juju/errors so callers up
// the stack retain file:line context.
func Fail(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, cause: errors.Trace(err)}
}

// Terminal reports whether a Fault of this kind must end the connection
// without attempting to send an ERR packet (the socket itself is presumed
// unusable, or a fatal protocol desync makes any further framing unsafe).
func (k Kind) Terminal() bool {
	return k == IOError || k == ProtocolError
}

// AsFault unwraps err into a *Fault, if it is one.
func AsFault(err error) (*Fault, bool) {
	f, ok := errors.Cause(err).(*Fault)
	return f, ok
}
