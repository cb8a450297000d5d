package mcpgateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrDropNotification is returned by Adapter.TranslateNotification when the
// notification has no equivalent in the target revision and must be discarded
// rather than forwarded. It is a routing signal, not a failure.
var ErrDropNotification = errors.New("notification has no equivalent in target protocol version")

// UnsupportedVersionError is returned when a backend reports a
// protocolVersion outside the supported set.
type UnsupportedVersionError struct {
	Reported  string
	Supported []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version %q, supported versions: %v", e.Reported, e.Supported)
}

// MissingRequiredFieldError is returned when a message lacks a field the
// protocol marks as required.
type MissingRequiredFieldError struct {
	Field       string
	MessageKind string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field %q in %s", e.Field, e.MessageKind)
}

// InvalidFieldTypeError is returned when a required field is present but has
// the wrong JSON type.
type InvalidFieldTypeError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *InvalidFieldTypeError) Error() string {
	return fmt.Sprintf("field %q has type %s, expected %s", e.Field, e.Actual, e.Expected)
}

// TranslationError is returned when a message cannot be translated between
// two protocol revisions. It is local to the message that caused it and never
// affects connection state.
type TranslationError struct {
	From        ProtocolVersion
	To          ProtocolVersion
	MessageKind string
	Detail      string
	Err         error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation from %s to %s failed for %s: %s", e.From, e.To, e.MessageKind, e.Detail)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// InitializationTimeoutError is returned when a backend does not complete the
// handshake within the configured timeout.
type InitializationTimeoutError struct {
	ServerName string
	Elapsed    time.Duration
}

func (e *InitializationTimeoutError) Error() string {
	return fmt.Sprintf("initialization timeout for server %q after %s", e.ServerName, e.Elapsed)
}

// InvalidStateTransitionError is returned when a connection is driven through
// the handshake out of order, or when a request is attempted in a phase that
// forbids it.
type InvalidStateTransitionError struct {
	Attempted    string
	CurrentPhase ConnectionPhase
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition to %s from phase %s", e.Attempted, e.CurrentPhase)
}

// ConnectionClosedError is returned by the request gate when the connection
// is failed or closing and can no longer accept traffic.
type ConnectionClosedError struct {
	ServerName string
	Phase      ConnectionPhase
	Cause      error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection to %q is %s: %v", e.ServerName, e.Phase, e.Cause)
	}
	return fmt.Sprintf("connection to %q is %s", e.ServerName, e.Phase)
}

func (e *ConnectionClosedError) Unwrap() error {
	return e.Cause
}

// QueueFullError is returned by the request gate when the handshake queue has
// reached its bound.
type QueueFullError struct {
	ServerName string
	Depth      int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("request queue for %q is full (depth %d)", e.ServerName, e.Depth)
}
