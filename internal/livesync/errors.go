package livesync

import (
	"errors"
	"fmt"

	"botdash/internal/viewmodel"
)

var (
	// ErrStaleEvent is the outcome of merging an event older than the stored
	// sub-record. It is counted and logged at debug level, never surfaced.
	ErrStaleEvent = errors.New("stale event dropped")

	// ErrTornDown is returned by Inject after the controller has stopped.
	ErrTornDown = errors.New("sync controller torn down")

	// ErrUnknownEventType is wrapped by DecodeError for push types the
	// dashboard does not handle.
	ErrUnknownEventType = errors.New("unknown event type")
)

// TransportError is a connect, read or request failure on one channel.
type TransportError struct {
	Channel viewmodel.Source
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Channel, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a payload that arrived but could not be turned into an
// update event. The payload is dropped.
type DecodeError struct {
	Channel viewmodel.Source
	Type    string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode %s: %v", e.Channel, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ActionRequestFailed is an action endpoint that errored or answered with a
// failure status.
type ActionRequestFailed struct {
	Action string
	Reason string
	Err    error
}

func (e *ActionRequestFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Action, e.Reason)
}

func (e *ActionRequestFailed) Unwrap() error { return e.Err }

// errorType labels an error for metrics.
func errorType(err error) string {
	var decodeErr *DecodeError
	var transportErr *TransportError
	switch {
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}
