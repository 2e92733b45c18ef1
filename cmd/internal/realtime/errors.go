package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorizedConnection is returned when no identity is attached to the connection.
	ErrUnauthorizedConnection = errors.New("unauthorized connection")

	// ErrIdentityNotFound is returned when the connection's user does not exist.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrMissingAddress is returned when the transport supplies no client IP.
	ErrMissingAddress = errors.New("missing client address")

	// ErrInvalidChannel is returned for an unknown channel name.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection id")

	// ErrNotConnected is returned when a target connection is not live on this node.
	ErrNotConnected = errors.New("connection not live")

	// ErrBackpressure is returned when a connection's send queue is full.
	ErrBackpressure = errors.New("send queue full")
)

// IsConnectionError reports whether err is a connect-time rejection.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrUnauthorizedConnection) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, ErrMissingAddress) ||
		errors.Is(err, ErrInvalidChannel)
}

// DeliveryError reports a failed send to one connection.
type DeliveryError struct {
	ConnectionID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ConnectionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliveryErrors flattens a joined send error into its per-connection parts.
func DeliveryErrors(err error) []*DeliveryError {
	if err == nil {
		return nil
	}
	var out []*DeliveryError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, DeliveryErrors(e)...)
		}
		return out
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		out = append(out, de)
	}
	return out
}
