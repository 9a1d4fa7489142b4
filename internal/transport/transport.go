// Package transport abstracts the wire connection to an instrument.
//
// A Transport moves command strings and responses; it knows nothing about
// properties or value coercion. Implementations exist for raw TCP
// (tcp.go), MQTT request/response (mqtt.go) and an in-process simulator
// (sim.go).
package transport

import (
	"context"
	"errors"
)

// ErrClosed marks an operation on a transport that is not open.
var ErrClosed = errors.New("transport: connection closed")

// Transport is a bidirectional command connection to one instrument.
//
// Implementations must be safe for concurrent use; the instrument layer
// serializes property pipelines but health checks may run alongside.
type Transport interface {
	// Open establishes the connection. Opening an open transport is a
	// no-op.
	Open(ctx context.Context) error

	// Close tears the connection down. Closing a closed transport is a
	// no-op.
	Close(ctx context.Context) error

	// Reopen closes and re-establishes the connection, dropping any
	// half-read state. Used between communication-failure retries.
	Reopen(ctx context.Context) error

	// Connected reports whether the transport is currently open.
	Connected() bool

	// Query sends a command and returns the instrument's response.
	Query(ctx context.Context, cmd string) (string, error)

	// Send transmits a command that produces no response.
	Send(ctx context.Context, line string) error

	// CheckOperation asks the instrument whether its last operation
	// succeeded. It returns the instrument's error message, empty when
	// the operation completed cleanly; the error return covers transport
	// failure of the check itself.
	CheckOperation(ctx context.Context) (string, error)
}
