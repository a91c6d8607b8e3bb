// Package connector defines the vehicle-facing execution contract (C4):
// given a validated command, drive the target and stream response chunks
// back to the caller through a sink callback.
package connector

import (
	"context"
	"encoding/json"
	"errors"
)

// Status is the terminal outcome of Execute.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrTimeout is returned (wrapped) when the execution budget elapses before
// the connector produces a final chunk.
var ErrTimeout = errors.New("connector: execution timeout")

// Sink receives one response chunk. Implementations persist the chunk and
// publish it to C2 before returning. seq starts at 1 and strictly
// increases across calls for a given command; isFinal is true on exactly
// one call, the last one.
type Sink func(payload json.RawMessage, seq int, isFinal bool) error

// Connector drives one command against a vehicle. Execute blocks until the
// command reaches a terminal status or ctx is cancelled/times out — it owns
// no goroutines of its own; the caller (pkg/queue.Dispatcher) provides the
// concurrency.
type Connector interface {
	Execute(ctx context.Context, commandID, vehicleID, commandName string, params map[string]any, sink Sink) (Status, error)
}
