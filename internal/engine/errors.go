package engine

import (
	"fmt"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/telemetry"
)

var (
	// ErrDecode marks malformed telemetry; the message is dropped.
	ErrDecode = telemetry.ErrDecode
	// ErrNotFound marks a device, asset or client the store does not know.
	ErrNotFound = model.ErrNotFound
)

// TransportError is an SMS or email send failure. It never aborts a round.
type TransportError struct {
	Channel model.Channel
	Err     error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s transport: %v", e.Channel, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StoreError is a failed store read or write. A failed read aborts the
// evaluation of the current reading only.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
