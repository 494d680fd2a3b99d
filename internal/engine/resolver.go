package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// Resolver maps a device routing key to its device and asset, reading through
// an optional cache.
type Resolver struct {
	devices DeviceSource
	cache   DeviceCache
}

func NewResolver(devices DeviceSource, cache DeviceCache) *Resolver {
	return &Resolver{devices: devices, cache: cache}
}

// Resolve returns OutcomeNotFound or OutcomeUnassigned (with a nil error)
// when the pipeline should stop. A non-nil error is always a *StoreError.
func (r *Resolver) Resolve(ctx context.Context, routingKey string) (model.Device, Outcome, error) {
	if r.cache != nil {
		d, ok, err := r.cache.Get(ctx, routingKey)
		if err != nil {
			slog.Warn("device cache read failed", "routing_key", routingKey, "error", err)
		} else if ok {
			return d, classify(d), nil
		}
	}

	d, err := r.devices.DeviceByRoutingKey(ctx, routingKey)
	if errors.Is(err, ErrNotFound) {
		return model.Device{}, OutcomeNotFound, nil
	}
	if err != nil {
		return model.Device{}, "", &StoreError{Op: "resolve device", Err: err}
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, d); err != nil {
			slog.Warn("device cache write failed", "routing_key", routingKey, "error", err)
		}
	}
	return d, classify(d), nil
}

func classify(d model.Device) Outcome {
	if !d.Assigned() {
		return OutcomeUnassigned
	}
	return ""
}
