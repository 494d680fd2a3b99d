package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadRoutingKey = errors.New("bad routing key")
	ErrUnknownKind   = errors.New("unknown sensor kind")
)

// RoutingKey is a parsed telemetry topic: <device>/<version>/<kind> or
// <device>/gateway/<version>/<kind>.
type RoutingKey struct {
	DeviceID string
	Gateway  bool
	Version  string
	Kind     string
}

func (k RoutingKey) String() string {
	if k.Gateway {
		return k.DeviceID + "/gateway/" + k.Version + "/" + k.Kind
	}
	return k.DeviceID + "/" + k.Version + "/" + k.Kind
}

func ParseRoutingKey(topic string) (RoutingKey, error) {
	parts := strings.Split(strings.TrimSpace(topic), "/")
	var k RoutingKey
	switch {
	case len(parts) == 4 && parts[1] == "gateway":
		k = RoutingKey{DeviceID: parts[0], Gateway: true, Version: parts[2], Kind: parts[3]}
	case len(parts) == 3 && parts[1] != "gateway":
		k = RoutingKey{DeviceID: parts[0], Version: parts[1], Kind: parts[2]}
	default:
		return RoutingKey{}, fmt.Errorf("%w: %q", ErrBadRoutingKey, topic)
	}
	if k.DeviceID == "" || k.Version == "" || k.Kind == "" {
		return RoutingKey{}, fmt.Errorf("%w: %q", ErrBadRoutingKey, topic)
	}
	return k, nil
}
