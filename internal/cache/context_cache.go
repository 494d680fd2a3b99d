// Package cache keeps resolved device context in Redis so bursts of telemetry
// from one device do not hit the store for every message.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

const keyPrefix = "alerts:device:"

type ContextCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewContextCache(rdb redis.Cmdable, ttl time.Duration) *ContextCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ContextCache{rdb: rdb, ttl: ttl}
}

func key(routingKey string) string { return keyPrefix + routingKey }

type entry struct {
	ID         string      `json:"id"`
	RoutingKey string      `json:"routing_key"`
	AssetID    string      `json:"asset_id,omitempty"`
	Asset      *assetEntry `json:"asset,omitempty"`
}

type assetEntry struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// Get returns ok=false on a miss.
func (c *ContextCache) Get(ctx context.Context, routingKey string) (model.Device, bool, error) {
	b, err := c.rdb.Get(ctx, key(routingKey)).Bytes()
	if err == redis.Nil {
		return model.Device{}, false, nil
	}
	if err != nil {
		return model.Device{}, false, err
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		// Corrupt entry; drop it and report a miss.
		_ = c.Delete(ctx, routingKey)
		return model.Device{}, false, nil
	}
	d := model.Device{ID: e.ID, RoutingKey: e.RoutingKey, AssetID: e.AssetID}
	if e.Asset != nil {
		d.Asset = &model.Asset{ID: e.Asset.ID, ClientID: e.Asset.ClientID, Name: e.Asset.Name, Type: e.Asset.Type}
	}
	return d, true, nil
}

func (c *ContextCache) Set(ctx context.Context, d model.Device) error {
	e := entry{ID: d.ID, RoutingKey: d.RoutingKey, AssetID: d.AssetID}
	if d.Asset != nil {
		e.Asset = &assetEntry{ID: d.Asset.ID, ClientID: d.Asset.ClientID, Name: d.Asset.Name, Type: d.Asset.Type}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(d.RoutingKey), b, c.ttl).Err()
}

// Delete drops the cached context for routingKey. Entries otherwise expire
// after the TTL; an asset reassignment is seen once the old entry expires.
func (c *ContextCache) Delete(ctx context.Context, routingKey string) error {
	return c.rdb.Del(ctx, key(routingKey)).Err()
}
