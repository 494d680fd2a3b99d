package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/notify"
)

type fakeStore struct {
	mu       sync.Mutex
	devices  map[string]model.Device
	alerts   []*model.Alert
	clients  map[string]model.Client
	messages []model.Message

	deviceLookups int
	claims        int
	claimErr      error
	alertsErr     error
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: map[string]model.Device{}, clients: map[string]model.Client{}}
}

func (s *fakeStore) DeviceByRoutingKey(_ context.Context, key string) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceLookups++
	d, ok := s.devices[key]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) ActiveAlerts(_ context.Context, assetID, sensorCode string) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertsErr != nil {
		return nil, s.alertsErr
	}
	var out []model.Alert
	for _, a := range s.alerts {
		if a.Active && a.SensorCode == sensorCode && slices.Contains(a.AssetIDs, assetID) {
			cp := *a
			if a.LastSent != nil {
				t := *a.LastSent
				cp.LastSent = &t
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ClientProfile(_ context.Context, clientID string) (model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return model.Client{}, ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) ClaimAlertWindow(_ context.Context, alertID, sensorCode string, cutoff, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if s.claimErr != nil {
		return false, s.claimErr
	}
	for _, a := range s.alerts {
		if a.ID != alertID || a.SensorCode != sensorCode || !a.Active {
			continue
		}
		if a.LastSent == nil || a.LastSent.Before(cutoff) {
			t := now
			a.LastSent = &t
			a.Updated = now
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func (s *fakeStore) InsertMessages(_ context.Context, msgs []model.Message) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	out := make([]model.Message, 0, len(msgs))
	for i, m := range msgs {
		m.ID = fmt.Sprintf("msg-%d", len(s.messages)+i)
		out = append(out, m)
	}
	s.messages = append(s.messages, out...)
	return out, nil
}

func (s *fakeStore) lastSent(alertID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == alertID {
			return a.LastSent
		}
	}
	return nil
}

type fakeSMS struct {
	mu    sync.Mutex
	calls []notify.SMS
	err   error
}

func (f *fakeSMS) SendSMS(_ context.Context, msg notify.SMS) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.err
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEmail struct {
	mu    sync.Mutex
	calls []notify.Email
	err   error
}

func (f *fakeEmail) SendEmail(_ context.Context, e notify.Email) ([]notify.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, e)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]notify.DeliveryResult, 0, len(e.To))
	for _, r := range e.To {
		out = append(out, notify.DeliveryResult{Address: r.Address, Status: "sent"})
	}
	return out, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (p *fakePublisher) PublishMessages(msgs []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.Device
	getErr  error
}

func (c *fakeCache) Get(_ context.Context, key string) (model.Device, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return model.Device{}, false, c.getErr
	}
	d, ok := c.entries[key]
	return d, ok, nil
}

func (c *fakeCache) Set(_ context.Context, d model.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]model.Device{}
	}
	c.entries[d.RoutingKey] = d
	return nil
}
