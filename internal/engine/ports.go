package engine

import (
	"context"
	"time"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/notify"
)

type DeviceSource interface {
	DeviceByRoutingKey(ctx context.Context, routingKey string) (model.Device, error)
}

type AlertSource interface {
	ActiveAlerts(ctx context.Context, assetID, sensorCode string) ([]model.Alert, error)
	ClientProfile(ctx context.Context, clientID string) (model.Client, error)
}

// WindowClaimer performs the atomic "last notified" compare-and-set.
type WindowClaimer interface {
	ClaimAlertWindow(ctx context.Context, alertID, sensorCode string, cutoff, now time.Time) (bool, error)
}

type MessageWriter interface {
	InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error)
}

// Store is everything the engine needs from a persistence backend.
type Store interface {
	DeviceSource
	AlertSource
	WindowClaimer
	MessageWriter
}

type DeviceCache interface {
	Get(ctx context.Context, routingKey string) (model.Device, bool, error)
	Set(ctx context.Context, d model.Device) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg notify.SMS) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, e notify.Email) ([]notify.DeliveryResult, error)
}

// MessagePublisher pushes persisted in-app messages to live listeners.
type MessagePublisher interface {
	PublishMessages(msgs []model.Message)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	Reading(kind string, outcome Outcome)
	Debounce(result string)
	Notification(channel model.Channel, status string, n int)
	Evaluation(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Reading(string, Outcome)                 {}
func (nopRecorder) Debounce(string)                         {}
func (nopRecorder) Notification(model.Channel, string, int) {}
func (nopRecorder) Evaluation(time.Duration)                {}
