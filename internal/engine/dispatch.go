package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/notify"
)

type RoundState string

const (
	StatePending           RoundState = "pending"
	StateSMSSent           RoundState = "sms_sent"
	StateSMSSkipped        RoundState = "sms_skipped"
	StateSMSFailed         RoundState = "sms_failed"
	StateEmailSent         RoundState = "email_sent"
	StateEmailSkipped      RoundState = "email_skipped"
	StateEmailFailed       RoundState = "email_failed"
	StateMessagesPersisted RoundState = "messages_persisted"
	StateMessagesSkipped   RoundState = "messages_skipped"
	StateMessagesFailed    RoundState = "messages_failed"
	StateDone              RoundState = "done"
)

// inAppPriority is the priority stamped on alert messages.
const inAppPriority = 1

// Round is one committed notification round for a single alert.
type Round struct {
	Alert      MatchedAlert
	Asset      model.Asset
	Breach     Breach
	Recipients Recipients
	Content    Content
	At         time.Time
}

type StageResult struct {
	State     RoundState
	Attempted int
	Delivered int
	Err       error
}

type RoundReport struct {
	AlertID     string
	Breach      Breach
	SMS         StageResult
	Email       StageResult
	Messages    StageResult
	Transitions []RoundState
	State       RoundState
}

func (r *RoundReport) enter(s RoundState) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Dispatcher runs a round as SMS, then email, then in-app persistence. A
// failing stage is recorded and the next stage still runs.
type Dispatcher struct {
	sms       SMSSender
	email     EmailSender
	messages  MessageWriter
	publisher MessagePublisher
	recorder  Recorder
}

func NewDispatcher(sms SMSSender, email EmailSender, messages MessageWriter, publisher MessagePublisher, recorder Recorder) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{sms: sms, email: email, messages: messages, publisher: publisher, recorder: recorder}
}

func (d *Dispatcher) Dispatch(ctx context.Context, round Round) RoundReport {
	rep := RoundReport{AlertID: round.Alert.Alert.ID, Breach: round.Breach}
	rep.enter(StatePending)
	log := slog.With("alert_id", rep.AlertID, "asset_id", round.Asset.ID, "direction", round.Breach.Direction)

	rep.SMS = d.sendSMS(ctx, round)
	rep.enter(rep.SMS.State)
	if rep.SMS.Err != nil {
		log.Error("sms dispatch failed", "recipients", rep.SMS.Attempted, "error", rep.SMS.Err)
	}

	rep.Email = d.sendEmail(ctx, round, log)
	rep.enter(rep.Email.State)
	if rep.Email.Err != nil {
		log.Error("email dispatch failed", "recipients", rep.Email.Attempted, "error", rep.Email.Err)
	}

	rep.Messages = d.persistMessages(ctx, round)
	rep.enter(rep.Messages.State)
	if rep.Messages.Err != nil {
		log.Error("in-app message insert failed", "messages", rep.Messages.Attempted, "error", rep.Messages.Err)
	}

	rep.enter(StateDone)
	log.Info("alert round done",
		"sms", rep.SMS.State, "email", rep.Email.State, "messages", rep.Messages.State,
		"email_delivered", rep.Email.Delivered, "messages_stored", rep.Messages.Delivered)
	return rep
}

func (d *Dispatcher) sendSMS(ctx context.Context, round Round) StageResult {
	numbers := make([]string, 0, len(round.Recipients.SMS))
	for _, r := range round.Recipients.SMS {
		numbers = append(numbers, r.Address)
	}
	if len(numbers) == 0 || d.sms == nil {
		d.recorder.Notification(model.ChannelSMS, "skipped", len(numbers))
		return StageResult{State: StateSMSSkipped, Attempted: len(numbers)}
	}
	if err := d.sms.SendSMS(ctx, notify.SMS{Numbers: numbers, Body: round.Recipients.SMS[0].Body}); err != nil {
		d.recorder.Notification(model.ChannelSMS, "failed", len(numbers))
		return StageResult{State: StateSMSFailed, Attempted: len(numbers), Err: &TransportError{Channel: model.ChannelSMS, Err: err}}
	}
	d.recorder.Notification(model.ChannelSMS, "sent", len(numbers))
	return StageResult{State: StateSMSSent, Attempted: len(numbers), Delivered: len(numbers)}
}

func (d *Dispatcher) sendEmail(ctx context.Context, round Round, log *slog.Logger) StageResult {
	to := make([]notify.Recipient, 0, len(round.Recipients.Email))
	for _, r := range round.Recipients.Email {
		to = append(to, notify.Recipient{Address: r.Address, Name: r.Name})
	}
	if len(to) == 0 || d.email == nil {
		d.recorder.Notification(model.ChannelEmail, "skipped", len(to))
		return StageResult{State: StateEmailSkipped, Attempted: len(to)}
	}
	brand := round.Content.Brand
	results, err := d.email.SendEmail(ctx, notify.Email{
		FromEmail: brand.FromEmail,
		FromName:  brand.FromName,
		ReplyTo:   brand.ReplyTo,
		Subject:   round.Content.Subject,
		Text:      round.Content.Text,
		HTML:      round.Content.HTML,
		To:        to,
		Important: true,
	})
	if err != nil {
		d.recorder.Notification(model.ChannelEmail, "failed", len(to))
		return StageResult{State: StateEmailFailed, Attempted: len(to), Err: &TransportError{Channel: model.ChannelEmail, Err: err}}
	}
	delivered := 0
	for _, r := range results {
		if r.Delivered() {
			delivered++
			continue
		}
		log.Warn("email not accepted", "email", r.Address, "status", r.Status, "reason", r.Reason)
	}
	d.recorder.Notification(model.ChannelEmail, "sent", delivered)
	if rejected := len(to) - delivered; rejected > 0 && len(results) > 0 {
		d.recorder.Notification(model.ChannelEmail, "rejected", rejected)
	}
	return StageResult{State: StateEmailSent, Attempted: len(to), Delivered: delivered}
}

func (d *Dispatcher) persistMessages(ctx context.Context, round Round) StageResult {
	if len(round.Recipients.InApp) == 0 || d.messages == nil {
		return StageResult{State: StateMessagesSkipped}
	}
	drafts := make([]model.Message, 0, len(round.Recipients.InApp))
	for _, r := range round.Recipients.InApp {
		drafts = append(drafts, model.Message{
			ClientID: round.Asset.ClientID,
			UserID:   r.Address,
			Subject:  r.Subject,
			Content:  r.Body,
			Priority: inAppPriority,
			Viewed:   false,
			Created:  round.At,
			Updated:  round.At,
		})
	}
	stored, err := d.messages.InsertMessages(ctx, drafts)
	if err != nil {
		d.recorder.Notification(model.ChannelInApp, "failed", len(drafts))
		return StageResult{State: StateMessagesFailed, Attempted: len(drafts), Err: &StoreError{Op: "insert messages", Err: err}}
	}
	d.recorder.Notification(model.ChannelInApp, "sent", len(stored))
	if d.publisher != nil && len(stored) > 0 {
		d.publisher.PublishMessages(stored)
	}
	return StageResult{State: StateMessagesPersisted, Attempted: len(drafts), Delivered: len(stored)}
}
