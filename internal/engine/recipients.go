package engine

import (
	"strings"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// Recipients is the per-channel fan-out of one alert. Each list is
// de-duplicated by normalized address, first occurrence wins.
type Recipients struct {
	SMS   []model.NotificationRequest
	Email []model.NotificationRequest
	InApp []model.NotificationRequest
}

func (r Recipients) Empty() bool { return len(r.SMS)+len(r.Email)+len(r.InApp) == 0 }

// Addressed returns a copy with each request's subject and body taken from c.
// SMS carries no subject; in-app messages reuse the SMS text as their body.
func (r Recipients) Addressed(c Content) Recipients {
	fill := func(in []model.NotificationRequest, subject, body string) []model.NotificationRequest {
		if in == nil {
			return nil
		}
		out := make([]model.NotificationRequest, len(in))
		for i, req := range in {
			req.Subject = subject
			req.Body = body
			out[i] = req
		}
		return out
	}
	return Recipients{
		SMS:   fill(r.SMS, "", c.SMS),
		Email: fill(r.Email, c.Subject, c.Text),
		InApp: fill(r.InApp, c.Subject, c.SMS),
	}
}

// ResolveRecipients expands the alert's group codes through the client's
// alert groups. Codes the client does not define contribute nothing.
func ResolveRecipients(alert model.Alert, client model.Client) Recipients {
	var out Recipients
	seen := map[model.Channel]map[string]struct{}{
		model.ChannelSMS:   {},
		model.ChannelEmail: {},
		model.ChannelInApp: {},
	}
	add := func(list *[]model.NotificationRequest, ch model.Channel, address, name string) {
		key := normalizeAddress(ch, address)
		if key == "" {
			return
		}
		if _, dup := seen[ch][key]; dup {
			return
		}
		seen[ch][key] = struct{}{}
		*list = append(*list, model.NotificationRequest{Channel: ch, Address: strings.TrimSpace(address), Name: strings.TrimSpace(name)})
	}

	for _, code := range alert.AlertGroupCodes {
		group, ok := client.Group(code)
		if !ok {
			continue
		}
		for _, c := range group.Contacts {
			if c.SMS.Send {
				add(&out.SMS, model.ChannelSMS, c.SMS.Number, c.Name)
			}
			if c.Email.Send {
				add(&out.Email, model.ChannelEmail, c.Email.Address, c.Name)
			}
			if c.User.Send {
				add(&out.InApp, model.ChannelInApp, c.User.ID, c.Name)
			}
		}
	}
	return out
}

func normalizeAddress(ch model.Channel, address string) string {
	address = strings.TrimSpace(address)
	switch ch {
	case model.ChannelSMS:
		var b strings.Builder
		for i, r := range address {
			if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
				b.WriteRune(r)
			}
		}
		return b.String()
	case model.ChannelEmail:
		return strings.ToLower(address)
	default:
		return address
	}
}
