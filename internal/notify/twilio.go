package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTwilioNotifyURL = "https://notify.twilio.com/v1"

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	NotifyServiceSID string
	BaseURL          string
	Timeout          time.Duration
}

// TwilioNotify sends one Notify notification fanned out to SMS bindings.
type TwilioNotify struct {
	client     *resty.Client
	serviceSID string
}

// TwilioError is the error body Twilio returns for non-2xx responses.
type TwilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio %d: %s", e.Code, e.Message)
}

type twilioNotification struct {
	SID string `json:"sid"`
}

type smsBinding struct {
	BindingType string `json:"binding_type"`
	Address     string `json:"address"`
}

func NewTwilioNotify(cfg TwilioConfig) (*TwilioNotify, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" || strings.TrimSpace(cfg.NotifyServiceSID) == "" {
		return nil, errors.New("twilio account sid, auth token and notify service sid are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultTwilioNotifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := newClient(base, timeout, "twilio").
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")
	return &TwilioNotify{client: client, serviceSID: cfg.NotifyServiceSID}, nil
}

func (t *TwilioNotify) SendSMS(ctx context.Context, msg SMS) error {
	if len(msg.Numbers) == 0 {
		return nil
	}
	form := url.Values{}
	for _, n := range msg.Numbers {
		b, err := json.Marshal(smsBinding{BindingType: "sms", Address: n})
		if err != nil {
			return err
		}
		form.Add("ToBinding", string(b))
	}
	form.Set("Body", msg.Body)

	var (
		ok     twilioNotification
		apiErr TwilioError
	)
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&ok).
		SetError(&apiErr).
		Post("/Services/" + url.PathEscape(t.serviceSID) + "/Notifications")
	if err != nil {
		return fmt.Errorf("twilio notify request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Code == 0 && apiErr.Message == "" {
			return fmt.Errorf("twilio notify: %s", resp.Status())
		}
		return &apiErr
	}
	return nil
}
