package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultMandrillURL = "https://mandrillapp.com/api/1.0"

type MandrillConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type Mandrill struct {
	client *resty.Client
	key    string
}

// MandrillError is the {status, code, name, message} body Mandrill returns on failure.
type MandrillError struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *MandrillError) Error() string {
	return "mandrill " + e.Name + ": " + e.Message
}

type mandrillTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type"`
}

type mandrillMessage struct {
	HTML               string            `json:"html,omitempty"`
	Text               string            `json:"text,omitempty"`
	Subject            string            `json:"subject"`
	FromEmail          string            `json:"from_email"`
	FromName           string            `json:"from_name,omitempty"`
	To                 []mandrillTo      `json:"to"`
	Headers            map[string]string `json:"headers,omitempty"`
	Important          bool              `json:"important"`
	TrackOpens         bool              `json:"track_opens"`
	TrackClicks        bool              `json:"track_clicks"`
	PreserveRecipients bool              `json:"preserve_recipients"`
	Tags               []string          `json:"tags,omitempty"`
}

type mandrillSendRequest struct {
	Key     string          `json:"key"`
	Message mandrillMessage `json:"message"`
	Async   bool            `json:"async"`
}

type mandrillResult struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason"`
	ID           string `json:"_id"`
}

func NewMandrill(cfg MandrillConfig) (*Mandrill, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mandrill api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultMandrillURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := newClient(base, timeout, "mandrill").
		SetHeader("Content-Type", "application/json")
	return &Mandrill{client: client, key: cfg.APIKey}, nil
}

func (m *Mandrill) SendEmail(ctx context.Context, e Email) ([]DeliveryResult, error) {
	if len(e.To) == 0 {
		return nil, nil
	}
	msg := mandrillMessage{
		HTML:        e.HTML,
		Text:        e.Text,
		Subject:     e.Subject,
		FromEmail:   e.FromEmail,
		FromName:    e.FromName,
		Important:   e.Important,
		TrackOpens:  true,
		TrackClicks: false,
		Tags:        []string{"alert"},
	}
	if e.ReplyTo != "" {
		msg.Headers = map[string]string{"Reply-To": e.ReplyTo}
	}
	for _, r := range e.To {
		msg.To = append(msg.To, mandrillTo{Email: r.Address, Name: r.Name, Type: "to"})
	}

	var (
		results []mandrillResult
		apiErr  MandrillError
	)
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(mandrillSendRequest{Key: m.key, Message: msg}).
		SetResult(&results).
		SetError(&apiErr).
		Post("/messages/send.json")
	if err != nil {
		return nil, fmt.Errorf("mandrill request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Name == "" && apiErr.Message == "" {
			return nil, fmt.Errorf("mandrill: %s", resp.Status())
		}
		return nil, &apiErr
	}

	out := make([]DeliveryResult, 0, len(results))
	for _, r := range results {
		out = append(out, DeliveryResult{Address: r.Email, Status: r.Status, Reason: r.RejectReason})
	}
	return out, nil
}
