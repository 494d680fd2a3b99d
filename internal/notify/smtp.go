package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// SMTP sends one message per recipient over STARTTLS, so recipients never see
// each other's addresses.
type SMTP struct {
	cfg  SMTPConfig
	send func(*email.Email) error
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "587"
	}
	s := &SMTP{cfg: cfg}
	s.send = s.sendStartTLS
	return s, nil
}

func (s *SMTP) sendStartTLS(e *email.Email) error {
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	return e.SendWithStartTLS(
		fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port),
		auth,
		&tls.Config{ServerName: s.cfg.Host},
	)
}

func (s *SMTP) SendEmail(ctx context.Context, e Email) ([]DeliveryResult, error) {
	out := make([]DeliveryResult, 0, len(e.To))
	var errs []error
	for _, r := range e.To {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m := email.NewEmail()
		m.From = Recipient{Address: e.FromEmail, Name: e.FromName}.String()
		m.To = []string{r.String()}
		if e.ReplyTo != "" {
			m.ReplyTo = []string{e.ReplyTo}
		}
		m.Subject = e.Subject
		m.Text = []byte(e.Text)
		m.HTML = []byte(e.HTML)
		if e.Important {
			m.Headers.Set("Importance", "high")
		}
		if err := s.send(m); err != nil {
			out = append(out, DeliveryResult{Address: r.Address, Status: "rejected", Reason: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", r.Address, err))
			continue
		}
		out = append(out, DeliveryResult{Address: r.Address, Status: "sent"})
	}
	if len(errs) == len(e.To) && len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	return out, nil
}
