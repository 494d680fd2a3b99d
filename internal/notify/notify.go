// Package notify holds the outbound SMS and email transports.
package notify

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type SMS struct {
	Numbers []string
	Body    string
}

type Recipient struct {
	Address string
	Name    string
}

// String formats the recipient as an RFC 5322 mailbox, quoting the display
// name when it needs it.
func (r Recipient) String() string {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return r.Address
	}
	return (&mail.Address{Name: name, Address: r.Address}).String()
}

type Email struct {
	FromEmail string
	FromName  string
	ReplyTo   string
	Subject   string
	Text      string
	HTML      string
	To        []Recipient
	Important bool
}

// DeliveryResult is the per-recipient outcome reported by an email transport.
type DeliveryResult struct {
	Address string
	Status  string
	Reason  string
}

// Delivered reports whether the transport accepted the message for delivery.
func (r DeliveryResult) Delivered() bool {
	switch r.Status {
	case "sent", "queued", "scheduled":
		return true
	}
	return false
}

// newClient builds the HTTP client shared by the provider transports. Sends
// are never retried: a request that timed out may already have been accepted,
// and a resend would notify the recipients twice.
func newClient(base string, timeout time.Duration, provider string) *resty.Client {
	return resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(slogLogger{log: slog.With("provider", provider)})
}

// slogLogger routes resty's diagnostics through the process logger.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l slogLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l slogLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
