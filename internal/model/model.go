// Package model holds the storage-agnostic records the alert worker reads and
// writes. IDs are opaque strings: UUID text on Postgres, ObjectID hex on Mongo.
package model

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

type Device struct {
	ID         string
	RoutingKey string
	// AssetID is empty for hardware that has not been assigned yet.
	AssetID string
	Asset   *Asset
}

func (d Device) Assigned() bool { return strings.TrimSpace(d.AssetID) != "" && d.Asset != nil }

type Asset struct {
	ID       string
	ClientID string
	Name     string
	Type     string
}

type Client struct {
	ID          string
	Name        string
	TagCode     string
	AlertGroups []AlertGroup
}

// Group returns the alert group with the given code.
func (c Client) Group(code string) (AlertGroup, bool) {
	for _, g := range c.AlertGroups {
		if g.Code == code {
			return g, true
		}
	}
	return AlertGroup{}, false
}

type AlertGroup struct {
	Code     string
	Contacts []Contact
}

type Contact struct {
	Name  string
	SMS   SMSChannel
	Email EmailChannel
	User  UserChannel
}

type SMSChannel struct {
	Send   bool
	Number string
}

type EmailChannel struct {
	Send    bool
	Address string
}

type UserChannel struct {
	Send bool
	ID   string
}

type Limits struct {
	Low  float64
	High float64
}

type Alert struct {
	ID               string
	AssetIDs         []string
	SensorCode       string
	Limits           Limits
	AlertGroupCodes  []string
	FrequencyMinutes int
	Active           bool
	LastSent         *time.Time
	Updated          time.Time
}

// Frequency is the cooldown window, never shorter than floor.
func (a Alert) Frequency(floor time.Duration) time.Duration {
	f := time.Duration(a.FrequencyMinutes) * time.Minute
	if f < floor {
		return floor
	}
	return f
}

// Message is a persisted in-app notification.
type Message struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	UserID   string    `json:"user_id"`
	Subject  string    `json:"subject"`
	Content  string    `json:"content"`
	Priority int       `json:"priority"`
	Viewed   bool      `json:"viewed"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "inapp"
)

// NotificationRequest is one addressed message for a single channel.
type NotificationRequest struct {
	Channel Channel
	Address string
	Name    string
	Subject string
	Body    string
}
