package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

type Device struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RoutingKey string     `gorm:"size:128;not null;uniqueIndex"`
	AssetID    *uuid.UUID `gorm:"type:uuid;index"`
	Asset      *Asset     `gorm:"foreignKey:AssetID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Asset struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"size:255"`
	Type      string    `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Client struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Name        string       `gorm:"size:255"`
	TagCode     string       `gorm:"size:32"`
	AlertGroups []AlertGroup `gorm:"foreignKey:ClientID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type AlertGroup struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientID uuid.UUID `gorm:"type:uuid;not null;index:idx_alert_groups_client_code,priority:1"`
	Code     string    `gorm:"size:64;not null;index:idx_alert_groups_client_code,priority:2"`
	Position int       `gorm:"not null;default:0"`
	Contacts []Contact `gorm:"foreignKey:AlertGroupID"`
}

type Contact struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	AlertGroupID uuid.UUID `gorm:"type:uuid;not null;index"`
	Position     int       `gorm:"not null;default:0"`
	Name         string    `gorm:"size:255"`
	SMSSend      bool      `gorm:"column:sms_send"`
	SMSNumber    string    `gorm:"column:sms_number;size:32"`
	EmailSend    bool
	EmailAddress string `gorm:"size:255"`
	UserSend     bool
	UserID       string `gorm:"size:64"`
}

type Alert struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	SensorCode       string                      `gorm:"size:8;not null;index"`
	LimitLow         float64                     `gorm:"not null"`
	LimitHigh        float64                     `gorm:"not null"`
	AlertGroupCodes  datatypes.JSONSlice[string] `gorm:"type:json"`
	FrequencyMinutes int                         `gorm:"not null;default:60"`
	Active           bool                        `gorm:"not null;default:true;index"`
	LastSent         *time.Time
	Assets           []Asset `gorm:"many2many:alert_assets;"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientID  uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID    string    `gorm:"size:64;not null;index"`
	Subject   string    `gorm:"size:255"`
	Content   string    `gorm:"type:text"`
	Priority  int       `gorm:"not null;default:0"`
	Viewed    bool      `gorm:"not null;default:false;index"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (d Device) toModel() model.Device {
	out := model.Device{ID: d.ID.String(), RoutingKey: d.RoutingKey}
	if d.AssetID != nil && *d.AssetID != uuid.Nil {
		out.AssetID = d.AssetID.String()
	}
	if d.Asset != nil {
		a := d.Asset.toModel()
		out.Asset = &a
	}
	return out
}

func (a Asset) toModel() model.Asset {
	return model.Asset{ID: a.ID.String(), ClientID: a.ClientID.String(), Name: a.Name, Type: a.Type}
}

func (c Client) toModel() model.Client {
	out := model.Client{ID: c.ID.String(), Name: c.Name, TagCode: c.TagCode}
	for _, g := range c.AlertGroups {
		mg := model.AlertGroup{Code: g.Code}
		for _, ct := range g.Contacts {
			mg.Contacts = append(mg.Contacts, model.Contact{
				Name:  ct.Name,
				SMS:   model.SMSChannel{Send: ct.SMSSend, Number: ct.SMSNumber},
				Email: model.EmailChannel{Send: ct.EmailSend, Address: ct.EmailAddress},
				User:  model.UserChannel{Send: ct.UserSend, ID: ct.UserID},
			})
		}
		out.AlertGroups = append(out.AlertGroups, mg)
	}
	return out
}

func (a Alert) toModel() model.Alert {
	out := model.Alert{
		ID:               a.ID.String(),
		SensorCode:       a.SensorCode,
		Limits:           model.Limits{Low: a.LimitLow, High: a.LimitHigh},
		AlertGroupCodes:  append([]string(nil), a.AlertGroupCodes...),
		FrequencyMinutes: a.FrequencyMinutes,
		Active:           a.Active,
		Updated:          a.UpdatedAt,
	}
	if a.LastSent != nil {
		t := a.LastSent.UTC()
		out.LastSent = &t
	}
	for _, as := range a.Assets {
		out.AssetIDs = append(out.AssetIDs, as.ID.String())
	}
	return out
}

func (m Message) toModel() model.Message {
	return model.Message{
		ID:       m.ID.String(),
		ClientID: m.ClientID.String(),
		UserID:   m.UserID,
		Subject:  m.Subject,
		Content:  m.Content,
		Priority: m.Priority,
		Viewed:   m.Viewed,
		Created:  m.CreatedAt,
		Updated:  m.UpdatedAt,
	}
}
