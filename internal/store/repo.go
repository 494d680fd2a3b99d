// Package store is the relational backend of the alert worker (Postgres in
// production, SQLite in tests).
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

var ErrNotFound = model.ErrNotFound

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	// Unknown routing keys are routine; keep warnings but drop record-not-found noise.
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(
		postgres.New(postgres.Config{DSN: dsn}),
		&gorm.Config{Logger: gormLogger, SkipDefaultTransaction: true},
	)
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Client{}, &AlertGroup{}, &Contact{}, &Asset{}, &Device{}, &Alert{}, &Message{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// NewWithoutMigrate wraps db as is. The schema must already exist.
func NewWithoutMigrate(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repo) DeviceByRoutingKey(ctx context.Context, routingKey string) (model.Device, error) {
	var row Device
	err := r.db.WithContext(ctx).Preload("Asset").Where("routing_key = ?", routingKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Device{}, ErrNotFound
	}
	if err != nil {
		return model.Device{}, err
	}
	return row.toModel(), nil
}

// ActiveAlerts lists the active alerts that cover assetID for sensorCode.
func (r *Repo) ActiveAlerts(ctx context.Context, assetID, sensorCode string) ([]model.Alert, error) {
	id, err := uuid.Parse(assetID)
	if err != nil {
		return nil, nil
	}
	var rows []Alert
	err = r.db.WithContext(ctx).
		Preload("Assets").
		Joins("JOIN alert_assets ON alert_assets.alert_id = alerts.id").
		Where("alert_assets.asset_id = ? AND alerts.sensor_code = ? AND alerts.active = ?", id, sensorCode, true).
		Order("alerts.created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.toModel())
	}
	return out, nil
}

// ClientProfile loads a client's tag code and alert groups with contacts, in
// their configured order.
func (r *Repo) ClientProfile(ctx context.Context, clientID string) (model.Client, error) {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return model.Client{}, ErrNotFound
	}
	var row Client
	err = r.db.WithContext(ctx).
		Preload("AlertGroups", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("AlertGroups.Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Client{}, ErrNotFound
	}
	if err != nil {
		return model.Client{}, err
	}
	return row.toModel(), nil
}

// ClaimAlertWindow sets last_sent=now on the alert only if its previous
// notification is older than cutoff (or it never fired). It reports whether
// this call performed the update. The check and the write are one statement.
func (r *Repo) ClaimAlertWindow(ctx context.Context, alertID, sensorCode string, cutoff, now time.Time) (bool, error) {
	id, err := uuid.Parse(alertID)
	if err != nil {
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ? AND sensor_code = ? AND active = ? AND (last_sent IS NULL OR last_sent < ?)", id, sensorCode, true, cutoff.UTC()).
		UpdateColumns(map[string]any{"last_sent": now.UTC(), "updated_at": now.UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// InsertMessages bulk inserts in-app messages and returns them with IDs set.
func (r *Repo) InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	rows := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		clientID, err := uuid.Parse(m.ClientID)
		if err != nil {
			return nil, fmt.Errorf("message client id %q: %w", m.ClientID, err)
		}
		now := time.Now().UTC()
		row := Message{
			ID:        uuid.New(),
			ClientID:  clientID,
			UserID:    m.UserID,
			Subject:   m.Subject,
			Content:   m.Content,
			Priority:  m.Priority,
			Viewed:    m.Viewed,
			CreatedAt: m.Created,
			UpdatedAt: m.Updated,
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = row.CreatedAt
		}
		rows = append(rows, row)
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&rows, 100).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toModel())
	}
	return out, nil
}

func (r *Repo) MessagesForUser(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []Message
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toModel())
	}
	return out, nil
}

// PruneViewedMessages deletes viewed messages last touched before olderThan.
func (r *Repo) PruneViewedMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("viewed = ? AND updated_at < ?", true, olderThan.UTC()).Delete(&Message{})
	return res.RowsAffected, res.Error
}
