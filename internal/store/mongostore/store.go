// Package mongostore reads and writes the platform's original document
// collections (devices, assets, clients, alerts, messages).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/store"
)

const (
	colDevices  = "devices"
	colAssets   = "assets"
	colClients  = "clients"
	colAlerts   = "alerts"
	colMessages = "messages"
)

type Store struct {
	db *mongo.Database
}

func New(db *mongo.Database) *Store { return &Store{db: db} }

func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("worker_alerts"))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return New(client.Database(dbName)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

type deviceDoc struct {
	ID           primitive.ObjectID  `bson:"_id"`
	SerialNumber string              `bson:"serialNumber"`
	Asset        *primitive.ObjectID `bson:"asset,omitempty"`
}

type assetDoc struct {
	ID     primitive.ObjectID `bson:"_id"`
	Client primitive.ObjectID `bson:"client"`
	Name   string             `bson:"name"`
	Type   string             `bson:"type"`
}

type clientDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Name        string             `bson:"name"`
	TagCode     string             `bson:"tagCode"`
	AlertGroups []struct {
		Code     string `bson:"code"`
		Contacts []struct {
			Name string `bson:"name"`
			SMS  struct {
				Send   bool   `bson:"send"`
				Number string `bson:"number"`
			} `bson:"sms"`
			Email struct {
				Send    bool   `bson:"send"`
				Address string `bson:"address"`
			} `bson:"email"`
			User struct {
				Send bool               `bson:"send"`
				ID   primitive.ObjectID `bson:"id"`
			} `bson:"user"`
		} `bson:"contacts"`
	} `bson:"alertGroups"`
}

type alertDoc struct {
	ID         primitive.ObjectID   `bson:"_id"`
	Assets     []primitive.ObjectID `bson:"assets"`
	SensorCode string               `bson:"sensorCode"`
	Limits     struct {
		Low  float64 `bson:"low"`
		High float64 `bson:"high"`
	} `bson:"limits"`
	AlertGroupCodes  []string   `bson:"alertGroupCodes"`
	FrequencyMinutes int        `bson:"frequencyMinutes"`
	Active           bool       `bson:"active"`
	LastSent         *time.Time `bson:"lastSent,omitempty"`
	Updated          time.Time  `bson:"updated"`
}

type messageDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	Created  time.Time          `bson:"created"`
	Updated  time.Time          `bson:"updated"`
	Subject  string             `bson:"subject"`
	Content  string             `bson:"content"`
	Priority int                `bson:"priority"`
	Viewed   bool               `bson:"viewed"`
	Client   primitive.ObjectID `bson:"client"`
	User     primitive.ObjectID `bson:"user"`
}

func (s *Store) DeviceByRoutingKey(ctx context.Context, routingKey string) (model.Device, error) {
	var d deviceDoc
	err := s.db.Collection(colDevices).FindOne(ctx, bson.M{"serialNumber": routingKey}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Device{}, store.ErrNotFound
	}
	if err != nil {
		return model.Device{}, err
	}
	out := model.Device{ID: d.ID.Hex(), RoutingKey: d.SerialNumber}
	if d.Asset == nil || d.Asset.IsZero() {
		return out, nil
	}

	var a assetDoc
	err = s.db.Collection(colAssets).FindOne(ctx, bson.M{"_id": *d.Asset}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Dangling reference: treat as unassigned.
		return out, nil
	}
	if err != nil {
		return model.Device{}, err
	}
	out.AssetID = a.ID.Hex()
	out.Asset = &model.Asset{ID: a.ID.Hex(), ClientID: a.Client.Hex(), Name: a.Name, Type: a.Type}
	return out, nil
}

func (s *Store) ActiveAlerts(ctx context.Context, assetID, sensorCode string) ([]model.Alert, error) {
	oid, err := primitive.ObjectIDFromHex(assetID)
	if err != nil {
		return nil, nil
	}
	cur, err := s.db.Collection(colAlerts).Find(ctx, bson.M{"assets": oid, "sensorCode": sensorCode, "active": true})
	if err != nil {
		return nil, err
	}
	var docs []alertDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(docs))
	for _, d := range docs {
		a := model.Alert{
			ID:               d.ID.Hex(),
			SensorCode:       d.SensorCode,
			Limits:           model.Limits{Low: d.Limits.Low, High: d.Limits.High},
			AlertGroupCodes:  d.AlertGroupCodes,
			FrequencyMinutes: d.FrequencyMinutes,
			Active:           d.Active,
			Updated:          d.Updated,
		}
		if d.LastSent != nil {
			t := d.LastSent.UTC()
			a.LastSent = &t
		}
		for _, id := range d.Assets {
			a.AssetIDs = append(a.AssetIDs, id.Hex())
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) ClientProfile(ctx context.Context, clientID string) (model.Client, error) {
	oid, err := primitive.ObjectIDFromHex(clientID)
	if err != nil {
		return model.Client{}, store.ErrNotFound
	}
	var c clientDoc
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "tagCode": 1, "alertGroups": 1})
	err = s.db.Collection(colClients).FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Client{}, store.ErrNotFound
	}
	if err != nil {
		return model.Client{}, err
	}
	out := model.Client{ID: c.ID.Hex(), Name: c.Name, TagCode: c.TagCode}
	for _, g := range c.AlertGroups {
		mg := model.AlertGroup{Code: g.Code}
		for _, ct := range g.Contacts {
			mc := model.Contact{
				Name:  ct.Name,
				SMS:   model.SMSChannel{Send: ct.SMS.Send, Number: ct.SMS.Number},
				Email: model.EmailChannel{Send: ct.Email.Send, Address: ct.Email.Address},
				User:  model.UserChannel{Send: ct.User.Send},
			}
			if !ct.User.ID.IsZero() {
				mc.User.ID = ct.User.ID.Hex()
			}
			mg.Contacts = append(mg.Contacts, mc)
		}
		out.AlertGroups = append(out.AlertGroups, mg)
	}
	return out, nil
}

// ClaimAlertWindow is a single conditional UpdateOne; it wins only if the
// document still matched the stale lastSent filter when the server applied it.
func (s *Store) ClaimAlertWindow(ctx context.Context, alertID, sensorCode string, cutoff, now time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(alertID)
	if err != nil {
		return false, nil
	}
	filter := bson.M{
		"_id":        oid,
		"sensorCode": sensorCode,
		"active":     true,
		"$or": bson.A{
			bson.M{"lastSent": nil},
			bson.M{"lastSent": bson.M{"$lt": cutoff.UTC()}},
		},
	}
	update := bson.M{"$set": bson.M{"lastSent": now.UTC(), "updated": now.UTC()}}
	res, err := s.db.Collection(colAlerts).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	docs := make([]any, 0, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		clientID, err := primitive.ObjectIDFromHex(m.ClientID)
		if err != nil {
			return nil, fmt.Errorf("message client id %q: %w", m.ClientID, err)
		}
		userID, err := primitive.ObjectIDFromHex(m.UserID)
		if err != nil {
			return nil, fmt.Errorf("message user id %q: %w", m.UserID, err)
		}
		if m.Created.IsZero() {
			m.Created = time.Now().UTC()
		}
		if m.Updated.IsZero() {
			m.Updated = m.Created
		}
		d := messageDoc{
			ID:       primitive.NewObjectID(),
			Created:  m.Created,
			Updated:  m.Updated,
			Subject:  m.Subject,
			Content:  m.Content,
			Priority: m.Priority,
			Viewed:   m.Viewed,
			Client:   clientID,
			User:     userID,
		}
		m.ID = d.ID.Hex()
		docs = append(docs, d)
		out = append(out, m)
	}
	if _, err := s.db.Collection(colMessages).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MessagesForUser(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "created", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.db.Collection(colMessages).Find(ctx, bson.M{"user": oid}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.Message{
			ID:       d.ID.Hex(),
			ClientID: d.Client.Hex(),
			UserID:   d.User.Hex(),
			Subject:  d.Subject,
			Content:  d.Content,
			Priority: d.Priority,
			Viewed:   d.Viewed,
			Created:  d.Created,
			Updated:  d.Updated,
		})
	}
	return out, nil
}

func (s *Store) PruneViewedMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.Collection(colMessages).DeleteMany(ctx, bson.M{"viewed": true, "updated": bson.M{"$lt": olderThan.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
