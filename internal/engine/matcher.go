package engine

import (
	"context"
	"errors"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// MatchedAlert is an active alert together with its owning client's alert
// groups and tag code.
type MatchedAlert struct {
	Alert  model.Alert
	Client model.Client
}

type Matcher struct {
	alerts AlertSource
}

func NewMatcher(alerts AlertSource) *Matcher { return &Matcher{alerts: alerts} }

// Match returns the active alerts for asset and sensorCode. The client is only
// loaded when at least one alert matched.
func (m *Matcher) Match(ctx context.Context, asset model.Asset, sensorCode string) ([]MatchedAlert, error) {
	alerts, err := m.alerts.ActiveAlerts(ctx, asset.ID, sensorCode)
	if err != nil {
		return nil, &StoreError{Op: "match alerts", Err: err}
	}
	active := alerts[:0]
	for _, a := range alerts {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	client, err := m.alerts.ClientProfile(ctx, asset.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "load client", Err: err}
	}

	out := make([]MatchedAlert, 0, len(active))
	for _, a := range active {
		out = append(out, MatchedAlert{Alert: a, Client: client})
	}
	return out, nil
}
