package engine

import (
	"context"
	"time"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// neverFiredSlack backdates the baseline of an alert that has never fired so
// it is eligible straight away.
const neverFiredSlack = 5 * time.Minute

// Gate decides whether an alert's cooldown window has elapsed. Eligible is a
// cheap pre-check on the copy read from the store; Claim is authoritative.
type Gate struct {
	claimer WindowClaimer
	floor   time.Duration
}

func NewGate(claimer WindowClaimer, floor time.Duration) *Gate {
	if floor < 0 {
		floor = 0
	}
	return &Gate{claimer: claimer, floor: floor}
}

func (g *Gate) window(a model.Alert) time.Duration { return a.Frequency(g.floor) }

func (g *Gate) baseline(a model.Alert, now time.Time) time.Time {
	if a.LastSent == nil {
		return now.Add(-(g.window(a) + neverFiredSlack))
	}
	return *a.LastSent
}

// TimeoutAt is the instant after which the alert may notify again.
func (g *Gate) TimeoutAt(a model.Alert, now time.Time) time.Time {
	return g.baseline(a, now).Add(g.window(a))
}

func (g *Gate) Eligible(a model.Alert, now time.Time) bool {
	return now.After(g.TimeoutAt(a, now))
}

// Claim commits now as the alert's last notification if no other evaluation
// committed one inside the window. Only a true result may notify.
func (g *Gate) Claim(ctx context.Context, a model.Alert, now time.Time) (bool, error) {
	cutoff := now.Add(-g.window(a))
	return g.claimer.ClaimAlertWindow(ctx, a.ID, a.SensorCode, cutoff, now)
}
