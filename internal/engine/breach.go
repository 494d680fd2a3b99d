package engine

import "github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"

type Direction string

const (
	DirectionMinimum Direction = "minimum"
	DirectionMaximum Direction = "maximum"
)

type Breach struct {
	Direction Direction
	Value     float64
	Limit     float64
}

// EvaluateBreach compares a reading's range with limits. Comparisons are
// strict and a low breach wins over a high one.
func EvaluateBreach(lo, hi float64, limits model.Limits) (Breach, bool) {
	if lo < limits.Low {
		return Breach{Direction: DirectionMinimum, Value: lo, Limit: limits.Low}, true
	}
	if hi > limits.High {
		return Breach{Direction: DirectionMaximum, Value: hi, Limit: limits.High}, true
	}
	return Breach{}, false
}
