// Package telemetry turns raw MQTT telemetry into canonical sensor readings.
package telemetry

import (
	"fmt"
	"time"
)

// Sample is one of PointSample, RangeSample or AggregateSample.
type Sample interface {
	Bounds() (min, max float64)
	isSample()
}

type PointSample struct{ Value float64 }

type RangeSample struct{ Min, Max float64 }

// AggregateSample carries a statistical summary of a sampling window.
type AggregateSample struct{ RMS float64 }

func (s PointSample) Bounds() (float64, float64)     { return s.Value, s.Value }
func (s RangeSample) Bounds() (float64, float64)     { return s.Min, s.Max }
func (s AggregateSample) Bounds() (float64, float64) { return s.RMS, s.RMS }

func (PointSample) isSample()     {}
func (RangeSample) isSample()     {}
func (AggregateSample) isSample() {}

type Reading struct {
	DeviceID   string
	RoutingKey string
	Kind       string
	SensorType int
	SensorCode string
	Timestamp  time.Time
	Min        float64
	Max        float64
	Sample     Sample
}

// Normalize resolves the payload into the sample variant for the key's kind.
// A missing date is replaced with receivedAt.
func Normalize(key RoutingKey, p Payload, receivedAt time.Time) (Reading, error) {
	info, ok := LookupKind(key.Kind)
	if !ok {
		return Reading{}, fmt.Errorf("%w: %q", ErrUnknownKind, key.Kind)
	}

	sample, err := sampleFor(info, p)
	if err != nil {
		return Reading{}, err
	}
	ts := p.Date
	if ts.IsZero() {
		ts = receivedAt.UTC()
	}
	lo, hi := sample.Bounds()
	return Reading{
		DeviceID:   key.DeviceID,
		RoutingKey: key.String(),
		Kind:       info.Kind,
		SensorType: info.SensorType,
		SensorCode: info.SensorCode,
		Timestamp:  ts,
		Min:        lo,
		Max:        hi,
		Sample:     sample,
	}, nil
}

func sampleFor(info KindInfo, p Payload) (Sample, error) {
	switch info.Shape {
	case ShapeRange:
		lo, hi := p.Min, p.Max
		if lo == nil {
			lo = p.Value
		}
		if hi == nil {
			hi = p.Value
		}
		if lo == nil || hi == nil {
			return nil, fmt.Errorf("%w: %s reading has no min/max or value", ErrDecode, info.Kind)
		}
		if *lo > *hi {
			return RangeSample{Min: *hi, Max: *lo}, nil
		}
		return RangeSample{Min: *lo, Max: *hi}, nil
	case ShapeAggregate:
		v := p.RMS
		if v == nil {
			v = p.Value
		}
		if v == nil {
			return nil, fmt.Errorf("%w: %s reading has no rms or value", ErrDecode, info.Kind)
		}
		return AggregateSample{RMS: *v}, nil
	default:
		if p.Value == nil {
			return nil, fmt.Errorf("%w: %s reading has no value", ErrDecode, info.Kind)
		}
		return PointSample{Value: *p.Value}, nil
	}
}
