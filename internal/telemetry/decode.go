package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var ErrDecode = errors.New("decode telemetry payload")

const (
	tagDateTime        = 0
	tagEpochTime       = 1
	tagDecimalFraction = 4
	tagRational        = 30
)

// Payload is the decoded wire form: {date, value, min?, max?, rms?}.
type Payload struct {
	Date  time.Time
	Value *float64
	Min   *float64
	Max   *float64
	RMS   *float64
}

// Decode reads the first CBOR item of payload. Trailing bytes are ignored.
func Decode(payload []byte) (Payload, error) {
	if len(payload) == 0 {
		return Payload{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	var raw map[string]any
	if err := cbor.NewDecoder(bytes.NewReader(payload)).Decode(&raw); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var p Payload
	for k, v := range raw {
		var err error
		switch strings.ToLower(k) {
		case "date":
			p.Date, err = toTime(v)
		case "value":
			p.Value, err = numberField(k, v)
		case "min":
			p.Min, err = numberField(k, v)
		case "max":
			p.Max, err = numberField(k, v)
		case "rms":
			p.RMS, err = numberField(k, v)
		}
		if err != nil {
			return Payload{}, err
		}
	}
	return p, nil
}

func numberField(name string, v any) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: field %q is not a finite number (%T)", ErrDecode, name, v)
	}
	return &f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case big.Int:
		f, _ := new(big.Float).SetInt(&n).Float64()
		return f, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case cbor.Tag:
		return tagFloat(n)
	}
	return 0, false
}

// tagFloat handles rationals [num, den] and decimal fractions [exp, mantissa].
func tagFloat(t cbor.Tag) (float64, bool) {
	parts, ok := t.Content.([]any)
	if !ok || len(parts) != 2 {
		return 0, false
	}
	a, okA := toFloat(parts[0])
	b, okB := toFloat(parts[1])
	if !okA || !okB {
		return 0, false
	}
	switch t.Number {
	case tagRational:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case tagDecimalFraction:
		return b * math.Pow10(int(a)), true
	}
	return 0, false
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: date: %v", ErrDecode, err)
		}
		return ts.UTC(), nil
	case cbor.Tag:
		if t.Number == tagDateTime || t.Number == tagEpochTime {
			return toTime(t.Content)
		}
	}
	if f, ok := toFloat(v); ok {
		return epoch(f), nil
	}
	return time.Time{}, fmt.Errorf("%w: date has unsupported type %T", ErrDecode, v)
}

// epoch accepts seconds or milliseconds since the Unix epoch.
func epoch(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
