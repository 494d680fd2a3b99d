package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/engine"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/telemetry"
)

type fakeMsg struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMsg) Topic() string   { return m.topic }
func (m fakeMsg) Payload() []byte { return m.payload }
func (m fakeMsg) Retained() bool  { return m.retained }

type fakeEvaluator struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	block    chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeEvaluator) Evaluate(_ context.Context, r telemetry.Reading) (engine.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.readings = append(f.readings, r)
	f.mu.Unlock()
	return engine.Result{Outcome: engine.OutcomeNoAlerts}, nil
}

func (f *fakeEvaluator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

func payload(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleMessageEvaluatesReading(t *testing.T) {
	ev := &fakeEvaluator{}
	ing := New(ev, Options{})
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ing.HandleMessage(context.Background(), fakeMsg{topic: "0001A/v1/pressure", payload: payload(t, map[string]any{"min": 2.5, "max": 7.0})}, at)
	if err := ing.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if ev.count() != 1 {
		t.Fatalf("expected one evaluation, got %d", ev.count())
	}
	r := ev.readings[0]
	if r.DeviceID != "0001A" || r.SensorCode != "PI" || r.Min != 2.5 || r.Max != 7 {
		t.Fatalf("unexpected reading %+v", r)
	}
	if !r.Timestamp.Equal(at) {
		t.Fatalf("missing date should fall back to receipt time, got %v", r.Timestamp)
	}
}

func TestHandleMessageDropsWithoutEvaluating(t *testing.T) {
	ev := &fakeEvaluator{}
	ing := New(ev, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	ing.HandleMessage(ctx, fakeMsg{topic: "0001A/v1/pressure", payload: payload(t, map[string]any{"value": 3.0}), retained: true}, now)
	ing.HandleMessage(ctx, fakeMsg{topic: "0001A/v1/flow", payload: payload(t, map[string]any{"value": 3.0})}, now)
	ing.HandleMessage(ctx, fakeMsg{topic: "0001A/v1/temperature", payload: []byte{0xff, 0x00}}, now)
	ing.HandleMessage(ctx, fakeMsg{topic: "garbage", payload: payload(t, map[string]any{"value": 3.0})}, now)
	_ = ing.Drain(ctx)

	if ev.count() != 0 {
		t.Fatalf("expected no evaluations, got %d", ev.count())
	}
}

func TestHandleMessageAllowsRetainedWhenEnabled(t *testing.T) {
	ev := &fakeEvaluator{}
	ing := New(ev, Options{AllowRetains: true})
	ing.HandleMessage(context.Background(), fakeMsg{topic: "GW9/gateway/v1/humidity", payload: payload(t, map[string]any{"value": 41.0}), retained: true}, time.Now())
	_ = ing.Drain(context.Background())
	if ev.count() != 1 || ev.readings[0].SensorCode != "CI" {
		t.Fatalf("expected one humidity evaluation, got %+v", ev.readings)
	}
}

func TestHandleMessageBoundsInFlight(t *testing.T) {
	ev := &fakeEvaluator{block: make(chan struct{})}
	ing := New(ev, Options{MaxInFlight: 2})
	body := payload(t, map[string]any{"value": 20.0})

	handled := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			ing.HandleMessage(context.Background(), fakeMsg{topic: "0001A/v1/temperature", payload: body}, time.Now())
		}
		close(handled)
	}()

	deadline := time.After(2 * time.Second)
	for ev.inFlight.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("evaluations never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case <-handled:
		t.Fatalf("handler must block while the limit is reached")
	case <-time.After(50 * time.Millisecond):
	}

	close(ev.block)
	<-handled
	if err := ing.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if ev.count() != 5 {
		t.Fatalf("expected 5 evaluations, got %d", ev.count())
	}
	if ev.peak.Load() > 2 {
		t.Fatalf("in-flight limit exceeded: %d", ev.peak.Load())
	}
}

func TestDrainHonoursDeadline(t *testing.T) {
	ev := &fakeEvaluator{block: make(chan struct{})}
	defer close(ev.block)
	ing := New(ev, Options{})
	ing.HandleMessage(context.Background(), fakeMsg{topic: "0001A/v1/battery", payload: payload(t, map[string]any{"value": 3.1})}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ing.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseUnknownKind(t *testing.T) {
	if _, err := Parse("0001A/v9/flow", nil, time.Now()); !errors.Is(err, telemetry.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
