// Package ingest turns MQTT telemetry messages into engine evaluations with a
// bounded number of evaluations in flight.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/engine"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/telemetry"
)

// DefaultMaxInFlight bounds concurrent evaluations when no limit is set.
const DefaultMaxInFlight = 64

// DefaultEvaluateTimeout bounds the read side of one evaluation.
const DefaultEvaluateTimeout = 30 * time.Second

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type Evaluator interface {
	Evaluate(ctx context.Context, r telemetry.Reading) (engine.Result, error)
}

type Ingestor struct {
	eval         Evaluator
	sem          *semaphore.Weighted
	wg           sync.WaitGroup
	allowRetains bool
	timeout      time.Duration
}

type Options struct {
	MaxInFlight     int
	AllowRetains    bool
	EvaluateTimeout time.Duration
}

func New(eval Evaluator, opts Options) *Ingestor {
	n := opts.MaxInFlight
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	timeout := opts.EvaluateTimeout
	if timeout <= 0 {
		timeout = DefaultEvaluateTimeout
	}
	return &Ingestor{
		eval:         eval,
		sem:          semaphore.NewWeighted(int64(n)),
		allowRetains: opts.AllowRetains,
		timeout:      timeout,
	}
}

// HandleMessage parses msg and schedules its evaluation. It blocks while the
// in-flight limit is reached, which pushes back on the MQTT client.
func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if msg.Retained() && !i.allowRetains {
		slog.Debug("alert ingest ignoring retained", "topic", topic)
		return
	}

	reading, err := Parse(topic, msg.Payload(), receivedAt)
	if err != nil {
		if errors.Is(err, telemetry.ErrUnknownKind) {
			slog.Debug("alert ingest ignoring kind", "topic", topic)
			return
		}
		slog.Warn("alert ingest dropped message", "topic", topic, "error", err)
		return
	}

	if err := i.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("alert ingest shutting down, message dropped", "topic", topic)
		return
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.sem.Release(1)
		i.evaluate(ctx, reading)
	}()
}

func (i *Ingestor) evaluate(ctx context.Context, r telemetry.Reading) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	res, err := i.eval.Evaluate(ctx, r)
	if err != nil {
		slog.Error("alert evaluation failed", "device_id", r.DeviceID, "kind", r.Kind, "error", err)
		return
	}
	slog.Debug("alert evaluated", "device_id", r.DeviceID, "kind", r.Kind, "outcome", res.Outcome, "rounds", len(res.Rounds))
}

// Drain waits for in-flight evaluations or until ctx is done.
func (i *Ingestor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Parse decodes one telemetry message into a reading.
func Parse(topic string, payload []byte, receivedAt time.Time) (telemetry.Reading, error) {
	key, err := telemetry.ParseRoutingKey(topic)
	if err != nil {
		return telemetry.Reading{}, err
	}
	if _, ok := telemetry.LookupKind(key.Kind); !ok {
		return telemetry.Reading{}, telemetry.ErrUnknownKind
	}
	p, err := telemetry.Decode(payload)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return telemetry.Normalize(key, p, receivedAt)
}
