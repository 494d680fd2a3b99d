// Package engine evaluates sensor readings against alert thresholds and drives
// at most one notification round per alert per cooldown window.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/telemetry"
)

type Outcome string

const (
	OutcomeNotFound   Outcome = "not_found"
	OutcomeUnassigned Outcome = "unassigned"
	OutcomeNoAlerts   Outcome = "no_alerts"
	OutcomeNoBreach   Outcome = "no_breach"
	OutcomeDebounced  Outcome = "debounced"
	OutcomeNotified   Outcome = "notified"
	OutcomeError      Outcome = "error"
)

type Result struct {
	Outcome Outcome
	Rounds  []RoundReport
	// Skipped counts matched alerts that did not notify.
	Skipped int
}

type Options struct {
	Store     Store
	Cache     DeviceCache
	SMS       SMSSender
	Email     EmailSender
	Publisher MessagePublisher
	Recorder  Recorder
	Tracer    trace.Tracer
	Branding  Branding
	// CooldownFloor is the shortest window any alert may use.
	CooldownFloor time.Duration
	// DispatchTimeout bounds one round once its window has been claimed.
	DispatchTimeout time.Duration
	Now             func() time.Time
}

type Engine struct {
	resolver        *Resolver
	matcher         *Matcher
	gate            *Gate
	dispatcher      *Dispatcher
	branding        Branding
	recorder        Recorder
	tracer          trace.Tracer
	dispatchTimeout time.Duration
	now             func() time.Time
}

func New(opts Options) *Engine {
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("alert-engine")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	branding := opts.Branding
	if branding.Default.Name == "" {
		branding.Default = DefaultBranding().Default
	}
	return &Engine{
		resolver:        NewResolver(opts.Store, opts.Cache),
		matcher:         NewMatcher(opts.Store),
		gate:            NewGate(opts.Store, opts.CooldownFloor),
		dispatcher:      NewDispatcher(opts.SMS, opts.Email, opts.Store, opts.Publisher, rec),
		branding:        branding,
		recorder:        rec,
		tracer:          tracer,
		dispatchTimeout: timeout,
		now:             now,
	}
}

// Evaluate runs one reading through resolve, match, breach, debounce and
// dispatch. Terminal outcomes such as an unknown device are not errors; the
// returned error is a *StoreError when the store could not be read.
func (e *Engine) Evaluate(ctx context.Context, r telemetry.Reading) (Result, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "alerts.evaluate", trace.WithAttributes(
		attribute.String("device.id", r.DeviceID),
		attribute.String("sensor.code", r.SensorCode),
	))
	defer span.End()

	res, err := e.evaluate(ctx, r)
	if err != nil {
		res.Outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("alert.outcome", string(res.Outcome)), attribute.Int("alert.rounds", len(res.Rounds)))
	e.recorder.Reading(r.Kind, res.Outcome)
	e.recorder.Evaluation(time.Since(started))
	return res, err
}

func (e *Engine) evaluate(ctx context.Context, r telemetry.Reading) (Result, error) {
	log := slog.With("device_id", r.DeviceID, "sensor", r.SensorCode)

	dev, outcome, err := e.resolver.Resolve(ctx, r.DeviceID)
	if err != nil {
		log.Error("context resolution failed", "error", err)
		return Result{}, err
	}
	if outcome != "" {
		log.Debug("reading dropped", "outcome", outcome)
		return Result{Outcome: outcome}, nil
	}
	asset := *dev.Asset

	matched, err := e.matcher.Match(ctx, asset, r.SensorCode)
	if errors.Is(err, ErrNotFound) {
		log.Warn("asset client not found", "asset_id", asset.ID, "client_id", asset.ClientID)
		return Result{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		log.Error("alert lookup failed", "asset_id", asset.ID, "error", err)
		return Result{}, err
	}
	if len(matched) == 0 {
		return Result{Outcome: OutcomeNoAlerts}, nil
	}

	now := e.now()
	var (
		rounds    []Round
		noBreach  int
		claimErrs []error
	)
	for _, m := range matched {
		a := m.Alert
		breach, ok := EvaluateBreach(r.Min, r.Max, a.Limits)
		if !ok {
			noBreach++
			continue
		}
		if !e.gate.Eligible(a, now) {
			e.recorder.Debounce("ineligible")
			log.Debug("alert in cooldown", "alert_id", a.ID, "timeout_at", e.gate.TimeoutAt(a, now))
			continue
		}
		won, err := e.gate.Claim(ctx, a, now)
		if err != nil {
			claimErrs = append(claimErrs, &StoreError{Op: "claim window", Err: err})
			log.Error("debounce claim failed", "alert_id", a.ID, "error", err)
			continue
		}
		if !won {
			e.recorder.Debounce("lost")
			log.Debug("debounce claim lost", "alert_id", a.ID)
			continue
		}
		e.recorder.Debounce("won")

		content, err := e.branding.Render(asset, m.Client, a, r, breach)
		if err != nil {
			// Window already consumed; fall back to a bare subject.
			log.Error("render notification failed", "alert_id", a.ID, "error", err)
			content = Content{Brand: e.branding.For(asset.Type), Subject: asset.Name + " " + string(breach.Direction), SMS: asset.Name + " " + string(breach.Direction)}
		}
		rounds = append(rounds, Round{
			Alert:      m,
			Asset:      asset,
			Breach:     breach,
			Recipients: ResolveRecipients(a, m.Client).Addressed(content),
			Content:    content,
			At:         now,
		})
	}

	res := Result{Skipped: len(matched) - len(rounds)}
	if len(rounds) == 0 {
		if len(claimErrs) > 0 {
			return res, errors.Join(claimErrs...)
		}
		if noBreach == len(matched) {
			res.Outcome = OutcomeNoBreach
		} else {
			res.Outcome = OutcomeDebounced
		}
		return res, nil
	}

	res.Outcome = OutcomeNotified
	res.Rounds = e.dispatchAll(ctx, rounds)
	return res, nil
}

// dispatchAll runs the won rounds concurrently. A claimed window is spent, so
// rounds are detached from the caller's cancellation and bounded by the
// dispatch timeout instead.
func (e *Engine) dispatchAll(ctx context.Context, rounds []Round) []RoundReport {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.dispatchTimeout)
	defer cancel()

	reports := make([]RoundReport, len(rounds))
	var g errgroup.Group
	for i := range rounds {
		g.Go(func() error {
			reports[i] = e.dispatcher.Dispatch(dctx, rounds[i])
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
