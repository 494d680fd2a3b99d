package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/cache"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/config"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/engine"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/httpapi"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/ingest"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/mqtt"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/notify"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/observability"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/realtime"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/retention"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/store"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/store/mongostore"
)

const serviceName = "alert-worker"

// backend is a store the worker can run on.
type backend interface {
	engine.Store
	httpapi.MessageLister
	retention.Pruner
	Ping(ctx context.Context) error
	Close() error
}

var logLevel = new(slog.LevelVar)

func main() {
	setupLogging("info", "text")

	loader, err := config.NewLoader(config.ResolvePath(os.Args[1:]))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	cfg, err := loader.Config()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	loader.Watch(func(c *config.Config) { logLevel.Set(parseLevel(c.LogLevel)) })
	slog.Info("alert-worker config loaded", "mqtt", cfg.MQTT.BrokerURL, "store", cfg.Store.Driver, "email", cfg.Email.Transport, "port", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, promHandler, tracer, err := observability.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("observability setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("metrics registration failed", "error", err)
		os.Exit(1)
	}

	db, err := openBackend(ctx, cfg.Store)
	if err != nil {
		slog.Error("store connect failed", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := engine.Options{
		Store:           db,
		Recorder:        metrics,
		Tracer:          tracer,
		Branding:        branding(cfg),
		CooldownFloor:   cfg.Alerts.MinFrequency,
		DispatchTimeout: cfg.Alerts.DispatchTimeout,
	}
	checks := []httpapi.Check{{Name: "store", Fn: db.Ping}}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		opts.Cache = cache.NewContextCache(rdb, cfg.Redis.TTL)
		checks = append(checks, httpapi.Check{Name: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		slog.Info("device context cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	if cfg.Twilio.Enabled() {
		sms, err := notify.NewTwilioNotify(notify.TwilioConfig{
			AccountSID:       cfg.Twilio.AccountSID,
			AuthToken:        cfg.Twilio.AuthToken,
			NotifyServiceSID: cfg.Twilio.NotifyServiceSID,
			BaseURL:          cfg.Twilio.BaseURL,
		})
		if err != nil {
			slog.Error("twilio setup failed", "error", err)
			os.Exit(1)
		}
		opts.SMS = sms
	} else {
		slog.Warn("twilio not configured, sms stage will be skipped")
	}

	switch cfg.Email.Transport {
	case config.EmailMandrill:
		m, err := notify.NewMandrill(notify.MandrillConfig{APIKey: cfg.Email.MandrillAPIKey, BaseURL: cfg.Email.MandrillBaseURL})
		if err != nil {
			slog.Error("mandrill setup failed", "error", err)
			os.Exit(1)
		}
		opts.Email = m
	case config.EmailSMTP:
		s, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
		})
		if err != nil {
			slog.Error("smtp setup failed", "error", err)
			os.Exit(1)
		}
		opts.Email = s
	default:
		slog.Warn("email transport disabled, email stage will be skipped")
	}

	hub := realtime.NewHub()
	defer hub.Close()
	opts.Publisher = hub

	eng := engine.New(opts)
	ing := ingest.New(eng, ingest.Options{
		MaxInFlight:  cfg.Alerts.MaxInFlight,
		AllowRetains: cfg.Alerts.IngestRetained,
	})

	mq, err := mqtt.Connect(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    cfg.MQTT.ClientID,
		Topics:      cfg.MQTT.Topics,
		QoS:         cfg.MQTT.QoS,
		TLSInsecure: cfg.MQTT.TLSInsecure,
	}, func(m mqtt.Message) {
		ing.HandleMessage(ctx, m, time.Now().UTC())
	})
	if err != nil {
		slog.Error("mqtt connect failed", "broker", cfg.MQTT.BrokerURL, "username", cfg.MQTT.Username, "error", err)
		os.Exit(1)
	}
	checks = append(checks, httpapi.Check{Name: "mqtt", Fn: func(context.Context) error {
		if !mq.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}})

	var prune *retention.Job
	if cfg.Retention.Days > 0 {
		prune, err = retention.New(db, cfg.Retention.Days, cfg.Retention.Cron)
		if err != nil {
			slog.Error("retention setup failed", "error", err)
			os.Exit(1)
		}
		prune.Start()
		slog.Info("message retention scheduled", "days", cfg.Retention.Days, "cron", cfg.Retention.Cron)
	}

	srv := httpapi.New(httpapi.Options{
		Checks:         checks,
		Messages:       db,
		Stream:         hub,
		Metrics:        promHandler,
		Middleware:     []func(http.Handler) http.Handler{metrics.Middleware(tracer, serviceName)},
		AllowedOrigins: cfg.CORSOrigins,
	})
	httpSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("alert-worker listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		slog.Info("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mq.Close()
	if err := ing.Drain(shutdownCtx); err != nil {
		slog.Warn("in-flight evaluations abandoned", "error", err)
	}
	if prune != nil {
		prune.Stop(shutdownCtx)
	}
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	cancel()
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	if cfg.Driver == config.DriverMongo {
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	pg := cfg.Postgres
	db, err := store.OpenPostgres(pg.User, pg.Password, pg.DBName, pg.Host, pg.Port, pg.SSLMode)
	if err != nil {
		return nil, err
	}
	repo, err := store.New(db)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func branding(cfg *config.Config) engine.Branding {
	b := engine.DefaultBranding()
	if cfg.Brand.Name != "" {
		b.Default = brand(cfg.Brand, b.Default)
	}
	b.ByAssetType = map[string]engine.Brand{}
	for assetType, c := range cfg.Brands {
		b.ByAssetType[assetType] = brand(c, b.Default)
	}
	return b
}

// brand fills the unset fields of c from fallback.
func brand(c config.BrandConfig, fallback engine.Brand) engine.Brand {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return engine.Brand{
		Name:      pick(c.Name, fallback.Name),
		FromEmail: pick(c.FromEmail, fallback.FromEmail),
		FromName:  pick(c.FromName, fallback.FromName),
		ReplyTo:   pick(c.ReplyTo, fallback.ReplyTo),
		SMSPrefix: pick(c.SMSPrefix, fallback.SMSPrefix),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func setupLogging(level, format string) {
	logLevel.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
