package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort    string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	MQTT      MQTTConfig
	Store     StoreConfig
	Redis     RedisConfig
	Twilio    TwilioConfig
	Email     EmailConfig
	Alerts    AlertsConfig
	Retention RetentionConfig

	OTLPEndpoint string
	Brand        BrandConfig
	Brands       map[string]BrandConfig
}

type MQTTConfig struct {
	BrokerURL   string
	Username    string
	Password    string
	ClientID    string
	Topics      []string
	QoS         byte
	TLSInsecure bool
}

type StoreConfig struct {
	Driver   string
	Postgres DBConfig
	MongoURI string
	MongoDB  string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	NotifyServiceSID string
	BaseURL          string
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" || t.AuthToken != "" || t.NotifyServiceSID != ""
}

type EmailConfig struct {
	Transport       string
	MandrillAPIKey  string
	MandrillBaseURL string
	SMTP            SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

type AlertsConfig struct {
	MinFrequency    time.Duration
	DispatchTimeout time.Duration
	MaxInFlight     int
	IngestRetained  bool
}

type RetentionConfig struct {
	Days int
	Cron string
}

type BrandConfig struct {
	Name      string `mapstructure:"name"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
	ReplyTo   string `mapstructure:"reply_to"`
	SMSPrefix string `mapstructure:"sms_prefix"`
}

const (
	EmailMandrill = "mandrill"
	EmailSMTP     = "smtp"
	EmailNone     = "none"

	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8095")
	v.SetDefault("http_cors_origins", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("mqtt", "mqtts://mqtt.terepac.one:8883")
	v.SetDefault("mqtt_username", "worker")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_client_id", "worker_alerts")
	v.SetDefault("mqtt_topics", "")
	v.SetDefault("mqtt_qos", 2)
	v.SetDefault("mqtt_tls_insecure", false)

	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("postgres_user", "")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db", "")
	v.SetDefault("postgres_host", "")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_db", "one-platform")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("context_cache_ttl", "1m")

	v.SetDefault("twilio_account_sid", "")
	v.SetDefault("twilio_auth_token", "")
	v.SetDefault("twilio_notify_service_sid", "")
	v.SetDefault("twilio_base_url", "")

	v.SetDefault("email_transport", "")
	v.SetDefault("mandrill_api_key", "")
	v.SetDefault("mandrill_base_url", "")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", "587")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")

	v.SetDefault("alert_min_frequency", "0s")
	v.SetDefault("alert_dispatch_timeout", "60s")
	v.SetDefault("max_in_flight", 64)
	v.SetDefault("ingest_retained", false)

	v.SetDefault("message_retention_days", 90)
	v.SetDefault("message_prune_cron", "0 30 3 * * *")

	v.SetDefault("otel_exporter_otlp_endpoint", "")
}

// ResolvePath returns CONFIG_FILE, falling back to the first CLI argument.
func ResolvePath(args []string) string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_FILE")); p != "" {
		return p
	}
	if len(args) > 0 {
		return strings.TrimSpace(args[0])
	}
	return ""
}

// Loader layers defaults, an optional YAML file and the environment.
type Loader struct {
	v    *viper.Viper
	path string
}

func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return &Loader{v: v, path: path}, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

func (l *Loader) Config() (*Config, error) {
	v := l.v
	cfg := &Config{
		HTTPPort:    v.GetString("http_port"),
		CORSOrigins: stringList(v, "http_cors_origins"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		MQTT: MQTTConfig{
			BrokerURL:   strings.TrimSpace(v.GetString("mqtt")),
			Username:    v.GetString("mqtt_username"),
			Password:    v.GetString("mqtt_password"),
			ClientID:    v.GetString("mqtt_client_id"),
			Topics:      stringList(v, "mqtt_topics"),
			QoS:         byte(v.GetUint("mqtt_qos")),
			TLSInsecure: v.GetBool("mqtt_tls_insecure"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
			Postgres: DBConfig{
				User:     strings.TrimSpace(v.GetString("postgres_user")),
				Password: v.GetString("postgres_password"),
				DBName:   strings.TrimSpace(v.GetString("postgres_db")),
				Host:     strings.TrimSpace(v.GetString("postgres_host")),
				Port:     strings.TrimSpace(v.GetString("postgres_port")),
				SSLMode:  v.GetString("postgres_sslmode"),
			},
			MongoURI: strings.TrimSpace(v.GetString("mongo_uri")),
			MongoDB:  strings.TrimSpace(v.GetString("mongo_db")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis_addr")),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			TTL:      v.GetDuration("context_cache_ttl"),
		},
		Twilio: TwilioConfig{
			AccountSID:       strings.TrimSpace(v.GetString("twilio_account_sid")),
			AuthToken:        v.GetString("twilio_auth_token"),
			NotifyServiceSID: strings.TrimSpace(v.GetString("twilio_notify_service_sid")),
			BaseURL:          strings.TrimSpace(v.GetString("twilio_base_url")),
		},
		Email: EmailConfig{
			Transport:       strings.ToLower(strings.TrimSpace(v.GetString("email_transport"))),
			MandrillAPIKey:  v.GetString("mandrill_api_key"),
			MandrillBaseURL: strings.TrimSpace(v.GetString("mandrill_base_url")),
			SMTP: SMTPConfig{
				Host:     strings.TrimSpace(v.GetString("smtp_host")),
				Port:     strings.TrimSpace(v.GetString("smtp_port")),
				Username: v.GetString("smtp_username"),
				Password: v.GetString("smtp_password"),
			},
		},
		Alerts: AlertsConfig{
			MinFrequency:    v.GetDuration("alert_min_frequency"),
			DispatchTimeout: v.GetDuration("alert_dispatch_timeout"),
			MaxInFlight:     v.GetInt("max_in_flight"),
			IngestRetained:  v.GetBool("ingest_retained"),
		},
		Retention: RetentionConfig{
			Days: v.GetInt("message_retention_days"),
			Cron: strings.TrimSpace(v.GetString("message_prune_cron")),
		},
		OTLPEndpoint: strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint")),
	}
	if cfg.Email.Transport == "" {
		if cfg.Email.MandrillAPIKey != "" {
			cfg.Email.Transport = EmailMandrill
		} else {
			cfg.Email.Transport = EmailNone
		}
	}

	brands := map[string]BrandConfig{}
	if err := v.UnmarshalKey("brands", &brands); err != nil {
		return nil, fmt.Errorf("failed to unmarshal brands: %w", err)
	}
	cfg.Brands = map[string]BrandConfig{}
	for k, b := range brands {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "default" {
			cfg.Brand = b
			continue
		}
		cfg.Brands[k] = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the file on change and hands the new config to fn. Invalid
// edits are logged and ignored.
func (l *Loader) Watch(fn func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Config()
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key string) { errs = append(errs, fmt.Errorf("missing required setting %s", key)) }

	if c.MQTT.BrokerURL == "" {
		missing("MQTT")
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	switch c.Store.Driver {
	case DriverPostgres:
		pg := c.Store.Postgres
		for _, kv := range [][2]string{{"POSTGRES_USER", pg.User}, {"POSTGRES_DB", pg.DBName}, {"POSTGRES_HOST", pg.Host}, {"POSTGRES_PORT", pg.Port}} {
			if kv[1] == "" {
				missing(kv[0])
			}
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			missing("MONGO_URI")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Twilio.Enabled() && (c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.NotifyServiceSID == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_NOTIFY_SERVICE_SID must be set together"))
	}

	switch c.Email.Transport {
	case EmailMandrill:
		if c.Email.MandrillAPIKey == "" {
			missing("MANDRILL_API_KEY")
		}
	case EmailSMTP:
		if c.Email.SMTP.Host == "" {
			missing("SMTP_HOST")
		}
	case EmailNone:
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_TRANSPORT %q", c.Email.Transport))
	}

	if c.Alerts.MinFrequency < 0 {
		errs = append(errs, errors.New("ALERT_MIN_FREQUENCY must not be negative"))
	}
	if c.Alerts.MaxInFlight <= 0 {
		errs = append(errs, errors.New("MAX_IN_FLIGHT must be positive"))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, errors.New("MESSAGE_RETENTION_DAYS must not be negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// stringList accepts a YAML list or a comma separated env value.
func stringList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).([]any); ok {
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			if s := strings.TrimSpace(fmt.Sprint(r)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return splitList(v.GetString(key))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
