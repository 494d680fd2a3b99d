package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func setPostgresEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_USER", "alerts")
	t.Setenv("POSTGRES_DB", "alerts")
	t.Setenv("POSTGRES_HOST", "db")
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	setPostgresEnv(t)
	t.Setenv("MQTT_PASSWORD", "s3cret")
	t.Setenv("MANDRILL_API_KEY", "md-key")
	t.Setenv("ALERT_MIN_FREQUENCY", "5m")
	t.Setenv("MQTT_TOPICS", "+/v1/pressure, +/v1/rssi")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.MQTT.BrokerURL != "mqtts://mqtt.terepac.one:8883" || cfg.MQTT.Username != "worker" || cfg.MQTT.Password != "s3cret" {
		t.Fatalf("unexpected broker settings %+v", cfg.MQTT)
	}
	if cfg.MQTT.ClientID != "worker_alerts" || cfg.MQTT.QoS != 2 {
		t.Fatalf("unexpected client id %q or qos %d", cfg.MQTT.ClientID, cfg.MQTT.QoS)
	}
	if !reflect.DeepEqual(cfg.MQTT.Topics, []string{"+/v1/pressure", "+/v1/rssi"}) {
		t.Fatalf("unexpected topics %v", cfg.MQTT.Topics)
	}
	if cfg.Email.Transport != EmailMandrill {
		t.Fatalf("mandrill is implied by an api key, got %q", cfg.Email.Transport)
	}
	if cfg.Alerts.MinFrequency != 5*time.Minute || cfg.Alerts.MaxInFlight != 64 {
		t.Fatalf("unexpected alert settings %+v", cfg.Alerts)
	}
	if cfg.Retention.Days != 90 || cfg.Retention.Cron != "0 30 3 * * *" {
		t.Fatalf("unexpected retention %+v", cfg.Retention)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.Postgres.Port != "5432" {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
}

func TestLoadFileWithBrands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	yaml := `
store_driver: mongo
mongo_uri: mongodb://mongo:27017
email_transport: none
mqtt_topics:
  - "+/v1/pressure"
brands:
  default:
    name: ONE Platform
    from_email: alerts@terepac.one
  Hydrant:
    name: HydrantWatch
    sms_prefix: HW
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MONGO_DB", "fleet")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverMongo {
		t.Fatalf("unexpected driver %q", cfg.Store.Driver)
	}
	if cfg.Store.MongoDB != "fleet" {
		t.Fatalf("env must override file, got %q", cfg.Store.MongoDB)
	}
	if !reflect.DeepEqual(cfg.MQTT.Topics, []string{"+/v1/pressure"}) {
		t.Fatalf("unexpected topics %v", cfg.MQTT.Topics)
	}
	if cfg.Brand.Name != "ONE Platform" {
		t.Fatalf("unexpected default brand %+v", cfg.Brand)
	}
	h, ok := cfg.Brands["hydrant"]
	if !ok || h.SMSPrefix != "HW" {
		t.Fatalf("expected lowercased hydrant brand, got %+v", cfg.Brands)
	}
}

func TestValidateReportsEverySetting(t *testing.T) {
	t.Setenv("EMAIL_TRANSPORT", "smtp")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("MAX_IN_FLIGHT", "0")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"POSTGRES_USER", "POSTGRES_DB", "POSTGRES_HOST", "SMTP_HOST", "TWILIO_NOTIFY_SERVICE_SID", "MAX_IN_FLIGHT"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("validation error missing %s:\n%s", want, msg)
		}
	}
}

func TestValidateUnknownEnums(t *testing.T) {
	setPostgresEnv(t)
	t.Setenv("EMAIL_TRANSPORT", "pigeon")
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{`unknown EMAIL_TRANSPORT "pigeon"`, `unknown STORE_DRIVER "mysql"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("validation error missing %s:\n%v", want, err)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	if got := ResolvePath(nil); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	if got := ResolvePath([]string{"/etc/alerts.yaml"}); got != "/etc/alerts.yaml" {
		t.Fatalf("expected first argument, got %q", got)
	}
	t.Setenv("CONFIG_FILE", "/run/alerts.yaml")
	if got := ResolvePath([]string{"/etc/alerts.yaml"}); got != "/run/alerts.yaml" {
		t.Fatalf("CONFIG_FILE must win, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
