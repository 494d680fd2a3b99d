package mqtt

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopics are the telemetry subscriptions of the alert worker.
var DefaultTopics = []string{
	"+/v1/pressure",
	"+/v1/temperature",
	"+/v1/battery",
	"+/v1/rssi",
	"+/gateway/v1/humidity",
	"+/gateway/v1/temperature",
	"+/gateway/v1/vibration",
}

type Config struct {
	BrokerURL      string
	Username       string
	Password       string
	ClientID       string
	Topics         []string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLSInsecure    bool
}

// Message is handed to the subscription handler.
type Message = mqtt.Message

type Client struct {
	cli     mqtt.Client
	filters map[string]byte
	handler func(Message)
	ready   atomic.Bool
}

// newClient is swapped in tests.
var newClient = mqtt.NewClient

// BrokerURL maps mqtt:// and mqtts:// onto the schemes paho dials.
func BrokerURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case u == "":
		return "tcp://localhost:1883"
	case strings.HasPrefix(u, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(u, "mqtt://")
	case strings.HasPrefix(u, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(u, "mqtts://")
	case !strings.Contains(u, "://"):
		return "tcp://" + u
	}
	return u
}

// Connect dials the broker and subscribes every topic to handler. The
// subscriptions are restored whenever paho reconnects.
func Connect(cfg Config, handler func(Message)) (*Client, error) {
	c := &Client{handler: handler, filters: map[string]byte{}}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.filters[t] = cfg.QoS
		}
	}

	broker := BrokerURL(cfg.BrokerURL)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = "worker_alerts"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if strings.HasPrefix(broker, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.TLSInsecure})
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		slog.Info("mqtt reconnecting", "broker", broker)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		slog.Info("mqtt connected", "broker", broker)
		if !c.ready.Load() {
			return
		}
		if err := c.subscribe(); err != nil {
			slog.Error("mqtt resubscribe failed", "error", err)
		}
	}

	c.cli = newClient(opts)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tok := c.cli.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.cli.Disconnect(250)
		return nil, err
	}
	c.ready.Store(true)
	return c, nil
}

func (c *Client) subscribe() error {
	tok := c.cli.SubscribeMultiple(c.filters, func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg)
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return err
	}
	slog.Info("mqtt subscribed", "topics", len(c.filters))
	return nil
}

func (c *Client) IsConnected() bool {
	return c != nil && c.cli != nil && c.cli.IsConnected()
}

func (c *Client) Close() {
	if c == nil || c.cli == nil {
		return
	}
	c.cli.Disconnect(1000)
}
