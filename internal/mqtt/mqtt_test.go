package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakePaho struct {
	mqtt.Client

	mu         sync.Mutex
	opts       *mqtt.ClientOptions
	connectErr error
	subErr     error
	subs       []map[string]byte
	callback   mqtt.MessageHandler
	closed     bool
}

func (f *fakePaho) Connect() mqtt.Token { return doneToken{err: f.connectErr} }

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, filters)
	f.callback = cb
	return doneToken{err: f.subErr}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakePaho) IsConnected() bool { return !f.closed }

type fakeMessage struct {
	mqtt.Message
	topic string
}

func (m fakeMessage) Topic() string { return m.topic }

func withFake(t *testing.T, f *fakePaho) {
	t.Helper()
	prev := newClient
	newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		f.opts = o
		return f
	}
	t.Cleanup(func() { newClient = prev })
}

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"mqtt://broker:1883":  "tcp://broker:1883",
		"mqtts://broker:8883": "ssl://broker:8883",
		"broker:1883":         "tcp://broker:1883",
		"ws://broker/mqtt":    "ws://broker/mqtt",
		" ":                   "tcp://localhost:1883",
	}
	for in, want := range cases {
		if got := BrokerURL(in); got != want {
			t.Fatalf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnectSubscribesAndResubscribes(t *testing.T) {
	f := &fakePaho{}
	withFake(t, f)

	var got []string
	c, err := Connect(Config{BrokerURL: "mqtt://broker:1883", Username: "worker", Password: "secret", QoS: 2}, func(m Message) {
		got = append(got, m.Topic())
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if f.opts == nil {
		t.Fatalf("client options not captured")
	}
	if f.opts.ClientID != "worker_alerts" || f.opts.Username != "worker" {
		t.Fatalf("unexpected identity client=%q user=%q", f.opts.ClientID, f.opts.Username)
	}
	if !f.opts.CleanSession || f.opts.KeepAlive != 60 {
		t.Fatalf("unexpected session options clean=%v keepalive=%d", f.opts.CleanSession, f.opts.KeepAlive)
	}
	if len(f.opts.Servers) != 1 || f.opts.Servers[0].String() != "tcp://broker:1883" {
		t.Fatalf("unexpected servers %v", f.opts.Servers)
	}

	if len(f.subs) != 1 || len(f.subs[0]) != len(DefaultTopics) {
		t.Fatalf("expected one subscription of %d topics, got %v", len(DefaultTopics), f.subs)
	}
	if qos := f.subs[0]["+/gateway/v1/vibration"]; qos != 2 {
		t.Fatalf("unexpected qos %d", qos)
	}

	f.callback(f, fakeMessage{topic: "0001A/v1/pressure"})
	if len(got) != 1 || got[0] != "0001A/v1/pressure" {
		t.Fatalf("handler not invoked with message, got %v", got)
	}

	f.opts.OnConnect(f)
	if len(f.subs) != 2 {
		t.Fatalf("reconnect must restore subscriptions, got %d", len(f.subs))
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected client")
	}
}

func TestConnectFailures(t *testing.T) {
	f := &fakePaho{connectErr: errors.New("not authorized")}
	withFake(t, f)
	if _, err := Connect(Config{}, func(Message) {}); err == nil || err.Error() != "not authorized" {
		t.Fatalf("expected connect error, got %v", err)
	}

	g := &fakePaho{subErr: errors.New("subscribe refused")}
	withFake(t, g)
	if _, err := Connect(Config{Topics: []string{"a/v1/pressure"}}, func(Message) {}); err == nil {
		t.Fatalf("expected subscribe error")
	}
	if !g.closed {
		t.Fatalf("client must be disconnected after a failed subscribe")
	}
}
