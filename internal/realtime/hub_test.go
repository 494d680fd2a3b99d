package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, userID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients for %s, got %d", n, userID, h.Clients(userID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishMessagesReachesOnlyRecipient(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(h)
	defer ts.Close()

	alice := dial(t, ts, "u-alice")
	bob := dial(t, ts, "u-bob")
	waitClients(t, h, "u-alice", 1)
	waitClients(t, h, "u-bob", 1)

	h.PublishMessages([]model.Message{{ID: "m1", UserID: "u-alice", Subject: "[ACME] pressure minimum", Priority: 1}})

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := alice.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "message" || ev.Message.ID != "m1" || ev.Message.Subject != "[ACME] pressure minimum" {
		t.Fatalf("unexpected event %+v", ev)
	}

	_ = bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Fatalf("bob must not receive alice's message")
	}
}

func TestServeHTTPRequiresUser(t *testing.T) {
	h := NewHub()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dial(t, ts, "u1")
	waitClients(t, h, "u1", 1)
	h.Close()
	if h.Clients("u1") != 0 {
		t.Fatalf("expected no clients after close")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
}
