package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// Check is one readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type MessageLister interface {
	MessagesForUser(ctx context.Context, userID string, limit int) ([]model.Message, error)
}

type Options struct {
	Checks     []Check
	Messages   MessageLister
	Stream     http.Handler
	Metrics    http.Handler
	Middleware []func(http.Handler) http.Handler

	// AllowedOrigins enables CORS for browser clients of the message API.
	AllowedOrigins []string
}

type Server struct {
	checks   []Check
	messages MessageLister
	stream   http.Handler
	metrics  http.Handler
	mw       []func(http.Handler) http.Handler
	origins  []string
}

func New(opts Options) *Server {
	return &Server{
		checks:   opts.Checks,
		messages: opts.Messages,
		stream:   opts.Stream,
		metrics:  opts.Metrics,
		mw:       opts.Middleware,
		origins:  opts.AllowedOrigins,
	}
}

type messagesResponse struct {
	UserID   string          `json:"user_id"`
	Messages []model.Message `json:"messages"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	for _, mw := range s.mw {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.stream != nil {
		r.Method(http.MethodGet, "/ws/messages", s.stream)
	}
	if s.messages != nil {
		r.Get("/api/messages", s.handleListMessages)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			ready = false
			status[c.Name] = err.Error()
			slog.Warn("readiness check failed", "check", c.Name, "error", err)
			continue
		}
		status[c.Name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ok": ready, "checks": status})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit := 100
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.messages.MessagesForUser(r.Context(), userID, limit)
	if err != nil {
		slog.Error("message query failed", "user_id", userID, "error", err)
		http.Error(w, "could not query messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{UserID: userID, Messages: msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
