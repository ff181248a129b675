package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"slackcourier/internal/fault"
	"slackcourier/internal/queue"
	"slackcourier/internal/registry"
	"slackcourier/internal/storage"
)

// Config controls the HTTP front door.
type Config struct {
	Addr         string // default ":8080"
	AuthSecret   string // empty disables bearer auth
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// Server is the job management API.
type Server struct {
	cfg     Config
	reg     *registry.Registry
	store   storage.Store
	q       queue.Queue
	metrics http.Handler
	log     *slog.Logger

	srv *http.Server
}

func New(cfg Config, reg *registry.Registry, store storage.Store, q queue.Queue, metricsHandler http.Handler, log *slog.Logger) *Server {
	cfg.applyDefaults()
	return &Server{cfg: cfg, reg: reg, store: store, q: q, metrics: metricsHandler, log: log}
}

// Router builds the chi router. Exposed so tests can drive handlers without a
// listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/jobs", s.handleJobs)
		r.Post("/execute-now", s.handleExecuteNow)
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		s.log.Info("http server listening", slog.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", slog.Any("err", err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http server shutdown", slog.Any("err", err))
	}
}

// auth enforces a bearer secret. No configured secret means permissive mode:
// the middleware passes everything through.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type jobsRequest struct {
	ScheduleID string `json:"scheduleId"`
	Cron       string `json:"cron"`
	Timezone   string `json:"timezone"`
	Enabled    bool   `json:"enabled"`
}

// handleJobs registers or cancels the recurring job for a schedule. Queue
// state is reconciled before the stored status flips, so a half-applied
// request never leaves a disabled schedule still firing.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	var req jobsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	removed, err := s.reg.SetSchedule(r.Context(), req.ScheduleID, req.Cron, req.Timezone, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}

	status := storage.ScheduleDisabled
	if req.Enabled {
		status = storage.ScheduleEnabled
	}
	if err := s.store.SetScheduleStatus(r.Context(), req.ScheduleID, status); err != nil {
		s.log.Error("schedule status update failed",
			slog.String("schedule", req.ScheduleID), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "status update failed"})
		return
	}

	action := "cancelled"
	if req.Enabled {
		action = "registered"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": action, "removed": removed})
}

type executeNowRequest struct {
	ScheduleID string        `json:"scheduleId"`
	Payload    queue.Payload `json:"payload"`
}

func (s *Server) handleExecuteNow(w http.ResponseWriter, r *http.Request) {
	var req executeNowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ScheduleID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "scheduleId: required"})
		return
	}

	job := queue.Job{ScheduleID: req.ScheduleID, Payload: req.Payload}
	if err := s.q.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case fault.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case fault.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, queue.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
