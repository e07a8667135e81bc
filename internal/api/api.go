// Package api exposes the engine's status over HTTP: health, counters,
// discovered opportunities, attempt history, and a manual participation
// trigger.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweepd/sweepd/internal/config"
	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/submit"
)

// Engine is the slice of engine behaviour the API needs.
type Engine interface {
	// Status returns a snapshot of the rate counters.
	Status() rategate.State
	// EnqueueManual asks the loop to attempt the given opportunity on
	// its next tick, bypassing the selector but not the safety checks.
	EnqueueManual(id string) error
}

// Storage is the read path behind the listing endpoints.
type Storage interface {
	Candidates(ctx context.Context) ([]opportunity.Opportunity, error)
	RecentAttempts(ctx context.Context, limit int) ([]submit.Attempt, error)
}

// Server is the status HTTP API.
type Server struct {
	engine  Engine
	storage Storage
	cfg     *config.Config
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the API around a running engine.
func NewServer(engine Engine, storage Storage, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		storage: storage,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}
}

// Router assembles the chi routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/config", s.handleConfig)
	r.Get("/api/opportunities", s.handleOpportunities)
	r.Get("/api/history", s.handleHistory)
	r.Post("/api/participate", s.handleParticipate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"participations_today":  st.ParticipationsToday,
		"successes_today":       st.SuccessesToday,
		"failures_today":        st.FailuresToday,
		"last_participation_at": st.LastParticipationAt,
		"day_boundary":          st.DayBoundary.Format("2006-01-02"),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := s.storage.Candidates(r.Context())
	if err != nil {
		s.logger.Error("api: candidates query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if opps == nil {
		opps = []opportunity.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.storage.RecentAttempts(r.Context(), 100)
	if err != nil {
		s.logger.Error("api: history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if attempts == nil {
		attempts = []submit.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleParticipate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"id\": ...}")
		return
	}
	if err := s.engine.EnqueueManual(req.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": req.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
