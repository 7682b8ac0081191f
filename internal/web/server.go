// Package web serves the local control API: pipeline state, a live state
// stream, the event log and the lifecycle commands.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasnoah/cashout/internal/db"
	"github.com/lucasnoah/cashout/internal/orchestrator"
	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Controller is the pipeline surface the API drives.
type Controller interface {
	Snapshot() pipeline.PipelineState
	Subscribe(fn func(pipeline.PipelineState)) func()
	StartCashout(ctx context.Context, req orchestrator.StartRequest) (string, error)
	Cancel(ctx context.Context) error
	RetryFromFailure(ctx context.Context) (string, error)
	Reset(ctx context.Context) error
	MarkComplete(ctx context.Context) error
}

// History reads the event log. May be nil when the log is disabled.
type History interface {
	GetPipelineHistory(pipelineID string) ([]db.PipelineEvent, error)
	RecentEvents(limit int) ([]db.PipelineEvent, error)
}

// Defaults fill start requests that omit wallet fields.
type Defaults struct {
	WalletAddress string
	SubOrgID      string
	UserID        string
	FiatCurrency  string
}

// Server is the local HTTP API.
type Server struct {
	ctrl     Controller
	history  History
	defaults Defaults
	logger   *slog.Logger

	// heartbeat is the SSE keep-alive interval.
	heartbeat time.Duration
}

// NewServer creates a Server.
func NewServer(ctrl Controller, history History, defaults Defaults, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:      ctrl,
		history:   history,
		defaults:  defaults,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/pipeline", func(api chi.Router) {
		api.Get("/", s.handleState)
		api.Post("/", s.handleStart)
		api.Get("/stream", s.handleStream)
		api.Get("/history", s.handleHistory)
		api.Post("/cancel", s.handleCancel)
		api.Post("/retry", s.handleRetry)
		api.Post("/reset", s.handleReset)
		api.Post("/complete", s.handleComplete)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.StartRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	if req.WalletAddress == "" {
		req.WalletAddress = s.defaults.WalletAddress
	}
	if req.SubOrgID == "" {
		req.SubOrgID = s.defaults.SubOrgID
	}
	if req.UserID == "" {
		req.UserID = s.defaults.UserID
	}
	if req.FiatCurrency == "" {
		req.FiatCurrency = s.defaults.FiatCurrency
	}

	id, err := s.ctrl.StartCashout(r.Context(), req)
	if err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pipeline_id": id})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Cancel(r.Context()); err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := s.ctrl.RetryFromFailure(r.Context())
	if err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pipeline_id": id})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reset(r.Context()); err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.MarkComplete(r.Context()); err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(s.ctrl.Snapshot()))
}

// handleHistory returns the event log for ?pipeline_id=, or the most recent
// events across all attempts (?limit=, default 50).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, r, http.StatusNotFound, "EVENT_LOG_DISABLED", "event log is disabled")
		return
	}

	var (
		events []db.PipelineEvent
		err    error
	)
	if id := r.URL.Query().Get("pipeline_id"); id != "" {
		events, err = s.history.GetPipelineHistory(id)
	} else {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil || n <= 0 || n > 1000 {
				writeError(w, r, http.StatusBadRequest, "BAD_LIMIT", fmt.Sprintf("invalid limit %q", v))
				return
			}
			limit = n
		}
		events, err = s.history.RecentEvents(limit)
	}
	if err != nil {
		s.logger.Error("read event log", "error", err)
		writeError(w, r, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if events == nil {
		events = []db.PipelineEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// writeControlError maps controller errors onto HTTP statuses.
func (s *Server) writeControlError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, orchestrator.ErrAttemptActive):
		writeError(w, r, http.StatusConflict, "ATTEMPT_ACTIVE", err.Error())
	case errors.Is(err, orchestrator.ErrCannotCancel):
		writeError(w, r, http.StatusConflict, "CANNOT_CANCEL", err.Error())
	case errors.Is(err, orchestrator.ErrCannotRetry):
		writeError(w, r, http.StatusConflict, "CANNOT_RETRY", err.Error())
	case errors.Is(err, orchestrator.ErrNotAwaitingFiat):
		writeError(w, r, http.StatusConflict, "NOT_AWAITING_FIAT", err.Error())
	default:
		s.logger.Error("pipeline command failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
