// Package daemon serves the grading service over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/stagegraph"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// maxBodyBytes caps request bodies; R submissions are the largest payload
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog lists and looks up authored exercises
type Catalog interface {
	List() []*domain.Exercise
	Get(ctx context.Context, id int64) (*domain.Exercise, error)
}

// CheckObserver counts check results written over HTTP
type CheckObserver interface {
	ObserveCheckResult(passed bool)
}

// Server represents the grading daemon HTTP server
type Server struct {
	server *http.Server
	router *http.ServeMux

	service   attempt.AttemptService
	exercises Catalog
	gatherer  prometheus.Gatherer
	checks    CheckObserver
	version   string
	started   time.Time
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Addr      string
	Version   string
	Service   attempt.AttemptService
	Exercises Catalog
	Gatherer  prometheus.Gatherer // Optional: serves /metrics
	Checks    CheckObserver       // Optional
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		service:   cfg.Service,
		exercises: cfg.Exercises,
		gatherer:  cfg.Gatherer,
		checks:    cfg.Checks,
		version:   cfg.Version,
		started:   time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// grading waits on the evaluator and synchronous checkers
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return instrument(s.router)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Exercises
	s.router.HandleFunc("GET /v1/exercises", s.handleListExercises)
	s.router.HandleFunc("GET /v1/exercises/{id}", s.handleGetExercise)

	// Attempts
	s.router.HandleFunc("POST /v1/attempts", s.handleStartAttempt)
	s.router.HandleFunc("GET /v1/attempts/{id}", s.handleGetAttempt)
	s.router.HandleFunc("POST /v1/attempts/{id}/submissions", s.handleSubmit)
	s.router.HandleFunc("GET /v1/attempts/{id}/submissions/{sid}", s.handleGetSubmission)
	s.router.HandleFunc("PUT /v1/attempts/{id}/submissions/{sid}/manual", s.handleManualResult)
	s.router.HandleFunc("POST /v1/attempts/{id}/advance", s.handleAdvance)

	// Checker write-back
	s.router.HandleFunc("POST /v1/checks", s.handleCheckResult)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting stagegrade daemon", "addr", s.server.Addr, "version", s.version)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"uptime_s":  int64(time.Since(s.started).Seconds()),
		"exercises": len(s.exercises.List()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	list := s.exercises.List()
	out := make([]exerciseSummary, 0, len(list))
	for _, ex := range list {
		out = append(out, summarize(ex))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"exercises": out})
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ex, err := s.exercises.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, describe(ex))
}

type startAttemptRequest struct {
	ExerciseID int64 `json:"exercise_id" validate:"required,gt=0"`
}

func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.service.StartAttempt(r.Context(), req.ExerciseID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, a.Overview())
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attempt(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, a.Overview())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attempt(w, r)
	if !ok {
		return
	}
	var ans attempt.Answer
	if !s.decode(w, r, &ans) {
		return
	}

	sub, res, err := s.service.Submit(r.Context(), a, ans)
	switch {
	case err == nil:
	case errors.Is(err, attempt.ErrDispatch):
		// graded; the checks stay pending until a checker picks them up
		slog.Warn("check dispatch failed",
			"request_id", RequestID(r.Context()),
			"submission_id", sub.ID,
			"error", err)
	case sub != nil && errors.Is(err, evaluator.ErrUnavailable):
		// reported below through the internal error flag
	default:
		s.serviceError(w, err)
		return
	}
	status, _ := a.SubmissionStatus(sub.ID)
	if status.InternalError {
		s.jsonResponse(w, http.StatusServiceUnavailable, submitResponse{Submission: status, Attempt: a.Snapshot()})
		return
	}
	s.jsonResponse(w, http.StatusOK, submitResponse{
		Submission: status,
		Correct:    res.Correct,
		Attempt:    a.Snapshot(),
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attempt(w, r)
	if !ok {
		return
	}
	sid, ok := s.pathID(w, r, "sid")
	if !ok {
		return
	}
	status, found := a.SubmissionStatus(sid)
	if !found {
		s.serviceError(w, domain.ErrSubmissionNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

type manualRequest struct {
	// nil clears the override
	Points *int `json:"points" validate:"omitempty,min=0,max=100"`
}

func (s *Server) handleManualResult(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attempt(w, r)
	if !ok {
		return
	}
	sid, ok := s.pathID(w, r, "sid")
	if !ok {
		return
	}
	var req manualRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.service.SetManualResult(r.Context(), a, sid, req.Points)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	status, _ := a.SubmissionStatus(sub.ID)
	s.jsonResponse(w, http.StatusOK, status)
}

type advanceRequest struct {
	Exit string `json:"exit" validate:"omitempty,oneof=normal skip"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attempt(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	exit := stagegraph.ExitNormal
	if req.Exit != "" {
		exit = stagegraph.Exit(req.Exit)
	}

	current := a.Snapshot().Current
	sub, _ := a.Latest(current)
	out, err := s.service.Advance(r.Context(), a, current, sub, exit)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, advanceResponse{
		From:    current,
		To:      out.Target,
		Path:    out.Path,
		End:     out.End,
		Repeat:  out.Repeat,
		Attempt: a.Overview(),
	})
}

func (s *Server) handleCheckResult(w http.ResponseWriter, r *http.Request) {
	var res attempt.CheckResult
	if !s.decode(w, r, &res) {
		return
	}
	if err := s.service.RecordCheckResult(r.Context(), res); err != nil {
		s.serviceError(w, err)
		return
	}
	if s.checks != nil {
		s.checks.ObserveCheckResult(res.Passed)
	}
	w.WriteHeader(http.StatusNoContent)
}

// attempt resolves the {id} path value to a live attempt
func (s *Server) attempt(w http.ResponseWriter, r *http.Request) (*attempt.Attempt, bool) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	a, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return nil, false
	}
	return a, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.jsonError(w, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return id, true
}

// decode reads a JSON body and validates it; an empty body leaves v zeroed
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		s.jsonError(w, http.StatusUnprocessableEntity, "validation failed", err)
		return false
	}
	return true
}

// serviceError maps domain errors to HTTP status codes
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	message := http.StatusText(status)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	s.jsonError(w, status, message, err)
}

func errorStatus(err error) int {
	var undefined *vars.NotDefinedError
	switch {
	case errors.Is(err, domain.ErrExerciseNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrSubmissionNotFound),
		errors.Is(err, domain.ErrStageNotFound),
		errors.Is(err, domain.ErrTupleNotFound),
		errors.Is(err, ledger.ErrUnknownCase):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAttemptClosed),
		errors.Is(err, domain.ErrNotCurrentStage),
		errors.Is(err, domain.ErrChecksPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrKindMismatch),
		errors.Is(err, domain.ErrIndexOutOfRange),
		errors.Is(err, domain.ErrInvalidBounds),
		errors.Is(err, domain.ErrNoStartStage),
		errors.As(err, &undefined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, evaluator.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}
