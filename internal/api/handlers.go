// Package api exposes HTTP handlers for the activity recognition service.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"example.com/activityrecognition/internal/auth"
	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/streaming"
)

const (
	serviceName    = "activity-recognition"
	serviceVersion = "0.1"

	maxBodyBytes = 32 << 20
)

// Trainer is the slice of the training manager the handlers depend on.
type Trainer interface {
	StartTraining(ctx context.Context, cfg domain.TrainingConfig) (domain.TrainingRun, error)
	Status() domain.TrainingStatus
	ModelInfo() domain.ModelInfo
	SequenceLength() int
	Predict(ctx context.Context, window []domain.Reading) (domain.Prediction, error)
	Runs(ctx context.Context, limit int) ([]domain.TrainingRun, error)
}

// Generator produces synthetic labeled windows.
type Generator interface {
	Activities() []string
	Generate(n, length int, activities []string) ([]domain.LabeledSample, error)
}

// SessionLister reports live streaming sessions.
type SessionLister interface {
	Active() int
	Sessions() []streaming.SessionStats
}

// Option configures optional handler dependencies.
type Option func(*Handler)

// WithLogger overrides the logger used for server-side failures.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithStream mounts the streaming endpoint and its session listing.
func WithStream(stream http.Handler, sessions SessionLister) Option {
	return func(h *Handler) {
		h.stream = stream
		h.sessions = sessions
	}
}

// Handler coordinates HTTP requests with the training manager, sample store and synthesizer.
type Handler struct {
	trainer   Trainer
	store     domain.SampleStore
	generator Generator
	stream    http.Handler
	sessions  SessionLister
	logger    *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(trainer Trainer, store domain.SampleStore, generator Generator, opts ...Option) *Handler {
	h := &Handler{
		trainer:   trainer,
		store:     store,
		generator: generator,
		logger:    log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/v1/health", h.health)
	mux.HandleFunc("/v1", h.root)
	mux.HandleFunc("/v1/model-info", auth.RequireScope(auth.ScopeModelsRead, h.modelInfo))
	mux.HandleFunc("/v1/predict", auth.RequireScope(auth.ScopeModelsRead, h.predict))
	mux.HandleFunc("/v1/samples", h.samples)
	mux.HandleFunc("/v1/samples/generate", auth.RequireScope(auth.ScopeSamplesWrite, h.generateSamples))
	mux.HandleFunc("/v1/training/runs", h.trainingRuns)
	mux.HandleFunc("/v1/training/status", auth.RequireScope(auth.ScopeModelsRead, h.trainingStatus))
	if h.stream != nil {
		mux.HandleFunc("/v1/stream", auth.RequireScope(auth.ScopeModelsRead, h.stream.ServeHTTP))
		mux.HandleFunc("/v1/stream/sessions", auth.RequireScope(auth.ScopeModelsRead, h.streamSessions))
	}
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	modelStatus := "not_loaded"
	if h.trainer.ModelInfo().Trained {
		modelStatus = "trained"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ModelStatus:    modelStatus,
		TrainingStatus: string(h.trainer.Status().Status),
	})
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	writeJSON(w, http.StatusOK, ServiceInfo{
		Service:        serviceName,
		Version:        serviceVersion,
		SequenceLength: h.trainer.SequenceLength(),
		Activities:     h.generator.Activities(),
	})
}

func (h *Handler) streamSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		Active:   h.sessions.Active(),
		Sessions: h.sessions.Sessions(),
	})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
