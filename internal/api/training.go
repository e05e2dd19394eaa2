package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"example.com/activityrecognition/internal/auth"
	"example.com/activityrecognition/internal/domain"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

func (h *Handler) trainingRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		auth.RequireScope(auth.ScopeTrainingWrite, h.startTraining)(w, r)
	case http.MethodGet:
		auth.RequireScope(auth.ScopeModelsRead, h.listRuns)(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) startTraining(w http.ResponseWriter, r *http.Request) {
	var req StartTrainingRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	run, err := h.trainer.StartTraining(r.Context(), req.config())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, toRunView(run))
	case errors.Is(err, domain.ErrAlreadyTraining):
		writeError(w, http.StatusConflict, "already_training", err.Error())
	case errors.Is(err, domain.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxRunsLimit {
				parsed = maxRunsLimit
			}
			limit = parsed
		}
	}

	runs, err := h.trainer.Runs(r.Context(), limit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	items := make([]RunView, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunView(run))
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Items: items})
}

func (h *Handler) trainingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	status := h.trainer.Status()
	writeJSON(w, http.StatusOK, TrainingStatusResponse{
		RunID:      status.RunID,
		Status:     string(status.Status),
		Accuracy:   status.Accuracy,
		Error:      status.Error,
		StartedAt:  status.StartedAt,
		FinishedAt: status.FinishedAt,
	})
}

// StartTrainingRequest is the optional payload for POST /v1/training/runs. Omitted fields take
// the defaults.
type StartTrainingRequest struct {
	Epochs          *int     `json:"epochs"`
	BatchSize       *int     `json:"batch_size"`
	ValidationSplit *float64 `json:"validation_split"`
}

func (r StartTrainingRequest) config() domain.TrainingConfig {
	cfg := domain.DefaultTrainingConfig()
	if r.Epochs != nil {
		cfg.Epochs = *r.Epochs
	}
	if r.BatchSize != nil {
		cfg.BatchSize = *r.BatchSize
	}
	if r.ValidationSplit != nil {
		cfg.ValidationSplit = *r.ValidationSplit
	}
	return cfg
}

// RunView exposes a training run.
type RunView struct {
	RunID       string                `json:"run_id"`
	Status      string                `json:"status"`
	Config      domain.TrainingConfig `json:"config"`
	SampleCount int                   `json:"sample_count"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  *time.Time            `json:"finished_at"`
	Accuracy    *float64              `json:"accuracy"`
	Error       *string               `json:"error,omitempty"`
	Classes     []string              `json:"classes,omitempty"`
}

// ListRunsResponse packages run history, newest first.
type ListRunsResponse struct {
	Items []RunView `json:"items"`
}

// TrainingStatusResponse describes the most recent run.
type TrainingStatusResponse struct {
	RunID      string     `json:"run_id,omitempty"`
	Status     string     `json:"status"`
	Accuracy   *float64   `json:"accuracy"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toRunView(run domain.TrainingRun) RunView {
	return RunView{
		RunID:       run.ID,
		Status:      string(run.Status),
		Config:      run.Config,
		SampleCount: run.SampleCount,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Accuracy:    run.Accuracy,
		Error:       run.Error,
		Classes:     run.Classes,
	}
}
