package api

import (
	"errors"
	"net/http"
	"time"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/streaming"
)

func (h *Handler) modelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	info := h.trainer.ModelInfo()
	classes := info.Classes
	if classes == nil {
		classes = []string{}
	}
	writeJSON(w, http.StatusOK, ModelInfoResponse{
		Trained:        info.Trained,
		Classes:        classes,
		SequenceLength: info.SequenceLength,
		RunID:          info.RunID,
		TrainedAt:      info.TrainedAt,
	})
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req PredictRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	prediction, err := h.trainer.Predict(r.Context(), toReadings(req.SensorData))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PredictResponse{
		PredictedActivity: prediction.Label,
		Confidence:        prediction.Confidence,
	})
}

// PredictRequest is the payload for POST /v1/predict: one window of [x, y, z] readings.
type PredictRequest struct {
	SensorData [][3]float64 `json:"sensor_data"`
}

// PredictResponse is the classification of one window.
type PredictResponse struct {
	PredictedActivity string  `json:"predicted_activity"`
	Confidence        float64 `json:"confidence"`
}

// ModelInfoResponse describes the active model.
type ModelInfoResponse struct {
	Trained        bool       `json:"trained"`
	Classes        []string   `json:"classes"`
	SequenceLength int        `json:"sequence_length"`
	RunID          string     `json:"run_id,omitempty"`
	TrainedAt      *time.Time `json:"trained_at,omitempty"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	ModelStatus    string `json:"model_status"`
	TrainingStatus string `json:"training_status"`
}

// ServiceInfo is returned by GET /v1.
type ServiceInfo struct {
	Service        string   `json:"service"`
	Version        string   `json:"version"`
	SequenceLength int      `json:"sequence_length"`
	Activities     []string `json:"activities"`
}

// SessionsResponse lists live streaming sessions.
type SessionsResponse struct {
	Active   int                      `json:"active"`
	Sessions []streaming.SessionStats `json:"sessions"`
}
