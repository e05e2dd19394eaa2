package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"example.com/activityrecognition/internal/auth"
	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/synth"
)

const (
	defaultGenerateCount = 1000
	maxGenerateCount     = 20000
)

func (h *Handler) samples(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		auth.RequireScope(auth.ScopeSamplesWrite, h.appendSamples)(w, r)
	case http.MethodGet:
		auth.RequireScope(auth.ScopeModelsRead, h.sampleSummary)(w, r)
	case http.MethodDelete:
		auth.RequireScope(auth.ScopeSamplesWrite, h.clearSamples)(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) appendSamples(w http.ResponseWriter, r *http.Request) {
	var req AppendSamplesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	batch, err := req.toDomain(h.trainer.SequenceLength())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	h.storeSamples(w, r, batch, http.StatusCreated)
}

func (h *Handler) generateSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req GenerateSamplesRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if raw := r.URL.Query().Get("samples"); raw != "" && req.Samples == nil {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "samples must be an integer")
			return
		}
		req.Samples = &parsed
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	batch, err := h.generator.Generate(req.count(), h.trainer.SequenceLength(), req.Activities)
	if err != nil {
		if errors.Is(err, synth.ErrUnknownActivity) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}
	h.storeSamples(w, r, batch, http.StatusCreated)
}

func (h *Handler) storeSamples(w http.ResponseWriter, r *http.Request, batch []domain.LabeledSample, status int) {
	if len(batch) > 0 {
		if err := h.store.Append(r.Context(), batch...); err != nil {
			if errors.Is(err, domain.ErrInvalidSample) {
				writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
				return
			}
			h.serverError(w, r, err)
			return
		}
	}

	summary, err := h.store.Summary(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	added := domain.Summarize(batch)
	writeJSON(w, status, AppendSamplesResponse{
		Added:      added.Total,
		Activities: added.Activities,
		Summary:    summary,
	})
}

func (h *Handler) sampleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) clearSamples(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AppendSamplesRequest is the payload for POST /v1/samples.
type AppendSamplesRequest struct {
	Samples []SamplePayload `json:"samples"`
}

// SamplePayload is one labeled window with readings as [x, y, z] triples.
type SamplePayload struct {
	Activity string       `json:"activity"`
	Readings [][3]float64 `json:"readings"`
}

func (r AppendSamplesRequest) toDomain(windowLength int) ([]domain.LabeledSample, error) {
	if len(r.Samples) == 0 {
		return nil, errors.New("samples must not be empty")
	}
	out := make([]domain.LabeledSample, 0, len(r.Samples))
	for i, s := range r.Samples {
		sample := domain.LabeledSample{
			Activity: strings.TrimSpace(s.Activity),
			Readings: toReadings(s.Readings),
		}
		if err := sample.Validate(windowLength); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out = append(out, sample)
	}
	return out, nil
}

// GenerateSamplesRequest is the payload for POST /v1/samples/generate.
type GenerateSamplesRequest struct {
	Samples    *int     `json:"samples"`
	Activities []string `json:"activities"`
}

// Validate ensures request correctness.
func (r GenerateSamplesRequest) Validate() error {
	if r.Samples != nil && (*r.Samples < 1 || *r.Samples > maxGenerateCount) {
		return fmt.Errorf("samples must be between 1 and %d", maxGenerateCount)
	}
	return nil
}

func (r GenerateSamplesRequest) count() int {
	if r.Samples == nil {
		return defaultGenerateCount
	}
	return *r.Samples
}

// AppendSamplesResponse reports what a write added and the resulting store summary.
type AppendSamplesResponse struct {
	Added      int                  `json:"added"`
	Activities []string             `json:"activities"`
	Summary    domain.SampleSummary `json:"summary"`
}

func toReadings(triples [][3]float64) []domain.Reading {
	out := make([]domain.Reading, len(triples))
	for i, v := range triples {
		out[i] = domain.Reading{X: v[0], Y: v[1], Z: v[2]}
	}
	return out
}
