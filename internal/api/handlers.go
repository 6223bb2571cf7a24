// Package api exposes the engine over HTTP: alert ingest, silence management
// and rule validation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/pipeline"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/silence"
)

const maxBodyBytes = 1 << 20

// Processor runs one alert through the engine.
type Processor interface {
	Process(ctx context.Context, a alert.Alert) (*pipeline.Report, error)
}

type Handler struct {
	Pipeline Processor
	Silences *silence.Manager
	Metrics  http.Handler
	Logger   logrus.FieldLogger
}

type errorResponse struct {
	Ok      bool     `json:"ok"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type silenceRequest struct {
	Pattern   string `json:"pattern"`
	Duration  string `json:"duration"`
	Severity  string `json:"severity"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
	Force     bool   `json:"force"`
}

type unsilenceRequest struct {
	Pattern string `json:"pattern"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Post("/alerts", h.handleAlert)
	r.Post("/rules/validate", h.handleRulesValidate)
	r.Route("/silences", func(r chi.Router) {
		r.Get("/", h.handleSilencesList)
		r.Post("/", h.handleSilenceCreate)
		r.Post("/unsilence", h.handleUnsilence)
		r.Delete("/{id}", h.handleSilenceDelete)
	})
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	var a alert.Alert
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert payload: "+err.Error())
		return
	}
	if a == nil {
		writeError(w, http.StatusBadRequest, "alert must be a json object")
		return
	}
	report, err := h.Pipeline.Process(r.Context(), a)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report": report})
}

func (h *Handler) handleRulesValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if problems := rules.ValidateRuleJSON(body); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Ok: false, Message: "rule is invalid", Details: problems})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSilencesList(w http.ResponseWriter, r *http.Request) {
	records, err := h.Silences.Active(r.Context())
	if err != nil {
		h.logger().WithError(err).Error("listing silences failed")
		writeError(w, http.StatusInternalServerError, "failed to list silences")
		return
	}
	if records == nil {
		records = []silence.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "silences": records})
}

func (h *Handler) handleSilenceCreate(w http.ResponseWriter, r *http.Request) {
	var req silenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seconds, ok := silence.ParseDurationToSeconds(req.Duration, h.Silences.MaxDays())
	if !ok {
		writeError(w, http.StatusBadRequest, "duration must look like 30m, 2h or 1d")
		return
	}
	rec, err := h.Silences.Create(r.Context(), silence.Request{
		Pattern:         req.Pattern,
		DurationSeconds: seconds,
		CreatedBy:       strings.TrimSpace(req.CreatedBy),
		Reason:          req.Reason,
		Severity:        req.Severity,
		Force:           req.Force,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "silence": rec})
	case errors.Is(err, silence.ErrBroadPattern):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, silence.ErrInvalidPattern), errors.Is(err, silence.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, silence.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger().WithError(err).Error("creating silence failed")
		writeError(w, http.StatusInternalServerError, "failed to create silence")
	}
}

func (h *Handler) handleSilenceDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.Silences.UnsilenceByID(r.Context(), id)
	if err != nil {
		h.logger().WithError(err).WithField("silence_id", id).Error("removing silence failed")
		writeError(w, http.StatusInternalServerError, "failed to remove silence")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "silence not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleUnsilence(w http.ResponseWriter, r *http.Request) {
	var req unsilenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	n, err := h.Silences.UnsilenceByPattern(r.Context(), req.Pattern)
	if err != nil {
		h.logger().WithError(err).Error("removing silences failed")
		writeError(w, http.StatusInternalServerError, "failed to remove silences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Message: message})
}
