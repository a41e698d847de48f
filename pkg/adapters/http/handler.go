// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package http exposes the gateway over an OpenAI-compatible HTTP surface.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/core/services"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/observability/metrics"
	"github.com/workflowai/gateway/pkg/providers"
)

// Handler implements the HTTP adapter
type Handler struct {
	completions *services.CompletionService
	models      *services.ModelsService
	metrics     *metrics.Metrics
	logger      *logging.Logger
	mux         *http.ServeMux
}

// New creates a new HTTP handler
func New(completions *services.CompletionService, models *services.ModelsService, m *metrics.Metrics, logger *logging.Logger) *Handler {
	h := &Handler{
		completions: completions,
		models:      models,
		metrics:     m,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	// Register routes
	h.mux.HandleFunc("GET /health", h.handleHealth)

	// Chat Completions API
	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)

	// Models API
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /v1/models/{id}", h.handleGetModel)

	if m != nil {
		h.mux.Handle("GET /metrics", m.Handler())
	}

	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	h.mux.ServeHTTP(rec, r)

	h.logger.Info("Request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"remote_addr", r.RemoteAddr)
	if h.metrics != nil {
		h.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status for logging and metrics. It
// forwards Flush so SSE streaming keeps working through the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handleHealth handles health check requests
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// writeError maps a service error onto the OpenAI error envelope. Request
// errors answer 400; provider errors carry their own status.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := schema.ErrorDetail{Type: "internal_error", Message: err.Error()}

	var badReq *schema.BadRequestError
	var perr *providers.Error
	switch {
	case errors.As(err, &badReq):
		status = http.StatusBadRequest
		detail = schema.ErrorDetail{Type: "invalid_request_error", Message: badReq.Message}
	case errors.As(err, &perr):
		status = perr.StatusCode()
		detail = schema.ErrorDetail{
			Type:    "invalid_request_error",
			Code:    string(perr.Kind),
			Message: perr.Message,
			Status:  status,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(schema.ErrorResponse{Error: detail})
}
