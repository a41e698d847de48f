// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"net/http"

	"github.com/workflowai/gateway/pkg/core/schema"
)

// handleListModels handles GET /v1/models
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		h.logger.Error("Failed to list models", "error", err)
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models)
}

// handleGetModel handles GET /v1/models/{id}
func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	if modelID == "" {
		h.writeError(w, schema.NewBadRequest("Model ID is required"))
		return
	}

	model, err := h.models.GetModel(r.Context(), modelID)
	if err != nil {
		h.logger.Error("Failed to get model", "error", err, "model_id", modelID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(schema.ErrorResponse{Error: schema.ErrorDetail{
			Type:    "invalid_request_error",
			Code:    "model_not_found",
			Message: err.Error(),
		}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(model)
}
