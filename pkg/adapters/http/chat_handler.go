// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/workflowai/gateway/pkg/core/schema"
)

// handleChatCompletions handles POST /v1/chat/completions
func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req schema.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to parse chat completion request", "error", err)
		h.writeError(w, schema.NewBadRequest("Failed to parse request body"))
		return
	}

	h.logger.Info("Processing chat completion request",
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", req.Stream)

	if req.Stream {
		h.handleChatCompletionStream(w, r, &req)
		return
	}

	resp, err := h.completions.Complete(r.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create chat completion", "error", err)
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// handleChatCompletionStream handles streaming chat completions
func (h *Handler) handleChatCompletionStream(w http.ResponseWriter, r *http.Request, req *schema.ChatCompletionRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, fmt.Errorf("streaming not supported"))
		return
	}

	// Resolution failures happen before the first byte, so they can still
	// answer with a proper status.
	events, err := h.completions.Stream(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to start chat completion stream", "error", err)
		h.writeError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if ev.Err != nil {
			h.logger.Error("Chat completion stream failed", "error", ev.Err)
			payload, _ := json.Marshal(streamError(ev.Err))
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
		data, err := json.Marshal(ev.Chunk)
		if err != nil {
			h.logger.Error("Failed to marshal chunk", "error", err)
			continue
		}

		// OpenAI format does not use an event: line, just data:.
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func streamError(err error) schema.ErrorResponse {
	return schema.ErrorResponse{Error: schema.ErrorDetail{
		Type:    "invalid_request_error",
		Message: err.Error(),
	}}
}
