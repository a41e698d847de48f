// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/conversation"
	"github.com/workflowai/gateway/pkg/core/engine"
	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/core/services"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/providers"
	"github.com/workflowai/gateway/pkg/storage/memory"
)

func testHandler(t *testing.T, upstream http.HandlerFunc) *Handler {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	reg := providers.NewRegistry()
	reg.Register(providers.NewOpenAI(providers.Config{APIKey: "k", BaseURL: srv.URL}))
	cat := catalog.New([]catalog.ModelInfo{
		{ID: "gpt-4o", Providers: []string{"openai"}, SupportsTools: true},
	}, nil)

	log := logging.Nop()
	kv := memory.NewKVStore()
	completions := services.NewCompletionService(services.CompletionConfig{
		Catalog:       cat,
		Registry:      reg,
		Engine:        engine.New(reg, cat, log, engine.Config{}),
		Runs:          memory.NewRunStore(),
		Conversations: conversation.NewResolver(kv, log, time.Hour),
		KV:            kv,
	}, log)
	return New(completions, services.NewModelsService(cat), nil, log)
}

func completionUpstream(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"choices": [{"message": {"content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 2}
		}`, content)
	}
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions(t *testing.T) {
	h := testHandler(t, completionUpstream("hello"))
	rec := postJSON(t, h, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp schema.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if resp.Choices[0].Message.FirstStringContent() != "hello" {
		t.Errorf("content = %q", resp.Choices[0].Message.FirstStringContent())
	}
}

func TestChatCompletionsBadJSON(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	rec := postJSON(t, h, "/v1/chat/completions", `{"model": `)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var errResp schema.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", errResp.Error.Type)
	}
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	rec := postJSON(t, h, "/v1/chat/completions",
		`{"model": "gpt-9000", "messages": [{"role": "user", "content": "hi"}]}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var errResp schema.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errResp.Error.Message, "does not exist") {
		t.Errorf("message = %q", errResp.Error.Message)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	h := testHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []string{
			`{"choices": [{"delta": {"content": "hel"}}]}`,
			`{"choices": [{"delta": {"content": "lo"}}]}`,
			`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	rec := postJSON(t, h, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	var payloads []string
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		payloads = append(payloads, data)
	}
	if !sawDone {
		t.Fatal("stream did not terminate with [DONE]")
	}
	if len(payloads) == 0 {
		t.Fatal("no chunks streamed")
	}

	var text strings.Builder
	var lastFinish *string
	for _, p := range payloads {
		var chunk schema.ChatCompletionChunk
		if err := json.Unmarshal([]byte(p), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", p, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("object = %q", chunk.Object)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
		lastFinish = chunk.Choices[0].FinishReason
	}
	if text.String() != "hello" {
		t.Errorf("streamed text = %q", text.String())
	}
	if lastFinish == nil || *lastFinish != "stop" {
		t.Errorf("final finish reason = %v", lastFinish)
	}
}

func TestStreamResolutionErrorAnswersWithStatus(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	rec := postJSON(t, h, "/v1/chat/completions",
		`{"model": "gpt-9000", "messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
}

func TestListModels(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp schema.ListModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "gpt-4o" {
		t.Errorf("models = %+v", resp.Data)
	}
}

func TestGetModelNotFound(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	req := httptest.NewRequest(http.MethodGet, "/v1/models/gpt-9000", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := testHandler(t, completionUpstream("unused"))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body)
	}
}
