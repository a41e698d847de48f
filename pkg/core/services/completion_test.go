// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/conversation"
	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/engine"
	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/core/translator"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/providers"
	"github.com/workflowai/gateway/pkg/storage/memory"
)

func providersRegistry(srv *httptest.Server) *providers.Registry {
	reg := providers.NewRegistry()
	reg.Register(providers.NewOpenAI(providers.Config{APIKey: "k", BaseURL: srv.URL}))
	return reg
}

func completionBody(content string) string {
	return fmt.Sprintf(`{
		"choices": [{"message": {"content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 4, "completion_tokens": 2}
	}`, content)
}

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

type fakeDeployments struct {
	dep *catalog.Deployment
}

func (f *fakeDeployments) GetDeployment(ctx context.Context, agentID string, schemaID int, env domain.Environment) (*catalog.Deployment, error) {
	if f.dep == nil {
		return nil, fmt.Errorf("no deployment for %s", agentID)
	}
	return f.dep, nil
}

type serviceFixture struct {
	service *CompletionService
	runs    *memory.RunStore
	kv      *memory.KVStore
}

func testService(t *testing.T, srv *httptest.Server, deployments catalog.DeploymentStore) *serviceFixture {
	t.Helper()
	reg := providersRegistry(srv)
	cat := catalog.New([]catalog.ModelInfo{
		{ID: "gpt-4o", Providers: []string{"openai"}, PromptPriceUSD: 2.5, CompletionPriceUSD: 10, SupportsTools: true},
	}, map[string]string{"gpt-4o-latest": "gpt-4o"})

	runs := memory.NewRunStore()
	kv := memory.NewKVStore()
	log := logging.Nop()
	svc := NewCompletionService(CompletionConfig{
		Catalog:       cat,
		Deployments:   deployments,
		Registry:      reg,
		Engine:        engine.New(reg, cat, log, engine.Config{}),
		Runs:          runs,
		Conversations: conversation.NewResolver(kv, log, time.Hour),
		KV:            kv,
		Feedback:      translator.NewFeedbackTokenGenerator([]byte("secret")),
	}, log)
	return &serviceFixture{service: svc, runs: runs, kv: kv}
}

func userCompletion(model, text string) *schema.ChatCompletionRequest {
	return &schema.ChatCompletionRequest{
		Model:    model,
		Messages: []schema.ChatMessage{{Role: "user", Content: schema.StringContent(text)}},
	}
}

func TestCompleteResolvesAgentAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("hello there"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	resp, err := f.service.Complete(context.Background(), userCompletion("my-agent/gpt-4o", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ID, "my-agent/") {
		t.Errorf("response id = %q, want agent prefix", resp.ID)
	}
	if resp.Choices[0].Message.FirstStringContent() != "hello there" {
		t.Errorf("content = %q", resp.Choices[0].Message.FirstStringContent())
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.ConversationID == "" {
		t.Error("conversation id not assigned")
	}
	if resp.VersionID != "gpt-4o" {
		t.Errorf("version id = %q", resp.VersionID)
	}
	if resp.Choices[0].FeedbackToken == "" {
		t.Error("feedback token not attached")
	}

	runID := strings.TrimPrefix(resp.ID, "my-agent/")
	run, err := f.runs.GetRun(context.Background(), "my-agent", runID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Output != "hello there" || run.Provider != "openai" {
		t.Errorf("stored run = %+v", run)
	}
	if run.CostUSD == 0 {
		t.Error("run cost not priced")
	}
}

func TestCompleteCacheHit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completionBody("deterministic"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	zero := 0.0
	req := userCompletion("my-agent/gpt-4o", "hi")
	req.Temperature = &zero

	first, err := f.service.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.service.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
	if second.ID != first.ID {
		t.Errorf("cache hit minted a new run: %q vs %q", second.ID, first.ID)
	}
	if second.Choices[0].Message.FirstStringContent() != "deterministic" {
		t.Errorf("cached content = %q", second.Choices[0].Message.FirstStringContent())
	}
}

func TestCompleteCacheDisabledForSampledCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completionBody("sampled"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	req := userCompletion("my-agent/gpt-4o", "hi")
	temp := 0.7
	req.Temperature = &temp

	for i := 0; i < 2; i++ {
		if _, err := f.service.Complete(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestCompleteUnknownPinnedProviderIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("served anyway"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	req := userCompletion("gpt-4o", "hi")
	req.Provider = "mistral"

	resp, err := f.service.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Choices[0].Message.FirstStringContent() != "served anyway" {
		t.Errorf("content = %q", resp.Choices[0].Message.FirstStringContent())
	}
}

func TestCompleteDeploymentDefaults(t *testing.T) {
	temp := 0.3
	deps := &fakeDeployments{dep: &catalog.Deployment{
		AgentID:     "my-agent",
		SchemaID:    1,
		Environment: domain.EnvironmentProduction,
		Model:       "gpt-4o",
		Messages:    []domain.Message{domain.NewText(domain.RoleSystem, "be terse")},
		Temperature: &temp,
	}}

	var sawTemplate atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "be terse") {
			sawTemplate.Store(true)
		}
		fmt.Fprint(w, completionBody("deployed"))
	}))
	defer srv.Close()

	f := testService(t, srv, deps)
	resp, err := f.service.Complete(context.Background(), userCompletion("my-agent/#1/production", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.VersionID != "my-agent/#1/production" {
		t.Errorf("version id = %q", resp.VersionID)
	}
	if !sawTemplate.Load() {
		t.Error("version template was not prepended to the dispatched messages")
	}
}

func TestCompleteDeploymentMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := testService(t, srv, &fakeDeployments{})
	_, err := f.service.Complete(context.Background(), userCompletion("my-agent/#1/production", "hi"))
	if err == nil || !strings.Contains(err.Error(), "No deployment found") {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteRejectsBrokenToolHistory(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := testService(t, srv, nil)
	req := &schema.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []schema.ChatMessage{
			{Role: "user", Content: schema.StringContent("hi")},
			{Role: "tool", Content: schema.StringContent("result"), ToolCallID: "call_1"},
		},
	}
	_, err := f.service.Complete(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "should immediately follow a tool call request") {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteFailureRecordsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "schema rejected"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	_, err := f.service.Complete(context.Background(), userCompletion("my-agent/gpt-4o", "hi"))
	if err == nil {
		t.Fatal("expected provider error")
	}

	runs, err := f.runs.ListRuns(context.Background(), "my-agent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("stored %d runs, want 1", len(runs))
	}
	if runs[0].Err == nil {
		t.Error("stored run has no error")
	}
	if runs[0].ConversationID != "" {
		t.Errorf("failed run joined conversation %q", runs[0].ConversationID)
	}
}

func TestStreamFailureRecordsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "schema rejected"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	events, err := f.service.Stream(context.Background(), userCompletion("my-agent/gpt-4o", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
		}
	}
	if streamErr == nil {
		t.Fatal("expected provider error on the stream")
	}

	runs, err := f.runs.ListRuns(context.Background(), "my-agent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Err == nil {
		t.Fatalf("stored runs = %+v, want one failed run", runs)
	}
}

func TestStreamChunksAndTerminal(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices": [{"delta": {"content": "hel"}}]}`,
		`{"choices": [{"delta": {"content": "lo"}}]}`,
		`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`,
		`{"choices": [], "usage": {"prompt_tokens": 5, "completion_tokens": 2}}`,
	})
	defer srv.Close()

	f := testService(t, srv, nil)
	events, err := f.service.Stream(context.Background(), userCompletion("my-agent/gpt-4o", "hi"))
	if err != nil {
		t.Fatal(err)
	}

	var chunks []*schema.ChatCompletionChunk
	for ev := range events {
		if ev.Err != nil {
			t.Fatal(ev.Err)
		}
		chunks = append(chunks, ev.Chunk)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}

	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk role = %q, want assistant", chunks[0].Choices[0].Delta.Role)
	}
	if chunks[1].Choices[0].Delta.Role != "" {
		t.Errorf("role repeated on chunk 2: %q", chunks[1].Choices[0].Delta.Role)
	}

	var text strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		text.WriteString(c.Choices[0].Delta.Content)
		if c.Choices[0].FinishReason != nil {
			t.Error("finish reason on a partial chunk")
		}
	}
	if text.String() != "hello" {
		t.Errorf("streamed text = %q", text.String())
	}

	terminal := chunks[len(chunks)-1]
	if terminal.Choices[0].FinishReason == nil || *terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("terminal finish reason = %v", terminal.Choices[0].FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.TotalTokens != 7 {
		t.Errorf("terminal usage = %+v", terminal.Usage)
	}
	if terminal.ConversationID == "" {
		t.Error("terminal chunk missing conversation id")
	}
	if !strings.HasPrefix(terminal.ID, "my-agent/") {
		t.Errorf("chunk id = %q", terminal.ID)
	}
}

func TestStreamCacheReplay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completionBody("replayed"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	zero := 0.0
	req := userCompletion("my-agent/gpt-4o", "hi")
	req.Temperature = &zero

	if _, err := f.service.Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	events, err := f.service.Stream(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	var chunks []*schema.ChatCompletionChunk
	for ev := range events {
		if ev.Err != nil {
			t.Fatal(ev.Err)
		}
		chunks = append(chunks, ev.Chunk)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
	if len(chunks) != 1 {
		t.Fatalf("cache replay produced %d chunks, want 1", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Content != "replayed" {
		t.Errorf("replayed delta = %q", chunks[0].Choices[0].Delta.Content)
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Errorf("replay chunk role = %q, want assistant", chunks[0].Choices[0].Delta.Role)
	}
	if chunks[0].Choices[0].FinishReason == nil {
		t.Error("replay chunk missing finish reason")
	}
}

func TestStreamResolutionErrorIsSynchronous(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := testService(t, srv, nil)
	_, err := f.service.Stream(context.Background(), userCompletion("gpt-9000", "hi"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("err = %v", err)
	}
}

func TestConversationContinuity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("first reply"))
	}))
	defer srv.Close()

	f := testService(t, srv, nil)
	first, err := f.service.Complete(context.Background(), userCompletion("my-agent/gpt-4o", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ConversationID == "" {
		t.Fatal("first run has no conversation id")
	}

	// A follow-up that replays the history plus the reply continues the
	// same conversation.
	followUp := &schema.ChatCompletionRequest{
		Model: "my-agent/gpt-4o",
		Messages: []schema.ChatMessage{
			{Role: "user", Content: schema.StringContent("hi")},
			{Role: "assistant", Content: schema.StringContent("first reply")},
			{Role: "user", Content: schema.StringContent("and then?")},
		},
	}
	second, err := f.service.Complete(context.Background(), followUp)
	if err != nil {
		t.Fatal(err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation forked: %q vs %q", second.ConversationID, first.ConversationID)
	}
}
