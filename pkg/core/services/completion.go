// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package services orchestrates one chat completion end to end: reference
// resolution, translation, correctness repair, dispatch through the
// execution engine, conversation linking and run persistence.
package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/conversation"
	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/engine"
	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/core/translator"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/observability/metrics"
	"github.com/workflowai/gateway/pkg/providers"
	"github.com/workflowai/gateway/pkg/storage"
)

// CompletionService handles POST /v1/chat/completions for both response
// modes.
type CompletionService struct {
	catalog       *catalog.Catalog
	deployments   catalog.DeploymentStore
	registry      *providers.Registry
	engine        *engine.Engine
	runs          storage.RunStore
	conversations *conversation.Resolver
	kv            conversation.KeyValueStore
	feedback      *translator.FeedbackTokenGenerator
	log           *logging.Logger
	metrics       *metrics.Metrics
	timeout       time.Duration
	cacheTTL      time.Duration
}

// CompletionConfig wires the service's collaborators. Deployments, feedback
// and metrics are optional.
type CompletionConfig struct {
	Catalog       *catalog.Catalog
	Deployments   catalog.DeploymentStore
	Registry      *providers.Registry
	Engine        *engine.Engine
	Runs          storage.RunStore
	Conversations *conversation.Resolver
	KV            conversation.KeyValueStore
	Feedback      *translator.FeedbackTokenGenerator
	Metrics       *metrics.Metrics
	Timeout       time.Duration
	CacheTTL      time.Duration
}

// NewCompletionService creates a new completion service
func NewCompletionService(cfg CompletionConfig, log *logging.Logger) *CompletionService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &CompletionService{
		catalog:       cfg.Catalog,
		deployments:   cfg.Deployments,
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		runs:          cfg.Runs,
		conversations: cfg.Conversations,
		kv:            cfg.KV,
		feedback:      cfg.Feedback,
		log:           log,
		metrics:       cfg.Metrics,
		timeout:       timeout,
		cacheTTL:      cacheTTL,
	}
}

// resolvedRequest is the outcome of resolution and translation, ready for
// dispatch.
type resolvedRequest struct {
	agentID   string
	agentUID  int
	schemaID  int
	model     string
	versionID string

	// messages is the validated caller history; template the version-level
	// prefix prepended at dispatch time.
	messages []domain.Message
	template []domain.Message

	opts        providers.Options
	provider    string
	useFallback *bool
	useCache    string

	deprecatedFunctions bool
	conversationID      string
	metadata            map[string]any
	input               map[string]any
}

// agentUID derives the stable numeric agent key used in conversation cache
// keys and feedback tokens.
func agentUID(agentID string) int {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return int(h.Sum32())
}

// resolve runs reference resolution, translation and correctness repair.
// All failures here are terminal 400-class errors.
func (s *CompletionService) resolve(ctx context.Context, req *schema.ChatCompletionRequest) (*resolvedRequest, error) {
	if err := req.CheckSupportedFields(); err != nil {
		return nil, err
	}

	ref, warnings, err := translator.ResolveReference(req, s.catalog)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.log.Warn(w, "model", req.Model)
	}

	r := &resolvedRequest{
		provider:            s.pinnedProvider(req.Provider),
		useFallback:         req.UseFallback,
		useCache:            req.UseCache,
		deprecatedFunctions: req.UsesDeprecatedFunctions(),
		conversationID:      req.ConversationID,
		metadata:            s.fullMetadata(req),
		input:               req.Input,
	}

	var defaults *catalog.Deployment
	switch target := ref.(type) {
	case domain.ModelRef:
		r.model = target.Model
		r.agentID = target.AgentID
		r.versionID = target.Model
	case domain.EnvironmentRef:
		if s.deployments == nil {
			return nil, schema.NewBadRequest("Deployments are not configured on this gateway")
		}
		dep, err := s.deployments.GetDeployment(ctx, target.AgentID, target.SchemaID, target.Environment)
		if err != nil {
			return nil, schema.NewBadRequestf(
				"No deployment found for agent %q schema %d in %s",
				target.AgentID, target.SchemaID, target.Environment,
			)
		}
		r.model = dep.Model
		r.agentID = target.AgentID
		r.schemaID = target.SchemaID
		r.versionID = fmt.Sprintf("%s/#%d/%s", target.AgentID, target.SchemaID, target.Environment)
		r.template = dep.Messages
		defaults = dep
	}
	r.agentUID = agentUID(r.agentID)

	messages, err := translator.CanonicalMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if r.messages, err = translator.FixMessages(messages); err != nil {
		return nil, err
	}

	tools, hosted, err := translator.CanonicalTools(req)
	if err != nil {
		return nil, err
	}
	if len(hosted) > 0 {
		// Hosted tool execution lives outside the gateway; the handles are
		// recorded so downstream consumers see what the run enabled.
		names := make([]string, 0, len(hosted))
		for _, h := range hosted {
			names = append(names, string(h))
		}
		r.metadata["workflowai_tools"] = names
	}

	r.opts = translator.RequestOptions(req, r.model, tools, s.timeout)
	if defaults != nil {
		if r.opts.Temperature == nil {
			r.opts.Temperature = defaults.Temperature
		}
		if r.opts.TopP == nil {
			r.opts.TopP = defaults.TopP
		}
	}
	return r, nil
}

// pinnedProvider validates the provider extension field. Unsupported values
// are ignored with a warning rather than rejected.
func (s *CompletionService) pinnedProvider(name string) string {
	if name == "" {
		return ""
	}
	if _, err := s.registry.Require(name); err != nil {
		s.log.Warn("ignoring unsupported provider", "provider", name)
		return ""
	}
	return name
}

func (s *CompletionService) fullMetadata(req *schema.ChatCompletionRequest) map[string]any {
	md := map[string]any{"integration": "openai_chat_completions"}
	for k, v := range req.Metadata {
		md[k] = v
	}
	if req.User != "" {
		md["user"] = req.User
	}
	return md
}

func (s *CompletionService) newRun(r *resolvedRequest) *domain.Run {
	id, err := uuid.NewV7()
	runID := id.String()
	if err != nil {
		runID = uuid.NewString()
	}
	return &domain.Run{
		ID:             runID,
		AgentID:        r.agentID,
		SchemaID:       r.schemaID,
		ConversationID: r.conversationID,
		Input:          r.messages,
		Model:          r.model,
		Metadata:       r.metadata,
		CreatedAt:      time.Now(),
	}
}

func (s *CompletionService) chainSeed(r *resolvedRequest) conversation.ChainSeed {
	return conversation.ChainSeed{Model: r.model, Template: r.template, Extras: r.input}
}

// finalize links the run into its conversation, prices it and persists it.
// Persistence is best effort: a storage failure never fails the response.
func (s *CompletionService) finalize(ctx context.Context, r *resolvedRequest, run *domain.Run) {
	run.CostUSD = s.engine.CostUSD(run.Model, run.Usage)
	// A failed run has no reply to hash into the conversation chain.
	if run.Err == nil {
		s.conversations.HandleRun(ctx, r.agentUID, run, s.chainSeed(r))
	}

	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.log.Error("failed to save run", "run_id", run.ID, "error", err)
	}
	if s.metrics != nil {
		status := "success"
		if run.Err != nil {
			status = "error"
		}
		s.metrics.RecordCompletion(run.Model, run.Provider, status, run.DurationSeconds,
			run.Usage.PromptTokens, run.Usage.CompletionTokens)
	}
	s.cacheStore(ctx, r, run)
}

func (s *CompletionService) responseOptions(r *resolvedRequest, run *domain.Run) translator.ResponseOptions {
	opts := translator.ResponseOptions{
		Model:               r.model,
		DeprecatedFunctions: r.deprecatedFunctions,
		VersionID:           r.versionID,
	}
	if s.feedback != nil {
		opts.FeedbackToken = s.feedback.Token(r.agentUID, run.ID)
	}
	return opts
}

// Complete handles a non-streaming completion.
func (s *CompletionService) Complete(ctx context.Context, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error) {
	r, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if cached := s.cacheLookup(ctx, r); cached != nil {
		return translator.Response(cached, s.responseOptions(r, cached)), nil
	}

	run := s.newRun(r)
	start := time.Now()
	result, err := s.engine.Complete(ctx, engine.Request{
		Model:       r.model,
		Messages:    s.dispatchMessages(r),
		Options:     r.opts,
		Provider:    r.provider,
		UseFallback: r.useFallback,
	})
	if err != nil {
		run.Err = err
		run.DurationSeconds = time.Since(start).Seconds()
		s.finalize(ctx, r, run)
		return nil, err
	}

	run.Output = result.Output.Content
	run.ToolCallRequests = result.Output.ToolCalls
	run.Provider = result.Provider
	run.DurationSeconds = result.Duration.Seconds()
	if result.Output.Usage != nil {
		run.Usage = *result.Output.Usage
	}
	s.finalize(ctx, r, run)

	return translator.Response(run, s.responseOptions(r, run)), nil
}

// StreamEvent is one wire chunk or a terminal error.
type StreamEvent struct {
	Chunk *schema.ChatCompletionChunk
	Err   error
}

// Stream handles a streaming completion. Resolution errors are returned
// synchronously so the handler can answer with a proper status; everything
// after the first byte arrives on the channel.
func (s *CompletionService) Stream(ctx context.Context, req *schema.ChatCompletionRequest) (<-chan StreamEvent, error) {
	r, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)

	if cached := s.cacheLookup(ctx, r); cached != nil {
		go func() {
			defer close(events)
			// No deltas were ever produced; the terminal chunk replays the
			// entire output.
			c := translator.TerminalChunk(cached, s.responseOptions(r, cached), true)
			c.Choices[0].Delta.Role = "assistant"
			events <- StreamEvent{Chunk: c}
		}()
		return events, nil
	}

	run := s.newRun(r)
	opts := s.responseOptions(r, run)
	chunkID := run.ID
	if r.agentID != "" {
		chunkID = r.agentID + "/" + run.ID
	}

	go func() {
		defer close(events)
		start := time.Now()

		engineEvents := s.engine.Stream(ctx, engine.Request{
			Model:       r.model,
			Messages:    s.dispatchMessages(r),
			Options:     r.opts,
			Provider:    r.provider,
			UseFallback: r.useFallback,
		})

		// The engine's last output event is the authoritative aggregate, so
		// emission lags one event behind: when the channel closes, the held
		// event finalizes the run instead of producing a partial chunk.
		var held *engine.Event
		sentRole := false
		for ev := range engineEvents {
			if ev.Err != nil {
				run.Err = ev.Err
				run.DurationSeconds = time.Since(start).Seconds()
				s.finalize(ctx, r, run)
				events <- StreamEvent{Err: ev.Err}
				return
			}
			if held != nil {
				if c := translator.Chunk(chunkID, &held.Output, opts); c != nil {
					if !sentRole {
						c.Choices[0].Delta.Role = "assistant"
						sentRole = true
					}
					events <- StreamEvent{Chunk: c}
				}
			}
			held = &ev
		}
		if held == nil {
			return
		}

		run.Output = held.Output.Content
		run.ToolCallRequests = held.Output.ToolCalls
		run.Provider = held.Provider
		run.DurationSeconds = time.Since(start).Seconds()
		if held.Output.Usage != nil {
			run.Usage = *held.Output.Usage
		}
		s.finalize(ctx, r, run)

		terminal := translator.TerminalChunk(run, s.responseOptions(r, run), false)
		if !sentRole {
			terminal.Choices[0].Delta.Role = "assistant"
		}
		events <- StreamEvent{Chunk: terminal}
	}()
	return events, nil
}

// dispatchMessages prepends the deployment's version-level template to the
// caller history.
func (s *CompletionService) dispatchMessages(r *resolvedRequest) []domain.Message {
	if len(r.template) == 0 {
		return r.messages
	}
	out := make([]domain.Message, 0, len(r.template)+len(r.messages))
	out = append(out, r.template...)
	return append(out, r.messages...)
}

// cacheKey identifies a run output by its full input chain, so identical
// requests under the same version hit the same entry.
func (s *CompletionService) cacheKey(r *resolvedRequest) string {
	_, hashes := conversation.ComputeChain(s.chainSeed(r), r.messages)
	return fmt.Sprintf("%d:cache:%s", r.agentUID, conversation.AggregateHashes(hashes))
}

// cacheEnabled applies the use_cache policy: "always" forces a lookup,
// "never" disables it, and the default only caches deterministic calls
// (temperature zero, no tools).
func (s *CompletionService) cacheEnabled(r *resolvedRequest) bool {
	switch r.useCache {
	case "always":
		return true
	case "auto", "":
		return r.opts.Temperature != nil && *r.opts.Temperature == 0 && len(r.opts.Tools) == 0
	default:
		return false
	}
}

func (s *CompletionService) cacheLookup(ctx context.Context, r *resolvedRequest) *domain.Run {
	if s.kv == nil || !s.cacheEnabled(r) {
		return nil
	}
	runID, err := s.kv.Get(ctx, s.cacheKey(r))
	if err != nil || runID == "" {
		return nil
	}
	run, err := s.runs.GetRun(ctx, r.agentID, runID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("cached run lookup failed", "run_id", runID, "error", err)
		}
		return nil
	}
	run.FromCache = true
	return run
}

func (s *CompletionService) cacheStore(ctx context.Context, r *resolvedRequest, run *domain.Run) {
	if s.kv == nil || run.Err != nil || !s.cacheEnabled(r) {
		return
	}
	if err := s.kv.Set(ctx, s.cacheKey(r), run.ID, s.cacheTTL); err != nil {
		s.log.Warn("failed to store run cache entry", "run_id", run.ID, "error", err)
	}
}
