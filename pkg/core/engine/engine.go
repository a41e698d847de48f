// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes completions against upstream providers. It owns
// the provider fallback chain, local retries, response normalization and
// the streaming read loop.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"gopkg.in/cenkalti/backoff.v1"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/observability/metrics"
	"github.com/workflowai/gateway/pkg/providers"
)

const (
	defaultTimeout    = 180 * time.Second
	defaultMaxRetries = 1
)

// Request is one resolved completion to execute. The model is a catalog id;
// translation and reference resolution happen before the engine is invoked.
type Request struct {
	Model    string
	Messages []domain.Message
	Options  providers.Options

	// Provider pins the request to a single provider, skipping fallback.
	Provider string

	// UseFallback disables the provider chain when set to false.
	UseFallback *bool
}

// Result is a terminal completion outcome.
type Result struct {
	Output   domain.StructuredOutput
	Provider string
	Duration time.Duration
}

// Config tunes the engine. The zero value is usable.
type Config struct {
	Client     *http.Client
	MaxRetries int
	Metrics    *metrics.Metrics
}

// Engine executes completions with retry and provider fallback.
type Engine struct {
	registry   *providers.Registry
	catalog    *catalog.Catalog
	client     *http.Client
	log        *logging.Logger
	metrics    *metrics.Metrics
	maxRetries int
}

// New creates an engine.
func New(reg *providers.Registry, cat *catalog.Catalog, log *logging.Logger, cfg Config) *Engine {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Engine{
		registry:   reg,
		catalog:    cat,
		client:     client,
		log:        log,
		metrics:    cfg.Metrics,
		maxRetries: retries,
	}
}

// chain resolves the ordered providers to attempt for a request.
func (e *Engine) chain(req Request) ([]providers.Provider, error) {
	if req.Provider != "" {
		p, err := e.registry.Require(req.Provider)
		if err != nil {
			return nil, err
		}
		return []providers.Provider{p}, nil
	}
	info, ok := e.catalog.Get(req.Model)
	if !ok {
		return nil, providers.NewError(providers.ErrMissingModel, "", "model %q is not in the catalog", req.Model)
	}
	chain, err := e.registry.ForModel(info.Providers)
	if err != nil {
		return nil, providers.WrapError(providers.ErrInvalidProviderConfig, "", err, err.Error())
	}
	if req.UseFallback != nil && !*req.UseFallback {
		chain = chain[:1]
	}
	return chain, nil
}

// Complete executes a non-streaming completion, walking the provider chain
// until one succeeds or a terminal error is hit.
func (e *Engine) Complete(ctx context.Context, req Request) (*Result, error) {
	chain, err := e.chain(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	for i, p := range chain {
		out, err := e.completeWithRetry(ctx, p, req)
		if err == nil {
			return &Result{Output: *out, Provider: p.Name(), Duration: time.Since(start)}, nil
		}
		lastErr = err
		e.recordError(p.Name(), err)
		if !shouldTryNextProvider(err) || i == len(chain)-1 {
			break
		}
		e.log.Warn("provider failed, trying next",
			"provider", p.Name(), "next", chain[i+1].Name(), "model", req.Model, "error", err)
		if e.metrics != nil {
			e.metrics.RecordFallback(p.Name(), chain[i+1].Name())
		}
	}
	return nil, lastErr
}

// completeWithRetry retries one provider locally on retryable failures with
// exponential backoff.
func (e *Engine) completeWithRetry(ctx context.Context, p providers.Provider, req Request) (*domain.StructuredOutput, error) {
	bo := newBackoff(ctx)
	attempts := 0
	for {
		out, err := e.completeOnce(ctx, p, req)
		if err == nil {
			return out, nil
		}
		attempts++
		if attempts > e.maxRetries || !isRetryable(err) {
			return nil, err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		e.log.Debug("retrying provider call",
			"provider", p.Name(), "model", req.Model, "attempt", attempts, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, providers.WrapError(providers.ErrTimeout, p.Name(), ctx.Err(), "request canceled")
		}
	}
}

func newBackoff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(bo, ctx)
}

func (e *Engine) completeOnce(ctx context.Context, p providers.Provider, req Request) (*domain.StructuredOutput, error) {
	opts := req.Options
	opts.Model = req.Model

	raw, err := e.do(ctx, p, req.Messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer raw.Body.Close()

	body, err := io.ReadAll(raw.Body)
	if err != nil {
		return nil, providers.WrapError(providers.ErrProviderUnavailable, p.Name(), err, "failed to read response body")
	}
	parsed, err := p.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	// A syntactically valid response that carries nothing is a model
	// failure, not contract drift; it is worth retrying.
	if parsed.Content == "" && len(parsed.ToolCalls) == 0 && len(parsed.Files) == 0 {
		return nil, providers.NewError(providers.ErrInvalidGeneration, p.Name(),
			"model returned an empty response")
	}

	usage := parsed.Usage
	if usage == nil {
		usage = estimateUsage(req.Model, req.Messages, parsed.Content)
	}
	return &domain.StructuredOutput{
		Content:        parsed.Content,
		ReasoningSteps: parsed.ReasoningSteps,
		ToolCalls:      parsed.ToolCalls,
		Files:          parsed.Files,
		Usage:          usage,
	}, nil
}

// do builds, sends and status-checks one provider HTTP call. The returned
// response body is open on success.
func (e *Engine) do(ctx context.Context, p providers.Provider, messages []domain.Message, opts providers.Options, stream bool) (*http.Response, error) {
	reqBody, err := p.BuildRequest(messages, opts, stream)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, providers.WrapError(providers.ErrUnknown, p.Name(), err, "failed to marshal request body")
	}
	headers, err := p.RequestHeaders(ctx, opts.Model)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.RequestURL(opts.Model, stream), bytes.NewReader(payload))
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, providers.WrapError(providers.ErrUnknown, p.Name(), err, "failed to create request")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, providers.WrapError(providers.ErrTimeout, p.Name(), err, "provider call timed out")
		}
		if errors.Is(err, context.Canceled) {
			return nil, providers.WrapError(providers.ErrTimeout, p.Name(), err, "request canceled")
		}
		return nil, providers.WrapError(providers.ErrProviderUnavailable, p.Name(), err, "provider is unreachable")
	}
	if cancel != nil {
		// Tie the timeout to the body lifetime.
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, classify(p, resp.StatusCode, body)
	}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func classify(p providers.Provider, status int, body []byte) *providers.Error {
	if ec, ok := p.(providers.ErrorClassifier); ok {
		return ec.ClassifyError(status, body)
	}
	return providers.ClassifyHTTPStatus(p.Name(), status, string(body))
}

func (e *Engine) recordError(provider string, err error) {
	if e.metrics == nil {
		return
	}
	var perr *providers.Error
	if errors.As(err, &perr) {
		e.metrics.RecordProviderError(provider, string(perr.Kind))
		return
	}
	e.metrics.RecordProviderError(provider, string(providers.ErrUnknown))
}

func isRetryable(err error) bool {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

func shouldTryNextProvider(err error) bool {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return perr.ShouldTryNextProvider()
	}
	return false
}

// CostUSD prices a completion's usage against the catalog.
func (e *Engine) CostUSD(model string, usage domain.Usage) float64 {
	return e.catalog.CostUSD(model, usage)
}
