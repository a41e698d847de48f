// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks completion traffic, provider behavior and storage health.
// Each instance carries its own registry so tests can create as many as
// they need without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// CompletionCounter counts handled completions.
	// Labels: model, provider, status (success|error|cache_hit)
	CompletionCounter *prometheus.CounterVec

	// CompletionDuration measures end-to-end completion latency in seconds.
	// Labels: model, provider
	CompletionDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: model, provider, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ProviderErrorCounter counts classified provider failures.
	// Labels: provider, kind
	ProviderErrorCounter *prometheus.CounterVec

	// ProviderFallbackCounter counts moves to the next provider in a chain.
	// Labels: from_provider, to_provider
	ProviderFallbackCounter *prometheus.CounterVec

	// StreamChunkCounter counts emitted stream chunks.
	// Labels: model
	StreamChunkCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// StorageOpDuration measures run and conversation store latency.
	// Labels: backend, operation
	StorageOpDuration *prometheus.HistogramVec
}

// New creates and registers all gateway metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CompletionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_completions_total",
				Help: "Total number of completions by model, provider and status",
			},
			[]string{"model", "provider", "status"},
		),

		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_completion_duration_seconds",
				Help:    "End-to-end completion latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model", "provider"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Total number of tokens by model, provider and type",
			},
			[]string{"model", "provider", "type"},
		),

		ProviderErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_errors_total",
				Help: "Total number of classified provider failures",
			},
			[]string{"provider", "kind"},
		),

		ProviderFallbackCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_fallbacks_total",
				Help: "Total number of fallbacks to the next provider",
			},
			[]string{"from_provider", "to_provider"},
		),

		StreamChunkCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_stream_chunks_total",
				Help: "Total number of emitted stream chunks",
			},
			[]string{"model"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		StorageOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_storage_op_duration_seconds",
				Help:    "Duration of storage operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"backend", "operation"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCompletion records one handled completion.
func (m *Metrics) RecordCompletion(model, provider, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.CompletionCounter.WithLabelValues(model, provider, status).Inc()
	m.CompletionDuration.WithLabelValues(model, provider).Observe(durationSeconds)
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(model, provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(model, provider, "completion").Add(float64(completionTokens))
	}
}

// RecordProviderError records one classified provider failure.
func (m *Metrics) RecordProviderError(provider, kind string) {
	m.ProviderErrorCounter.WithLabelValues(provider, kind).Inc()
}

// RecordFallback records a move to the next provider in a fallback chain.
func (m *Metrics) RecordFallback(from, to string) {
	m.ProviderFallbackCounter.WithLabelValues(from, to).Inc()
}

// RecordStreamChunk counts one emitted stream chunk.
func (m *Metrics) RecordStreamChunk(model string) {
	m.StreamChunkCounter.WithLabelValues(model).Inc()
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordStorageOp records one storage operation.
func (m *Metrics) RecordStorageOp(backend, operation string, durationSeconds float64) {
	m.StorageOpDuration.WithLabelValues(backend, operation).Observe(durationSeconds)
}
