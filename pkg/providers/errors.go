// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure. Each kind maps to exactly one
// retry/fallback/capture policy; the mapping is exhaustive and drives the
// fallback orchestrator.
type ErrorKind string

const (
	// Transient provider conditions: not retried locally, eligible for the
	// next provider.
	ErrRateLimit               ErrorKind = "rate_limit"
	ErrTimeout                 ErrorKind = "timeout"
	ErrServerOverloaded        ErrorKind = "server_overloaded"
	ErrProviderUnavailable     ErrorKind = "provider_unavailable"
	ErrProviderInternal        ErrorKind = "provider_internal_error"
	ErrModelDoesNotSupportMode ErrorKind = "model_does_not_support_mode"

	// Generation defects: retried locally on the same provider/model.
	ErrFailedGeneration  ErrorKind = "failed_generation"
	ErrInvalidGeneration ErrorKind = "invalid_generation"
	ErrMaxTokensExceeded ErrorKind = "max_tokens_exceeded"

	// Configuration or integration defects: captured and eligible for the
	// next provider.
	ErrInvalidProviderConfig ErrorKind = "invalid_provider_config"
	ErrMissingModel          ErrorKind = "missing_model"
	ErrUnknown               ErrorKind = "unknown_provider_error"

	// Terminal request errors, surfaced to the caller as 4xx.
	ErrTaskBanned           ErrorKind = "task_banned"
	ErrStructuredGeneration ErrorKind = "structured_generation_error"
	ErrContentModeration    ErrorKind = "content_moderation"
	ErrBadRequest           ErrorKind = "bad_request"
)

// Policy is the (retry, should_try_next_provider, capture) tuple attached to
// an error kind, plus the status code surfaced to the caller.
type Policy struct {
	Retry           bool
	TryNextProvider bool
	Capture         bool
	StatusCode      int
}

var policies = map[ErrorKind]Policy{
	ErrRateLimit:               {TryNextProvider: true, StatusCode: http.StatusTooManyRequests},
	ErrTimeout:                 {TryNextProvider: true, StatusCode: http.StatusRequestTimeout},
	ErrServerOverloaded:        {TryNextProvider: true, StatusCode: http.StatusFailedDependency},
	ErrProviderUnavailable:     {TryNextProvider: true, StatusCode: http.StatusFailedDependency},
	ErrProviderInternal:        {TryNextProvider: true, StatusCode: http.StatusFailedDependency},
	ErrModelDoesNotSupportMode: {TryNextProvider: true, StatusCode: http.StatusBadRequest},

	ErrFailedGeneration:  {Retry: true, StatusCode: http.StatusBadRequest},
	ErrInvalidGeneration: {Retry: true, StatusCode: http.StatusBadRequest},
	ErrMaxTokensExceeded: {Retry: true, StatusCode: http.StatusRequestEntityTooLarge},

	ErrInvalidProviderConfig: {TryNextProvider: true, Capture: true, StatusCode: http.StatusBadRequest},
	ErrMissingModel:          {TryNextProvider: true, Capture: true, StatusCode: http.StatusBadRequest},
	ErrUnknown:               {TryNextProvider: true, Capture: true, StatusCode: http.StatusBadRequest},

	ErrTaskBanned:           {Capture: true, StatusCode: http.StatusBadRequest},
	ErrStructuredGeneration: {Capture: true, StatusCode: http.StatusBadRequest},
	ErrContentModeration:    {StatusCode: http.StatusBadRequest},
	ErrBadRequest:           {StatusCode: http.StatusBadRequest},
}

// PolicyFor returns the policy tuple for a kind. Unknown kinds fall back to
// the unknown-provider-error policy.
func PolicyFor(kind ErrorKind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return policies[ErrUnknown]
}

// Kinds lists every defined error kind, for exhaustiveness checks.
func Kinds() []ErrorKind {
	out := make([]ErrorKind, 0, len(policies))
	for k := range policies {
		out = append(out, k)
	}
	return out
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Message  string
	Provider string
	Model    string

	// ProviderStatusCode and ProviderBody record the raw upstream response
	// when one was received.
	ProviderStatusCode int
	ProviderBody       string

	// Fingerprint overrides the default grouping key.
	Fingerprint []string

	// retryOverride forces the retry flag regardless of the kind's policy.
	retryOverride *bool

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString("(" + e.Provider + ")")
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the failure should be retried locally on the
// same provider and model.
func (e *Error) Retryable() bool {
	if e.retryOverride != nil {
		return *e.retryOverride
	}
	return PolicyFor(e.Kind).Retry
}

// ShouldTryNextProvider reports whether the fallback orchestrator should
// move to the next configured provider.
func (e *Error) ShouldTryNextProvider() bool {
	return PolicyFor(e.Kind).TryNextProvider
}

// Capture reports whether the failure should be captured for observability.
func (e *Error) Capture() bool {
	return PolicyFor(e.Kind).Capture
}

// StatusCode is the HTTP status surfaced to the caller.
func (e *Error) StatusCode() int {
	return PolicyFor(e.Kind).StatusCode
}

// FingerprintKey groups repeated occurrences in monitoring. Ambiguous kinds
// include the message so distinct upstream failures do not collapse into one
// group.
func (e *Error) FingerprintKey() string {
	if len(e.Fingerprint) > 0 {
		return strings.Join(e.Fingerprint, ":")
	}
	parts := []string{string(e.Kind), e.Provider}
	if e.Kind == ErrUnknown || e.Kind == ErrBadRequest {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, ":")
}

// WithRetry overrides the kind's default retry flag.
func (e *Error) WithRetry(retry bool) *Error {
	e.retryOverride = &retry
	return e
}

// NewError builds a classified provider error.
func NewError(kind ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a classified provider error around a cause.
func WrapError(kind ErrorKind, provider string, cause error, msg string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: msg, cause: cause}
}

// ClassifyHTTPStatus maps an upstream error response to an error kind. The
// body is kept for observability; providers with richer error payloads
// refine the result before returning it.
func ClassifyHTTPStatus(provider string, status int, body string) *Error {
	var kind ErrorKind
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = ErrTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrInvalidProviderConfig
	case status == http.StatusNotFound:
		kind = ErrMissingModel
	case status == http.StatusRequestEntityTooLarge:
		kind = ErrMaxTokensExceeded
	case status == http.StatusServiceUnavailable:
		kind = ErrProviderUnavailable
	case status == 529: // Anthropic "overloaded_error"
		kind = ErrServerOverloaded
	case status >= 500:
		kind = ErrProviderInternal
	case status >= 400:
		kind = ErrUnknown
	default:
		kind = ErrUnknown
	}
	return &Error{
		Kind:               kind,
		Provider:           provider,
		Message:            fmt.Sprintf("provider returned status %d", status),
		ProviderStatusCode: status,
		ProviderBody:       body,
	}
}
