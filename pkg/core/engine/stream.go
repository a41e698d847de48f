// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"context"
	"strings"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/providers"
)

// Event is one streamed engine outcome. Err is terminal: no further events
// follow it.
type Event struct {
	Output   domain.StructuredOutput
	Provider string
	Err      error
}

// Stream executes a streaming completion. Provider fallback applies until
// the first output event has been emitted; after that, failures propagate
// to the caller since partial output may already have been seen.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		chain, err := e.chain(req)
		if err != nil {
			events <- Event{Err: err}
			return
		}

		var lastErr error
		for i, p := range chain {
			emitted, err := e.streamOne(ctx, p, req, events)
			if err == nil {
				return
			}
			lastErr = err
			e.recordError(p.Name(), err)
			if emitted || !shouldTryNextProvider(err) || i == len(chain)-1 {
				break
			}
			e.log.Warn("provider stream failed before first chunk, trying next",
				"provider", p.Name(), "next", chain[i+1].Name(), "model", req.Model, "error", err)
			if e.metrics != nil {
				e.metrics.RecordFallback(p.Name(), chain[i+1].Name())
			}
		}
		events <- Event{Err: lastErr}
	}()

	return events
}

// streamOne runs one provider's stream to completion, reporting whether any
// output event was emitted before a failure.
func (e *Engine) streamOne(ctx context.Context, p providers.Provider, req Request, events chan<- Event) (bool, error) {
	opts := req.Options
	opts.Model = req.Model

	resp, err := e.do(ctx, p, req.Messages, opts, true)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	sc := newStreamingContext(opts.StreamDeltas, opts.JSONMode())
	emitted := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		delta, err := p.ExtractStreamDelta([]byte(data), sc.buffers)
		if err != nil {
			return emitted, err
		}
		out, emit := sc.apply(delta)
		if !emit {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordStreamChunk(req.Model)
		}
		select {
		case events <- Event{Output: out, Provider: p.Name()}:
			emitted = true
		case <-ctx.Done():
			return emitted, providers.WrapError(providers.ErrTimeout, p.Name(), ctx.Err(), "request canceled")
		}
	}
	if err := scanner.Err(); err != nil {
		return emitted, providers.WrapError(providers.ErrProviderUnavailable, p.Name(), err, "stream read failed")
	}

	final := sc.final()
	if final.Content == "" && len(final.ToolCalls) == 0 {
		return emitted, providers.NewError(providers.ErrInvalidGeneration, p.Name(),
			"model returned an empty response")
	}
	if final.Usage == nil {
		final.Usage = estimateUsage(req.Model, req.Messages, final.Content)
	}
	// The terminal event always carries the full aggregate, even in delta
	// mode, so callers can build the final response without replaying.
	select {
	case events <- Event{Output: final, Provider: p.Name()}:
	case <-ctx.Done():
		return emitted, providers.WrapError(providers.ErrTimeout, p.Name(), ctx.Err(), "request canceled")
	}
	return true, nil
}

// streamingContext aggregates one provider stream: the running content, the
// reasoning trace, reassembled tool calls and the last reported usage. For
// schema-constrained runs it additionally maintains the aggregate output
// object, built by patching the reparsed partial JSON in by keypath.
type streamingContext struct {
	content      strings.Builder
	reasoning    strings.Builder
	object       map[string]any
	buffers      map[int]*providers.ToolCallBuffer
	toolCalls    []domain.ToolCallRequest
	seenCalls    map[string]bool
	usage        *domain.Usage
	finish       string
	streamDeltas bool
	jsonMode     bool
}

func newStreamingContext(streamDeltas, jsonMode bool) *streamingContext {
	return &streamingContext{
		buffers:      make(map[int]*providers.ToolCallBuffer),
		seenCalls:    make(map[string]bool),
		streamDeltas: streamDeltas,
		jsonMode:     jsonMode,
	}
}

// patchObject reparses the accumulated JSON text and folds the differences
// into the aggregate object as keypath patches. It reports whether any patch
// applied.
func (s *streamingContext) patchObject() bool {
	parsed, ok := parsePartialObject(s.content.String())
	if !ok {
		return false
	}
	patches := diffPatches(s.object, parsed)
	if len(patches) == 0 {
		return false
	}
	if s.object == nil {
		s.object = map[string]any{}
	}
	for _, p := range patches {
		applyPatch(s.object, p)
	}
	return true
}

// apply folds one provider delta into the aggregate and returns the output
// event to emit, if any. Usage-only and bookkeeping deltas do not emit.
func (s *streamingContext) apply(d providers.StreamDelta) (domain.StructuredOutput, bool) {
	if d.Usage != nil {
		s.usage = d.Usage
	}
	if d.FinishReason != "" {
		s.finish = d.FinishReason
	}
	s.content.WriteString(d.Content)
	s.reasoning.WriteString(d.Reasoning)

	structural := false
	if s.jsonMode && d.Content != "" {
		structural = s.patchObject()
	}

	var newCalls []domain.ToolCallRequest
	for _, tc := range d.ToolCalls {
		// A completed buffer can surface on several events; keep the first.
		if s.seenCalls[tc.ID] {
			continue
		}
		s.seenCalls[tc.ID] = true
		s.toolCalls = append(s.toolCalls, tc)
		newCalls = append(newCalls, tc)
	}

	contentChanged := d.Content != ""
	if s.jsonMode && !s.streamDeltas {
		// Aggregated structured streams only yield when a patch landed; raw
		// delta mode still yields on every non-empty fragment.
		contentChanged = structural
	}
	if !contentChanged && d.Reasoning == "" && len(newCalls) == 0 {
		return domain.StructuredOutput{}, false
	}

	// Partial outputs always carry the delta; the aggregate rides along
	// unless the caller asked for raw deltas only.
	out := domain.StructuredOutput{ToolCalls: newCalls, Delta: d.Content}
	if !s.streamDeltas {
		out.Content = s.content.String()
	}
	if s.object != nil {
		out.Object = cloneValue(s.object).(map[string]any)
	}
	if d.Reasoning != "" {
		out.ReasoningSteps = []domain.ReasoningStep{{Explanation: d.Reasoning}}
	}
	return out, true
}

// final builds the terminal aggregated snapshot.
func (s *streamingContext) final() domain.StructuredOutput {
	if s.jsonMode {
		// The text is complete here, so the last reparse settles any
		// fragment a cutback dropped mid stream.
		s.patchObject()
	}
	out := domain.StructuredOutput{
		Content:   s.content.String(),
		ToolCalls: s.toolCalls,
		Usage:     s.usage,
		Object:    s.object,
	}
	if s.reasoning.Len() > 0 {
		out.ReasoningSteps = []domain.ReasoningStep{{Explanation: s.reasoning.String()}}
	}
	return out
}
