// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/storage"
)

// RunStore is an in-memory run store.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.Run // keyed by run id
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.Run)}
}

func (s *RunStore) SaveRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, agentID, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok || (agentID != "" && run.AgentID != agentID) {
		return nil, storage.ErrNotFound
	}
	out := *run
	return &out, nil
}

func (s *RunStore) ListRuns(ctx context.Context, agentID string, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Run
	for _, run := range s.runs {
		if run.AgentID != agentID {
			continue
		}
		r := *run
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RunStore) ListConversationRuns(ctx context.Context, conversationID string, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Run
	for _, run := range s.runs {
		if run.ConversationID != conversationID {
			continue
		}
		r := *run
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RunStore) Close() error { return nil }
