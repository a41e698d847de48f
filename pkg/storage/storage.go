// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence contracts served by the memory,
// sqlite and postgres backends.
package storage

import (
	"context"
	"errors"

	"github.com/workflowai/gateway/pkg/core/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunStore persists completed runs for retrieval and conversation replay.
type RunStore interface {
	// SaveRun stores a finalized run. Saving an existing id overwrites it.
	SaveRun(ctx context.Context, run *domain.Run) error

	GetRun(ctx context.Context, agentID, runID string) (*domain.Run, error)

	// ListRuns returns an agent's latest runs, newest first.
	ListRuns(ctx context.Context, agentID string, limit int) ([]*domain.Run, error)

	// ListConversationRuns returns a conversation's runs, oldest first.
	ListConversationRuns(ctx context.Context, conversationID string, limit int) ([]*domain.Run, error)

	Close() error
}
