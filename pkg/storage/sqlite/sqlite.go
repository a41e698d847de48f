// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides file-backed storage for single node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/storage"
)

// Store is a SQLite-backed run store and key-value store. The dsn is a file
// path, or ":memory:" for tests.
type Store struct {
	db *sql.DB
}

// New opens or creates the database.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// The sqlite driver does not tolerate concurrent writers on one file.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			schema_id INTEGER NOT NULL DEFAULT 0,
			conversation_id TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL DEFAULT '[]',
			output TEXT NOT NULL DEFAULT '',
			tool_call_requests TEXT NOT NULL DEFAULT '[]',
			model TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			from_cache INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_agent_created ON runs(agent_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite create tables: %w", err)
		}
	}
	return nil
}

// --- RunStore ---

func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	toolCalls, err := json.Marshal(run.ToolCallRequests)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	errText := ""
	if run.Err != nil {
		errText = run.Err.Error()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (id, agent_id, schema_id, conversation_id, input, output, tool_call_requests,
		  model, provider, prompt_tokens, completion_tokens, cost_usd, duration_seconds,
		  metadata, from_cache, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, run.SchemaID, run.ConversationID, string(input), run.Output,
		string(toolCalls), run.Model, run.Provider, run.Usage.PromptTokens,
		run.Usage.CompletionTokens, run.CostUSD, run.DurationSeconds, string(metadata),
		boolToInt(run.FromCache), errText, run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

const runColumns = `id, agent_id, schema_id, conversation_id, input, output, tool_call_requests,
	model, provider, prompt_tokens, completion_tokens, cost_usd, duration_seconds,
	metadata, from_cache, error, created_at`

func (s *Store) GetRun(ctx context.Context, agentID, runID string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	args := []any{runID}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return run, err
}

func (s *Store) ListRuns(ctx context.Context, agentID string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

func (s *Store) ListConversationRuns(ctx context.Context, conversationID string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE conversation_id = ? ORDER BY created_at ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation runs: %w", err)
	}
	return collectRuns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run                        domain.Run
		input, toolCalls, metadata string
		fromCache                  int
		errText                    string
	)
	err := row.Scan(&run.ID, &run.AgentID, &run.SchemaID, &run.ConversationID, &input,
		&run.Output, &toolCalls, &run.Model, &run.Provider, &run.Usage.PromptTokens,
		&run.Usage.CompletionTokens, &run.CostUSD, &run.DurationSeconds, &metadata,
		&fromCache, &errText, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal([]byte(toolCalls), &run.ToolCallRequests); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	run.FromCache = fromCache != 0
	if errText != "" {
		run.Err = errors.New(errText)
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*domain.Run, error) {
	defer rows.Close()
	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- KeyValueStore ---

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var (
		value     string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kv get: %w", err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return "", nil
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *Store) Pop(ctx context.Context, key string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil || value == "" {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return "", fmt.Errorf("kv pop: %w", err)
	}
	return value, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE kv SET expires_at = ? WHERE key = ?`, time.Now().Add(ttl).UTC(), key)
	if err != nil {
		return fmt.Errorf("kv expire: %w", err)
	}
	return nil
}
