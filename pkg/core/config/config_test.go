// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage backend = %q", cfg.Storage.Backend)
	}
	if cfg.Engine.MaxRetries != 1 || cfg.Engine.Timeout != 120*time.Second {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Conversation.TTL != time.Hour {
		t.Errorf("conversation ttl = %v", cfg.Conversation.TTL)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
engine:
  max_retries: 3
providers:
  openai:
    api_key: file-key
storage:
  backend: sqlite
  path: /tmp/runs.db
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.Engine.MaxRetries)
	}
	if cfg.Providers.OpenAI.APIKey != "file-key" {
		t.Errorf("api key = %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/runs.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// Unset fields still get defaults.
	if cfg.Server.Host != "0.0.0.0" || cfg.Conversation.TTL != time.Hour {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("STORAGE_DSN", "postgres://localhost/gw")

	cfg := Default()
	if cfg.Providers.OpenAI.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Providers.OpenAI.APIKey)
	}
	// A DSN implies the postgres backend.
	if cfg.Storage.Backend != "postgres" || cfg.Storage.DSN != "postgres://localhost/gw" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}
