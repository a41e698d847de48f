// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/workflowai/gateway/pkg/adapters/http"
	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/config"
	"github.com/workflowai/gateway/pkg/core/conversation"
	"github.com/workflowai/gateway/pkg/core/engine"
	"github.com/workflowai/gateway/pkg/core/services"
	"github.com/workflowai/gateway/pkg/core/translator"
	"github.com/workflowai/gateway/pkg/observability/logging"
	"github.com/workflowai/gateway/pkg/observability/metrics"
	"github.com/workflowai/gateway/pkg/providers"
	"github.com/workflowai/gateway/pkg/storage"
	"github.com/workflowai/gateway/pkg/storage/memory"
	"github.com/workflowai/gateway/pkg/storage/postgres"
	"github.com/workflowai/gateway/pkg/storage/sqlite"
)

var (
	// Version is set via ldflags during build
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	port := flag.Int("port", 8080, "HTTP port to listen on")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("WorkflowAI Gateway\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "json",
	})
	logger.Info("Starting WorkflowAI Gateway",
		"version", Version,
		"build_time", BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		// A missing config file is fine; env vars still apply.
		logger.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}
	if *port != 8080 {
		cfg.Server.Port = *port
	}

	registry := providers.NewRegistry()
	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAI(providers.Config{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		}))
	}
	if cfg.Providers.Groq.APIKey != "" {
		registry.Register(providers.NewGroq(providers.Config{
			APIKey:  cfg.Providers.Groq.APIKey,
			BaseURL: cfg.Providers.Groq.BaseURL,
		}))
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(providers.NewAnthropic(providers.Config{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		}))
	}
	if len(registry.Names()) == 0 {
		logger.Error("No providers configured, set OPENAI_API_KEY, GROQ_API_KEY or ANTHROPIC_API_KEY")
		os.Exit(1)
	}
	logger.Info("Initialized providers", "providers", registry.Names())

	// Run storage and the conversation key-value store share one backend.
	var (
		runs storage.RunStore
		kv   conversation.KeyValueStore
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open sqlite storage", "error", err, "path", cfg.Storage.Path)
			os.Exit(1)
		}
		defer store.Close()
		runs, kv = store, store
		logger.Info("Initialized sqlite storage", "path", cfg.Storage.Path)
	case "postgres":
		store, err := postgres.New(cfg.Storage.DSN)
		if err != nil {
			logger.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		runs, kv = store, store
		logger.Info("Initialized postgres storage")
	default:
		runs = memory.NewRunStore()
		kv = memory.NewKVStore()
		logger.Info("Initialized in-memory storage")
	}

	m := metrics.New()
	cat := catalog.Default()
	eng := engine.New(registry, cat, logger, engine.Config{
		Client:     &http.Client{Timeout: cfg.Engine.Timeout},
		MaxRetries: cfg.Engine.MaxRetries,
		Metrics:    m,
	})

	var feedback *translator.FeedbackTokenGenerator
	if cfg.Feedback.Secret != "" {
		feedback = translator.NewFeedbackTokenGenerator([]byte(cfg.Feedback.Secret))
	}

	completions := services.NewCompletionService(services.CompletionConfig{
		Catalog:       cat,
		Registry:      registry,
		Engine:        eng,
		Runs:          runs,
		Conversations: conversation.NewResolver(kv, logger, cfg.Conversation.TTL),
		KV:            kv,
		Feedback:      feedback,
		Metrics:       m,
		Timeout:       cfg.Engine.Timeout,
		CacheTTL:      cfg.Conversation.TTL,
	}, logger)

	handler := httpAdapter.New(completions, services.NewModelsService(cat), m, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
