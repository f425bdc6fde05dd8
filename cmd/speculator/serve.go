// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/speculatoviz/speculator/collaborator/draft"
	"github.com/speculatoviz/speculator/collaborator/target"
	"github.com/speculatoviz/speculator/config"
	"github.com/speculatoviz/speculator/session/store"
	"github.com/speculatoviz/speculator/speculator"
	"github.com/speculatoviz/speculator/telemetry"
	"github.com/speculatoviz/speculator/transport/ws"
)

// AddServeCommand attaches "serve" to rootCmd.
func AddServeCommand(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket/HTTP server",
		Long: `serve loads settings from the environment, wires the draft and
target collaborators to a Speculator, and exposes /ws/tokens,
/healthz, /api/draft-check, and /metrics until interrupted.`,
		RunE: runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.OTELEndpoint, "speculatoviz")
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	promMetrics := telemetry.NewPromMetrics(registry)

	sessionStore, closeStore, err := buildSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	// The reference collaborator stands in for the real local model
	// backend (spec §1 Non-goal: no MLX/GGUF inference engine shipped
	// here); cfg.DraftModel is only reported by /healthz.
	draftCollaborator := draft.NewReference()
	targetCollaborator := target.New(target.Config{
		BaseURL: cfg.CerebrasBaseURL,
		APIKey:  cfg.CerebrasAPIKey,
		Model:   cfg.CerebrasTargetModel,
	})

	spec := speculator.New(speculator.Config{
		Draft:        draftCollaborator,
		Target:       targetCollaborator,
		EOSTokens:    cfg.EOSTokens,
		DraftPacing:  cfg.DraftPacing,
		VerifyPacing: cfg.VerifyPacing,
		WindowSize:   cfg.WindowSize,
		Logger:       logger,
		Tracer:       tracerProvider.Tracer("speculator"),
	})

	server := ws.NewServer(ws.Config{
		Speculator: spec,
		Draft:      draftCollaborator,
		Defaults: ws.Defaults{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			K:           cfg.SpeculationK,
		},
		Store:       sessionStore,
		Logger:      logger,
		DraftModel:  cfg.DraftModel,
		TargetModel: cfg.CerebrasTargetModel,
		Metrics:     promMetrics,
		CORSOrigins: cfg.CORSOrigins,
	})

	mux := http.NewServeMux()
	server.Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// buildSessionStore returns a Redis-backed store when REDIS_ADDR is set,
// falling back to an in-memory one otherwise, plus a close func (nil for
// the in-memory case).
func buildSessionStore(cfg config.Settings, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return store.NewInMemory(), nil, nil
	}
	redisStore, err := store.NewRedisStore(store.RedisConfig{Addr: cfg.RedisAddr})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect session store: %w", err)
	}
	logger.Info("session summaries persisted to Redis", "addr", cfg.RedisAddr)
	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}, nil
}
