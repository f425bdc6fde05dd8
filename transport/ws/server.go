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

// Package ws is the Transport Adapter: it owns the /ws/tokens endpoint
// that accepts a start-generation request, drives a Speculator run, and
// relays its event sequence to the client as JSON frames (spec §4, §6).
// It also exposes two small diagnostic HTTP endpoints supplementing the
// original backend's /api/health and /api/test-draft.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/speculatoviz/speculator/collaborator/draft"
	"github.com/speculatoviz/speculator/events"
	"github.com/speculatoviz/speculator/session/store"
	"github.com/speculatoviz/speculator/speculator"
	"github.com/speculatoviz/speculator/telemetry"
)

// startRequest mirrors the original StartGenerationRequest: any unset
// field falls back to the Server's configured default.
type startRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	K           *int     `json:"k"`
}

// Defaults holds the config-layer fallbacks a start request may omit.
type Defaults struct {
	MaxTokens   int
	Temperature float64
	K           int
}

func (d Defaults) resolve(req startRequest) speculator.Request {
	r := speculator.Request{Prompt: req.Prompt, MaxTokens: d.MaxTokens, Temperature: d.Temperature, K: d.K}
	if req.MaxTokens != nil {
		r.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		r.Temperature = *req.Temperature
	}
	if req.K != nil {
		r.K = *req.K
	}
	return r
}

// Server wires the Speculator to a WebSocket transport and a handful of
// HTTP diagnostic endpoints.
type Server struct {
	spec     *speculator.Speculator
	draft    draft.Collaborator
	defaults Defaults
	store    store.Store
	metrics  *telemetry.PromMetrics
	logger   *slog.Logger

	upgrader    websocket.Upgrader
	draftModel  string
	targetModel string
}

// Config configures a Server.
type Config struct {
	Speculator  *speculator.Speculator
	Draft       draft.Collaborator
	Defaults    Defaults
	Store       store.Store
	Logger      *slog.Logger
	DraftModel  string
	TargetModel string
	// Metrics is optional: when set, every session's rounds and token
	// counts are also reflected in the process-wide Prometheus gauges.
	Metrics *telemetry.PromMetrics
	// CORSOrigins allows the browser-hosted visualisation client to talk
	// to the API from a different origin during development.
	CORSOrigins []string
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := cfg.Store
	if st == nil {
		st = store.NewInMemory()
	}
	return &Server{
		spec:        cfg.Speculator,
		draft:       cfg.Draft,
		defaults:    cfg.Defaults,
		store:       st,
		metrics:     cfg.Metrics,
		logger:      logger,
		draftModel:  cfg.DraftModel,
		targetModel: cfg.TargetModel,
		upgrader: websocket.Upgrader{
			CheckOrigin: corsChecker(cfg.CORSOrigins),
		},
	}
}

// corsChecker returns a websocket.Upgrader.CheckOrigin matching the
// configured origin allow-list, or an always-allow check when the list
// is empty or contains "*" (the spec's CORS_ORIGINS default).
func corsChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool { return set[r.Header.Get("Origin")] }
}

// Routes registers the Server's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/tokens", s.handleTokens)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/draft-check", s.handleDraftCheck)
}

// handleHealth supplements the original's GET /api/health with the
// canonical Go health-check path.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"draft_model":  s.draftModel,
		"target_model": s.targetModel,
		"draft_loaded": s.draft != nil,
	})
}

// handleDraftCheck supplements the original's GET /api/test-draft: a
// diagnostic endpoint confirming the draft collaborator can produce
// tokens at all, independent of any target connectivity.
func (s *Server) handleDraftCheck(w http.ResponseWriter, r *http.Request) {
	if s.draft == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "draft model not loaded"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	contextIDs := s.draft.ApplyChatTemplate("Say hello.")
	tokens, err := s.draft.Generate(ctx, contextIDs, 3, 0.7)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	out := make([]map[string]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, map[string]any{"token": t.Text, "logprob": t.Logprob, "entropy": t.Entropy})
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tokens": out})
}

// handleTokens upgrades to a WebSocket and serves start-generation
// requests in a loop until the client disconnects, mirroring the
// original's single persistent-connection, multi-request shape.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	for {
		var req startRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.logger.Info("websocket client disconnected", "error", err)
			return
		}

		sessionID := uuid.NewString()
		genReq := s.defaults.resolve(req)
		s.logger.Info("generation request", "session_id", sessionID, "k", genReq.K,
			"temperature", genReq.Temperature, "max_tokens", genReq.MaxTokens)

		if !s.runSession(r.Context(), conn, sessionID, genReq) {
			return
		}
	}
}

// runSession drives one generation run to completion, relaying every
// event to conn. It returns false when the connection has died and the
// outer loop must stop reading further requests.
func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, sessionID string, req speculator.Request) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	alive := true
	lastTotalTokens := 0
	roundStart := time.Now()
	for event := range s.spec.Generate(runCtx, req) {
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Info("client disconnected during generation, stopping", "session_id", sessionID, "error", err)
			alive = false
			cancel()
			break
		}
		switch e := event.(type) {
		case events.MetricsEvent:
			if s.metrics != nil {
				roundDurationMs := float64(time.Since(roundStart)) / float64(time.Millisecond)
				s.metrics.ObserveMetricsEvent(e.RoundAccepted, e.RoundTotal, e.AcceptanceRate, e.Speedup, roundDurationMs)
				s.metrics.ObserveTokensCommitted(e.TotalTokensGenerated - lastTotalTokens)
			}
			lastTotalTokens = e.TotalTokensGenerated
			roundStart = time.Now()
		case events.DoneEvent:
			s.recordSummary(ctx, sessionID, req.Prompt, e)
		}
	}
	return alive
}

func (s *Server) recordSummary(ctx context.Context, sessionID, prompt string, done events.DoneEvent) {
	summary := store.Summary{
		SessionID:           sessionID,
		Prompt:              prompt,
		TotalTokens:         done.TotalTokens,
		TotalRounds:         done.TotalRounds,
		FinalAcceptanceRate: done.FinalAcceptanceRate,
		AverageSpeedup:      done.AverageSpeedup,
		GeneratedText:       done.GeneratedText,
		CompletedAt:         time.Now(),
	}
	if err := s.store.Save(ctx, summary); err != nil {
		s.logger.Warn("failed to persist session summary", "session_id", sessionID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"failed to encode response: %s"}`, err)
	}
}
