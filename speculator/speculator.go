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

// Package speculator implements the round-based speculative-decoding
// orchestrator: draft K tokens locally, verify them in one remote call,
// run modified rejection sampling, commit surviving tokens, and stream a
// structured event sequence toward a visualisation client (spec §4.3).
package speculator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/speculatoviz/speculator/collaborator/draft"
	"github.com/speculatoviz/speculator/collaborator/target"
	"github.com/speculatoviz/speculator/errkind"
	"github.com/speculatoviz/speculator/events"
	"github.com/speculatoviz/speculator/metrics"
	"github.com/speculatoviz/speculator/sampling"
)

// defaultRand satisfies sampling.Rand with math/rand/v2's package-level
// generator, used unless a Config.Rand is injected (spec §9: tests drive
// acceptance/rejection via a seedable uniform source).
type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// GenerationState is the per-session state exclusively owned by one
// Speculator run (spec §3).
type GenerationState struct {
	// ContextIDs is the chat-template-applied prompt context. Set once at
	// the start of the run and never mutated afterwards.
	ContextIDs []int
	// GeneratedIDs is the append-only sequence of token IDs committed
	// since the run started.
	GeneratedIDs []int
	// GeneratedText is always decode(GeneratedIDs); it is never built by
	// concatenating emitted token strings (spec §9).
	GeneratedText string
	// Round is the 1-based round counter.
	Round int
	// Produced is the total number of tokens committed so far.
	Produced int
}

// fullContext returns ContextIDs ++ GeneratedIDs for the next draft call.
func (s *GenerationState) fullContext() []int {
	out := make([]int, 0, len(s.ContextIDs)+len(s.GeneratedIDs))
	out = append(out, s.ContextIDs...)
	out = append(out, s.GeneratedIDs...)
	return out
}

// Request is a single generation run's parameters (spec §6 start-request,
// post config-default resolution).
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	K           int
}

// Config wires a Speculator's collaborators and tunables.
type Config struct {
	Draft  draft.Collaborator
	Target target.Collaborator

	// EOSTokens are substrings of GeneratedText that terminate a run
	// once any of them appears (spec §6 default:
	// <|eot_id|>, <|end_of_text|>, </s>).
	EOSTokens []string

	// DraftPacing and VerifyPacing are the inter-event animation delays
	// (spec §4.3 recommends 50ms / 80ms for a live visualisation client).
	// New does not default these: zero means no pacing at all, which is
	// what headless/batch callers and tests want (spec §9). Production
	// callers (cmd/speculator's serve command) set them explicitly from
	// config.
	DraftPacing  time.Duration
	VerifyPacing time.Duration

	// WindowSize is the Metrics Tracker's rolling window size (default 50).
	WindowSize int

	// Rand is the uniform random source injected into the sampler.
	// Defaults to math/rand/v2's global generator.
	Rand sampling.Rand

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Speculator owns one generation run's round loop.
type Speculator struct {
	draft  draft.Collaborator
	target target.Collaborator

	eosTokens    []string
	draftPacing  time.Duration
	verifyPacing time.Duration
	windowSize   int
	rng          sampling.Rand

	logger *slog.Logger
	tracer trace.Tracer
}

// New builds a Speculator from cfg, defaulting a nil Logger, Tracer or
// Rand and empty EOSTokens. Zero pacing is kept as no pacing, and a zero
// WindowSize falls back to the Metrics Tracker's default.
func New(cfg Config) *Speculator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("speculator")
	}
	rng := cfg.Rand
	if rng == nil {
		rng = defaultRand{}
	}
	eos := cfg.EOSTokens
	if len(eos) == 0 {
		eos = []string{"<|eot_id|>", "<|end_of_text|>", "</s>"}
	}
	return &Speculator{
		draft:        cfg.Draft,
		target:       cfg.Target,
		eosTokens:    eos,
		draftPacing:  cfg.DraftPacing,
		verifyPacing: cfg.VerifyPacing,
		windowSize:   cfg.WindowSize,
		rng:          rng,
		logger:       logger,
		tracer:       tracer,
	}
}

// Generate runs the speculative decoding loop and returns a pull-based
// sequence of events (spec §4.3): "the sequence is driven by the
// consumer ... the producer may interleave await points". In Go this is
// expressed directly as a range-over-func iterator, mirroring the
// teacher's own `for event, err := range runner.Run(...)` consumption
// pattern for agent runs. If the consumer stops ranging early (a
// transport-send failure, spec §5 cancellation), the iterator callback
// returns false and Generate abandons the round in progress at the next
// suspension point; no further events are emitted.
func (s *Speculator) Generate(ctx context.Context, req Request) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		state := &GenerationState{}
		tracker := metrics.NewTracker(s.windowSize)

		state.ContextIDs = s.draft.ApplyChatTemplate(req.Prompt)
		s.logger.Info("speculation run starting",
			"context_tokens", len(state.ContextIDs), "k", req.K, "max_tokens", req.MaxTokens)

		for state.Produced < req.MaxTokens {
			if ctx.Err() != nil {
				return
			}
			state.Round++
			roundCtx, span := s.tracer.Start(ctx, "speculation.round",
				trace.WithAttributes(attribute.Int("round", state.Round), attribute.Int("k", req.K)))

			ok := s.runRound(roundCtx, state, tracker, req, yield)
			span.SetAttributes(attribute.Int("produced_total", state.Produced))
			span.End()
			if !ok {
				return
			}

			if s.hasEOS(state.GeneratedText) {
				s.logger.Info("EOS detected", "round", state.Round)
				break
			}
		}

		yield(events.DoneEvent{
			Type:                events.TypeDone,
			TotalTokens:         tracker.TotalTokens(),
			TotalRounds:         tracker.TotalRounds(),
			FinalAcceptanceRate: tracker.OverallAcceptanceRate(),
			AverageSpeedup:      tracker.Speedup(),
			GeneratedText:       state.GeneratedText,
		})
	}
}

// runRound executes one draft -> verify -> sample -> commit -> emit
// cycle. It returns false if the consumer asked to stop (yield returned
// false) or the context was cancelled mid-round, in which case the
// caller must stop without emitting a Done event. A collaborator failure
// is reported as a single terminal Error event and also returns false.
func (s *Speculator) runRound(ctx context.Context, state *GenerationState, tracker *metrics.Tracker, req Request, yield func(events.Event) bool) bool {
	roundStart := time.Now()

	draftTokens, draftElapsedMs, err := s.draftRound(ctx, state, req)
	if err != nil {
		s.logger.Error("draft failed", "round", state.Round, "error", err)
		yield(events.NewErrorEvent(err.Error(), state.Round))
		return false
	}

	for i, dt := range draftTokens {
		topTokens := make([]events.TopToken, 0, len(dt.TopK))
		for _, t := range dt.TopK {
			topTokens = append(topTokens, events.TopToken{Token: t.Text, Logprob: t.Logprob})
		}
		if !yield(events.NewDraftTokenEvent(state.Round, i, dt.Text, dt.ID, dt.Logprob, dt.Entropy, topTokens, dt.ElapsedMs)) {
			return false
		}
		if !s.sleep(ctx, s.draftPacing) {
			return false
		}
	}

	verification, err := s.target.Verify(ctx, req.Prompt, state.GeneratedText, req.K)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s", errkind.ErrTargetFailure, err)
		s.logger.Error("verify failed", "round", state.Round, "error", wrapped)
		yield(events.NewErrorEvent(wrapped.Error(), state.Round))
		return false
	}

	round := sampling.Sample(toSamplingDrafts(draftTokens), toSamplingTargets(verification.Positions), s.rng)

	tokensThisRound, idsThisRound, ok := s.emitComparisons(ctx, state, req, round, verification, yield)
	if !ok {
		return false
	}

	state.GeneratedIDs = append(state.GeneratedIDs, idsThisRound...)
	state.GeneratedText = s.draft.Decode(state.GeneratedIDs)
	state.Produced += tokensThisRound

	roundTimeMs := float64(time.Since(roundStart)) / float64(time.Millisecond)
	stats := metrics.RoundStats{
		Accepted:        round.AcceptedCount,
		Drafted:         len(draftTokens),
		Produced:        tokensThisRound,
		DraftLatencyMs:  draftElapsedMs,
		VerifyLatencyMs: verification.ElapsedMs,
		RoundTimeMs:     roundTimeMs,
		K:               req.K,
	}
	tracker.Record(stats)

	return yield(events.MetricsEvent{
		Type:                 events.TypeMetrics,
		Round:                state.Round,
		AcceptanceRate:       tracker.AcceptanceRate(),
		RoundAccepted:        round.AcceptedCount,
		RoundTotal:           len(draftTokens),
		EffectiveTPS:         tracker.EffectiveTPS(),
		BaselineTPS:          tracker.BaselineTPS(),
		Speedup:              tracker.Speedup(),
		DraftLatencyMs:       tracker.AvgDraftLatencyMs(),
		VerifyLatencyMs:      tracker.AvgVerifyLatencyMs(),
		TotalTokensGenerated: tracker.TotalTokens(),
	})
}

// emitComparisons walks the sampler's comparisons in position order,
// emitting one VerifyResult event per unique position (a Rejected
// outcome is folded into its paired Resampled event, never emitted on
// its own — spec §4.3 step 6) and committing the surviving token IDs.
func (s *Speculator) emitComparisons(ctx context.Context, state *GenerationState, req Request, round sampling.Round, verification target.Result, yield func(events.Event) bool) (tokensCommitted int, idsCommitted []int, ok bool) {
	seen := make(map[int]bool)

	for _, comp := range round.Comparisons {
		if comp.Status == sampling.Rejected {
			continue // folded into the following Resampled event
		}
		if seen[comp.Position] {
			continue
		}
		seen[comp.Position] = true

		var targetEntropy *float64
		var targetTop []events.TopToken
		if comp.Position < len(verification.Positions) {
			pos := verification.Positions[comp.Position]
			e := pos.Entropy
			targetEntropy = &e
			targetTop = topNTopTokens(pos.TopLogprobs, 5)
		}

		tokenID := 0
		switch comp.Status {
		case sampling.Accepted:
			if comp.FinalID != nil {
				tokenID = *comp.FinalID
			}
			idsCommitted = append(idsCommitted, tokenID)
			tokensCommitted++
		case sampling.Resampled, sampling.Bonus:
			resampledIDs := s.draft.Tokenize(comp.FinalText)
			if len(resampledIDs) == 0 {
				s.logger.Warn("tokenise drop: sampled text produced no ids",
					"round", state.Round, "position", comp.Position, "text", comp.FinalText)
			} else {
				idsCommitted = append(idsCommitted, resampledIDs...)
				tokensCommitted++
				tokenID = resampledIDs[0]
			}
		}

		if !yield(events.VerifyResultEvent{
			Type:            events.TypeVerifyResult,
			Round:           state.Round,
			Position:        comp.Position,
			Token:           comp.FinalText,
			TokenID:         tokenID,
			Status:          comp.Status,
			DraftLogprob:    comp.DraftLogprob,
			TargetLogprob:   comp.TargetLogprob,
			AcceptanceProb:  comp.AcceptanceProb,
			TargetEntropy:   targetEntropy,
			TargetTopTokens: targetTop,
			VerifyTimeMs:    verification.ElapsedMs,
		}) {
			return tokensCommitted, idsCommitted, false
		}
		if !s.sleep(ctx, s.verifyPacing) {
			return tokensCommitted, idsCommitted, false
		}
	}

	return tokensCommitted, idsCommitted, true
}

// draftRound off-loads the blocking draft call to a background
// goroutine so the round loop never itself blocks on CPU/GPU-bound
// sampling work (spec §5), and abandons (discards) the result if the
// context is cancelled before the worker finishes.
func (s *Speculator) draftRound(ctx context.Context, state *GenerationState, req Request) ([]draft.Token, float64, error) {
	type result struct {
		tokens []draft.Token
		err    error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		tokens, err := s.draft.Generate(ctx, state.fullContext(), req.K, req.Temperature)
		done <- result{tokens: tokens, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-done:
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		if r.err != nil {
			return nil, elapsed, fmt.Errorf("%w: %s", errkind.ErrDraftFailure, r.err)
		}
		return r.tokens, elapsed, nil
	}
}

func (s *Speculator) hasEOS(text string) bool {
	for _, marker := range s.eosTokens {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// sleep pauses for d, returning false if ctx is cancelled first so the
// caller can stop the round without emitting further events. d<=0 skips
// the sleep entirely (headless/batch mode, spec §9).
func (s *Speculator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func toSamplingDrafts(tokens []draft.Token) []sampling.Draft {
	out := make([]sampling.Draft, len(tokens))
	for i, t := range tokens {
		out[i] = sampling.Draft{ID: t.ID, Text: t.Text, Logprob: t.Logprob}
	}
	return out
}

func toSamplingTargets(positions []target.Position) []sampling.Target {
	out := make([]sampling.Target, len(positions))
	for i, p := range positions {
		out[i] = sampling.Target{Text: p.Text, TopLogprobs: p.TopLogprobs}
	}
	return out
}

func topNTopTokens(topLogprobs map[string]float64, n int) []events.TopToken {
	if len(topLogprobs) == 0 {
		return nil
	}
	all := make([]events.TopToken, 0, len(topLogprobs))
	for text, lp := range topLogprobs {
		all = append(all, events.TopToken{Token: text, Logprob: lp})
	}
	sortTopTokensDesc(all)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func sortTopTokensDesc(tokens []events.TopToken) {
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j].Logprob > tokens[j-1].Logprob; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
}

func floatPtr(v float64) *float64 { return &v }
