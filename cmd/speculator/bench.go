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
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/speculatoviz/speculator/collaborator/draft"
	"github.com/speculatoviz/speculator/collaborator/target"
	"github.com/speculatoviz/speculator/events"
	"github.com/speculatoviz/speculator/speculator"
)

// echoReferenceTarget verifies against the same deterministic
// distribution the reference draft collaborator drafts from, so bench
// runs are reproducible and require no network access or API key —
// useful for smoke-testing the round loop and event plumbing in
// isolation from any real target model.
type echoReferenceTarget struct {
	ref *draft.Reference
}

func (t echoReferenceTarget) Verify(ctx context.Context, prompt, generatedText string, k int) (target.Result, error) {
	contextIDs := t.ref.Tokenize(prompt + generatedText)
	tokens, err := t.ref.Generate(ctx, contextIDs, k+1, 0)
	if err != nil {
		return target.Result{}, err
	}
	positions := make([]target.Position, len(tokens))
	for i, tok := range tokens {
		topLogprobs := make(map[string]float64, len(tok.TopK))
		for _, top := range tok.TopK {
			topLogprobs[top.Text] = top.Logprob
		}
		positions[i] = target.Position{
			Text:         tok.Text,
			TokenLogprob: tok.Logprob,
			TopLogprobs:  topLogprobs,
			Entropy:      tok.Entropy,
		}
	}
	return target.Result{Positions: positions}, nil
}

var _ target.Collaborator = echoReferenceTarget{}

// AddBenchCommand attaches "bench" to rootCmd.
func AddBenchCommand(rootCmd *cobra.Command) {
	var (
		prompt      string
		maxTokens   int
		k           int
		temperature float64
	)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run one headless generation against the reference collaborators",
		Long: `bench drives a single Speculator run using the in-process reference
draft/target collaborators (no API key or network access required) and
prints the round-by-round acceptance stats plus the final summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, prompt, maxTokens, k, temperature)
		},
	}
	benchCmd.Flags().StringVar(&prompt, "prompt", "the quick brown fox", "prompt to generate from")
	benchCmd.Flags().IntVar(&maxTokens, "max-tokens", 32, "maximum tokens to generate")
	benchCmd.Flags().IntVar(&k, "k", 4, "number of tokens drafted per round")
	benchCmd.Flags().Float64Var(&temperature, "temperature", 0.0, "sampling temperature")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, prompt string, maxTokens, k int, temperature float64) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	ref := draft.NewReference()
	spec := speculator.New(speculator.Config{
		Draft:  ref,
		Target: echoReferenceTarget{ref: ref},
		Logger: logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	req := speculator.Request{Prompt: prompt, MaxTokens: maxTokens, Temperature: temperature, K: k}

	out := cmd.OutOrStdout()
	for event := range spec.Generate(ctx, req) {
		switch e := event.(type) {
		case events.MetricsEvent:
			fmt.Fprintf(out, "round %3d  accepted %d/%d  acceptance=%.2f  speedup=%.2fx  tokens=%d\n",
				e.Round, e.RoundAccepted, e.RoundTotal, e.AcceptanceRate, e.Speedup, e.TotalTokensGenerated)
		case events.DoneEvent:
			fmt.Fprintf(out, "\ndone: %d tokens over %d rounds, final acceptance=%.2f, average speedup=%.2fx\n",
				e.TotalTokens, e.TotalRounds, e.FinalAcceptanceRate, e.AverageSpeedup)
			fmt.Fprintf(out, "generated: %s\n", e.GeneratedText)
		case events.ErrorEvent:
			return fmt.Errorf("generation failed: %s", e.Message)
		}
	}
	return nil
}
