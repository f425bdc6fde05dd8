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

// Package target implements the Target Collaborator: a single remote
// call that verifies K+1 positions against a large reference model
// served behind an OpenAI-compatible /v1/completions endpoint (spec
// §4.5, §6). It follows the same hand-rolled net/http shape the teacher
// repo uses for other OpenAI-wire-compatible-but-foreign-host APIs
// (see memory/postgres/embedding.go in the retrieval pack) rather than a
// full SDK client, because the wire contract here is pinned at the field
// level: raw prompt continuation with logprobs=20, not a chat payload.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Position is the verification info for one position the target model
// returned.
type Position struct {
	Text          string
	TokenLogprob  float64
	TopLogprobs   map[string]float64 // token text -> logprob, N<=20
	Entropy       float64            // Shannon entropy of the normalised top-N subset
}

// Result is the outcome of one verify call.
type Result struct {
	Positions []Position
	ElapsedMs float64
}

// Collaborator is the external interface a target backend must satisfy.
type Collaborator interface {
	// Verify sends prompt+generatedText to the target model and asks it
	// to freely continue for k+1 tokens with top-20 logprobs, returning
	// one Position per token the target actually produced (<=k+1).
	Verify(ctx context.Context, prompt, generatedText string, k int) (Result, error)
}

// Config configures an HTTPCollaborator.
type Config struct {
	// BaseURL is the OpenAI-compatible API root, e.g.
	// "https://api.cerebras.ai/v1".
	BaseURL string
	APIKey  string
	Model   string

	// HTTPClient allows customizing the HTTP client used for requests.
	// If nil, http.DefaultClient is used. Useful for testing against a
	// mock server.
	HTTPClient *http.Client

	// Timeout bounds each verify call (spec §5: the target call SHOULD
	// have a bounded timeout). Defaults to 30s when zero.
	Timeout time.Duration
}

// HTTPCollaborator is the production Target Collaborator: a thin
// net/http client against the provider's /v1/completions endpoint.
type HTTPCollaborator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates an HTTPCollaborator from cfg.
func New(cfg Config) *HTTPCollaborator {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCollaborator{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// completionsRequest mirrors the OpenAI-compatible /v1/completions wire
// body (spec §6): a raw prompt continuation, not a chat payload.
type completionsRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Logprobs    int     `json:"logprobs"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionsResponse struct {
	Choices []struct {
		Text     string `json:"text"`
		Logprobs struct {
			Tokens        []string             `json:"tokens"`
			TokenLogprobs []float64            `json:"token_logprobs"`
			TopLogprobs   []map[string]float64 `json:"top_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

// Verify implements Collaborator. prompt+generatedText are sent verbatim
// as the raw completion prompt the target continues from. Verify adds no
// provider-specific markers (such as Harmony channel markers for
// GPT-OSS-family targets), and the Speculator passes the user's prompt
// as-is, so every target receives a plain text continuation.
func (c *HTTPCollaborator) Verify(ctx context.Context, prompt, generatedText string, k int) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	t0 := time.Now()

	reqBody := completionsRequest{
		Model:       c.model,
		Prompt:      prompt + generatedText,
		Logprobs:    20,
		MaxTokens:   k + 1,
		Temperature: 0.01, // near-greedy; some providers disallow exact 0 with logprobs
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call target completions API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("target completions API returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded completionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode target completions response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("target completions API returned no choices")
	}

	elapsed := float64(time.Since(t0)) / float64(time.Millisecond)
	choice := decoded.Choices[0]

	positions := make([]Position, 0, len(choice.Logprobs.Tokens))
	for i, tok := range choice.Logprobs.Tokens {
		var topLP map[string]float64
		if i < len(choice.Logprobs.TopLogprobs) {
			topLP = choice.Logprobs.TopLogprobs[i]
		}
		var tokenLP float64
		if i < len(choice.Logprobs.TokenLogprobs) {
			tokenLP = choice.Logprobs.TokenLogprobs[i]
		}
		positions = append(positions, Position{
			Text:         tok,
			TokenLogprob: tokenLP,
			TopLogprobs:  topLP,
			Entropy:      approxEntropyFromTopLogprobs(topLP),
		})
	}

	return Result{Positions: positions, ElapsedMs: elapsed}, nil
}

// approxEntropyFromTopLogprobs computes the Shannon entropy of the
// top-N logprobs after renormalising them into a proper distribution.
// This is a documented approximation (spec §3, §9): probability mass
// outside the top-N is treated as zero, which systematically
// understates the true entropy and biases acceptance down for rare
// draft tokens.
func approxEntropyFromTopLogprobs(topLogprobs map[string]float64) float64 {
	if len(topLogprobs) == 0 {
		return 0
	}
	var total float64
	probs := make([]float64, 0, len(topLogprobs))
	for _, lp := range topLogprobs {
		p := math.Exp(lp)
		probs = append(probs, p)
		total += p
	}
	if total <= 0 {
		return 0
	}
	var entropy float64
	for _, p := range probs {
		pNorm := p / total
		if pNorm > 0 {
			entropy -= pNorm * math.Log(pNorm)
		}
	}
	return entropy
}

var _ Collaborator = (*HTTPCollaborator)(nil)
