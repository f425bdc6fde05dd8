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

// Package draft defines the Draft Collaborator contract: the local model
// that applies a chat template, drafts K candidate tokens with logprobs,
// and tokenises/decodes text. The real backend (a local MLX/GGUF sampler)
// is an external concern outside this module's scope; this package only
// specifies the interface and a small reference implementation used by
// tests, the bench CLI, and the /api/draft-check diagnostic endpoint.
package draft

import (
	"context"
	"fmt"
)

// TopToken is a (text, logprob) pair drawn from a drafted position's
// full distribution.
type TopToken struct {
	Text    string
	Logprob float64
}

// Token is one locally-drafted candidate, with enough information for
// the rejection sampler and the visualisation client.
type Token struct {
	ID         int
	Text       string
	Logprob    float64
	Entropy    float64
	TopK       []TopToken
	ElapsedMs  float64
}

// Collaborator is the external interface a draft backend must satisfy.
// Implementations hold model weights and are typically expensive to
// construct; a process normally keeps a single Collaborator instance as
// a singleton, shared read-only across sessions (spec §5).
type Collaborator interface {
	// ApplyChatTemplate turns a user prompt into the initial token-ID
	// context for a generation run.
	ApplyChatTemplate(prompt string) []int

	// Generate drafts k tokens starting from contextIDs. Implementations
	// must reset any internal KV cache before each call, since the full
	// context is passed explicitly every round (spec §4.4). temperature
	// of exactly 0 means greedy decoding.
	Generate(ctx context.Context, contextIDs []int, k int, temperature float64) ([]Token, error)

	// Tokenize converts text to token IDs with no special tokens added.
	Tokenize(text string) []int

	// Decode is the canonical detokenisation of a token-ID sequence.
	// Speculator never reconstructs generated text by concatenating
	// emitted token strings; it always calls Decode on the authoritative
	// ID sequence (spec §9).
	Decode(ids []int) string
}

// ErrGenerateFailed wraps a failure from Generate so callers can classify
// it as the spec's DraftFailure error kind.
func ErrGenerateFailed(cause error) error {
	return fmt.Errorf("draft generate failed: %w", cause)
}
