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

package draft

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// fallbackVocab seeds the reference tokenizer; words beyond this set are
// interned on first sight, mirroring how a real vocabulary grows to cover
// whatever text a real tokenizer is asked to encode.
var fallbackVocab = []string{
	"the", "a", "quick", "brown", "fox", "jumps", "over", "lazy", "dog",
	"hello", "world", "is", "speculative", "decoding", "fast", "model",
	"token", "and", "of", "to",
}

// Reference is a deterministic, dependency-free Collaborator used by
// tests, the bench CLI, and the /api/draft-check diagnostic endpoint. It
// is not a production tokenizer or sampler: words are whitespace-split
// and interned into a growing vocabulary, and "draft" tokens come from a
// synthetic, seed-derived logit distribution rather than a real model.
type Reference struct {
	mu     sync.Mutex
	byID   []string
	byWord map[string]int
}

// NewReference builds a Reference collaborator with its fallback
// vocabulary pre-interned.
func NewReference() *Reference {
	r := &Reference{byWord: make(map[string]int)}
	for _, w := range fallbackVocab {
		r.intern(w)
	}
	return r
}

func (r *Reference) intern(word string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byWord[word]; ok {
		return id
	}
	id := len(r.byID)
	r.byID = append(r.byID, word)
	r.byWord[word] = id
	return id
}

func (r *Reference) wordAt(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.byID) {
		return ""
	}
	return r.byID[id]
}

func (r *Reference) vocabSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ApplyChatTemplate tokenises the raw prompt; the reference collaborator
// has no special tokens or role markers to add.
func (r *Reference) ApplyChatTemplate(prompt string) []int {
	return r.Tokenize(prompt)
}

// Tokenize splits on whitespace and interns each lowercased word.
func (r *Reference) Tokenize(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, r.intern(strings.ToLower(f)))
	}
	return ids
}

// Decode joins the words for the given IDs with single spaces. This is
// the canonical detokenisation: callers must never splice emitted token
// strings themselves.
func (r *Reference) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if w := r.wordAt(id); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

// Generate drafts k tokens from a synthetic, seed-derived distribution
// over the current vocabulary. The KV cache reset the real interface
// contract requires is a no-op here since the reference model carries no
// cache at all — contextIDs is consulted only to seed the deterministic
// distribution, matching how a real backend's logits vary with context.
func (r *Reference) Generate(ctx context.Context, contextIDs []int, k int, temperature float64) ([]Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	vocab := r.vocabSize()
	tokens := make([]Token, 0, k)
	seed := len(contextIDs)

	for i := 0; i < k; i++ {
		logits := syntheticLogits(seed+i, vocab)
		if temperature > 0 && temperature != 1.0 {
			for j := range logits {
				logits[j] /= temperature
			}
		}
		logprobs := logSoftmax(logits)
		chosen := argmax(logprobs)
		entropy := shannonEntropy(logprobs)

		topIdx := topKIndices(logprobs, 10)
		topTokens := make([]TopToken, 0, len(topIdx))
		for _, idx := range topIdx {
			topTokens = append(topTokens, TopToken{Text: r.wordAt(idx), Logprob: logprobs[idx]})
		}

		tokens = append(tokens, Token{
			ID:        chosen,
			Text:      r.wordAt(chosen),
			Logprob:   logprobs[chosen],
			Entropy:   entropy,
			TopK:      topTokens,
			ElapsedMs: 0,
		})
	}
	return tokens, nil
}

// syntheticLogits derives a deterministic pseudo-logit vector from seed,
// so repeated calls with the same context length produce the same
// distribution (useful for reproducible tests and bench runs).
func syntheticLogits(seed, vocab int) []float64 {
	if vocab == 0 {
		return nil
	}
	logits := make([]float64, vocab)
	for i := range logits {
		x := float64((seed+1)*(i+1)%97) / 97.0
		logits[i] = math.Sin(x*math.Pi) * 4
	}
	return logits
}

func logSoftmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	var sumExp float64
	for _, v := range logits {
		sumExp += math.Exp(v - max)
	}
	logSumExp := max + math.Log(sumExp)

	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = v - logSumExp
	}
	return out
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// shannonEntropy computes H = -sum(p * log(p)) over a log-softmax
// distribution.
func shannonEntropy(logprobs []float64) float64 {
	var h float64
	for _, lp := range logprobs {
		p := math.Exp(lp)
		if p > 0 {
			h -= p * lp
		}
	}
	return h
}

// topKIndices returns the indices of the k largest logprobs, descending.
func topKIndices(logprobs []float64, k int) []int {
	idx := make([]int, len(logprobs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logprobs[idx[a]] > logprobs[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

var _ Collaborator = (*Reference)(nil)
