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

// Package sampling implements the modified rejection-sampling decision
// procedure at the heart of speculative decoding (Leviathan et al., 2023).
// It is pure: given a draft sequence, a target verification sequence, and
// a uniform random source, it deterministically decides which draft
// tokens survive, which must be rejected and resampled from the target,
// and whether a bonus token is available.
package sampling

import "math"

// Status is the outcome of comparing one drafted position against the
// target model's distribution.
type Status string

const (
	// Accepted means the draft token matched (exactly, or via the
	// probability ratio test) and survives as-is.
	Accepted Status = "accepted"
	// Rejected means the draft token did not survive; it is always
	// immediately followed by a Resampled outcome for the same position.
	Rejected Status = "rejected"
	// Resampled carries the target's token for a position whose draft
	// was rejected. This is the token that actually gets committed.
	Resampled Status = "resampled"
	// Bonus is the free (K+1)th token taken from the target when every
	// drafted token was accepted.
	Bonus Status = "bonus"
)

// Rand is the uniform random source injected into Sample, matching
// math/rand/v2's Float64 signature so tests can drive acceptance and
// rejection deterministically (spec: seedable uniform generator).
type Rand interface {
	Float64() float64
}

// Draft is one drafted position as seen by the sampler.
type Draft struct {
	ID      int
	Text    string
	Logprob float64
}

// Target is one verified position as seen by the sampler. TopLogprobs maps
// token text to its log-probability under the target's distribution,
// truncated to the top N (N<=20) the target collaborator returned.
type Target struct {
	Text        string
	TopLogprobs map[string]float64
}

// Outcome is the per-position decision the sampler produced. A Rejected
// outcome is always immediately followed by a Resampled outcome for the
// same position in Round.Comparisons.
type Outcome struct {
	Position       int
	Status         Status
	DraftText      string
	FinalText      string
	FinalID        *int
	DraftLogprob   float64
	TargetLogprob  *float64
	AcceptanceProb *float64
}

// Round is the complete result of comparing one round's drafts against
// the target's verification.
type Round struct {
	Comparisons   []Outcome
	AcceptedCount int
	BonusText     *string
	// BonusID is always nil: the target collaborator reports token text,
	// never token IDs, so a bonus token's ID can only be recovered by the
	// draft collaborator's tokenizer. It is kept here for interface
	// completeness with Outcome.FinalID.
	BonusID *int
}

// Sample runs modified rejection sampling over one round. len(targets)
// must be >= len(drafts); it may additionally carry one extra position
// for the bonus token when every draft is accepted.
func Sample(drafts []Draft, targets []Target, rng Rand) Round {
	var round Round

	for i, draft := range drafts {
		if i >= len(targets) {
			break
		}
		target := targets[i]

		if draft.Text == target.Text {
			round.Comparisons = append(round.Comparisons, acceptedOutcome(i, draft, target))
			round.AcceptedCount++
			continue
		}

		targetLP, inTopN := target.TopLogprobs[draft.Text]
		if !inTopN {
			round.Comparisons = append(round.Comparisons,
				rejectedOutcome(i, draft, target, nil),
				resampledOutcome(i, draft, target),
			)
			return finish(round, drafts, targets)
		}

		alpha := math.Min(1.0, math.Exp(targetLP-draft.Logprob))
		if rng.Float64() < alpha {
			round.Comparisons = append(round.Comparisons, Outcome{
				Position:       i,
				Status:         Accepted,
				DraftText:      draft.Text,
				FinalText:      draft.Text,
				FinalID:        intPtr(draft.ID),
				DraftLogprob:   draft.Logprob,
				TargetLogprob:  floatPtr(targetLP),
				AcceptanceProb: floatPtr(alpha),
			})
			round.AcceptedCount++
			continue
		}

		round.Comparisons = append(round.Comparisons,
			rejectedOutcome(i, draft, target, floatPtr(targetLP)),
			resampledOutcome(i, draft, target),
		)
		return finish(round, drafts, targets)
	}

	return finish(round, drafts, targets)
}

// finish appends the bonus outcome when every draft was accepted and the
// target returned one extra verified position.
func finish(round Round, drafts []Draft, targets []Target) Round {
	if round.AcceptedCount == len(drafts) && len(targets) > len(drafts) {
		bonus := targets[len(drafts)]
		text := bonus.Text
		round.BonusText = &text
		round.Comparisons = append(round.Comparisons, Outcome{
			Position:       len(drafts),
			Status:         Bonus,
			DraftText:      "",
			FinalText:      text,
			FinalID:        nil,
			DraftLogprob:   0,
			TargetLogprob:  nil,
			AcceptanceProb: floatPtr(1.0),
		})
	}
	return round
}

func acceptedOutcome(pos int, draft Draft, target Target) Outcome {
	var targetLP *float64
	if lp, ok := target.TopLogprobs[draft.Text]; ok {
		targetLP = floatPtr(lp)
	}
	return Outcome{
		Position:       pos,
		Status:         Accepted,
		DraftText:      draft.Text,
		FinalText:      draft.Text,
		FinalID:        intPtr(draft.ID),
		DraftLogprob:   draft.Logprob,
		TargetLogprob:  targetLP,
		AcceptanceProb: floatPtr(1.0),
	}
}

// rejectedOutcome builds the Rejected half of a reject+resample pair.
// final_id keeps the draft's ID purely for visualisation linkage — it is
// never used to commit a token, since Rejected is always immediately
// followed by a Resampled outcome that carries the committed token.
func rejectedOutcome(pos int, draft Draft, target Target, targetLP *float64) Outcome {
	return Outcome{
		Position:       pos,
		Status:         Rejected,
		DraftText:      draft.Text,
		FinalText:      target.Text,
		FinalID:        intPtr(draft.ID),
		DraftLogprob:   draft.Logprob,
		TargetLogprob:  targetLP,
		AcceptanceProb: floatPtr(0.0),
	}
}

func resampledOutcome(pos int, draft Draft, target Target) Outcome {
	var targetLP *float64
	if lp, ok := target.TopLogprobs[target.Text]; ok {
		targetLP = floatPtr(lp)
	}
	return Outcome{
		Position:       pos,
		Status:         Resampled,
		DraftText:      draft.Text,
		FinalText:      target.Text,
		FinalID:        nil,
		DraftLogprob:   draft.Logprob,
		TargetLogprob:  targetLP,
		AcceptanceProb: floatPtr(0.0),
	}
}

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }
