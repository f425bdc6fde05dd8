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

// Package events defines the closed set of JSON events a Speculator run
// streams toward a visualisation client: one DraftToken per drafted
// position, one VerifyResult per verified position (a Rejected+Resampled
// pair yields a single event), a Metrics summary per round, and a
// terminal Done or Error.
package events

import "github.com/speculatoviz/speculator/sampling"

// Type discriminates the outbound event union over the wire.
type Type string

const (
	TypeDraftToken   Type = "draft_token"
	TypeVerifyResult Type = "verify_result"
	TypeMetrics      Type = "metrics"
	TypeDone         Type = "done"
	TypeError        Type = "error"
)

// Event is implemented by every concrete event struct below. It exists so
// the Speculator can yield a single `Event` from its iterator while the
// transport adapter marshals whichever concrete type it receives.
type Event interface {
	EventType() Type
}

// TopToken is a (text, logprob) pair shared by draft and verify events.
type TopToken struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// DraftTokenEvent reports one locally-drafted candidate token.
type DraftTokenEvent struct {
	Type        Type       `json:"type"`
	Round       int        `json:"round"`
	Position    int        `json:"position"`
	Token       string     `json:"token"`
	TokenID     int        `json:"token_id"`
	Logprob     float64    `json:"logprob"`
	Entropy     float64    `json:"entropy"`
	TopTokens   []TopToken `json:"top_tokens"`
	DraftTimeMs float64    `json:"draft_time_ms"`
}

// EventType implements Event.
func (DraftTokenEvent) EventType() Type { return TypeDraftToken }

// NewDraftTokenEvent builds a DraftTokenEvent with its Type already set.
func NewDraftTokenEvent(round, position int, token string, tokenID int, logprob, entropy float64, topTokens []TopToken, draftTimeMs float64) DraftTokenEvent {
	return DraftTokenEvent{
		Type:        TypeDraftToken,
		Round:       round,
		Position:    position,
		Token:       token,
		TokenID:     tokenID,
		Logprob:     logprob,
		Entropy:     entropy,
		TopTokens:   topTokens,
		DraftTimeMs: draftTimeMs,
	}
}

// VerifyResultEvent reports the decided outcome at one position: for a
// Rejected+Resampled pair only one event is emitted (tagged resampled),
// carrying both the draft's and the target's side of the comparison so
// the visualiser can render both.
type VerifyResultEvent struct {
	Type             Type              `json:"type"`
	Round            int               `json:"round"`
	Position         int               `json:"position"`
	Token            string            `json:"token"`
	TokenID          int               `json:"token_id"`
	Status           sampling.Status   `json:"status"`
	DraftLogprob     float64           `json:"draft_logprob"`
	TargetLogprob    *float64          `json:"target_logprob,omitempty"`
	AcceptanceProb   *float64          `json:"acceptance_prob,omitempty"`
	TargetEntropy    *float64          `json:"target_entropy,omitempty"`
	TargetTopTokens  []TopToken        `json:"target_top_tokens"`
	VerifyTimeMs     float64           `json:"verify_time_ms"`
}

// EventType implements Event.
func (VerifyResultEvent) EventType() Type { return TypeVerifyResult }

// MetricsEvent reports the rolling KPIs after a round has been committed.
type MetricsEvent struct {
	Type                 Type    `json:"type"`
	Round                int     `json:"round"`
	AcceptanceRate       float64 `json:"acceptance_rate"`
	RoundAccepted        int     `json:"round_accepted"`
	RoundTotal           int     `json:"round_total"`
	EffectiveTPS         float64 `json:"effective_tps"`
	BaselineTPS          float64 `json:"baseline_tps"`
	Speedup              float64 `json:"speedup"`
	DraftLatencyMs       float64 `json:"draft_latency_ms"`
	VerifyLatencyMs      float64 `json:"verify_latency_ms"`
	TotalTokensGenerated int     `json:"total_tokens_generated"`
}

// EventType implements Event.
func (MetricsEvent) EventType() Type { return TypeMetrics }

// DoneEvent is the terminal event for a successful run.
type DoneEvent struct {
	Type                Type    `json:"type"`
	TotalTokens         int     `json:"total_tokens"`
	TotalRounds         int     `json:"total_rounds"`
	FinalAcceptanceRate float64 `json:"final_acceptance_rate"`
	AverageSpeedup      float64 `json:"average_speedup"`
	GeneratedText       string  `json:"generated_text"`
}

// EventType implements Event.
func (DoneEvent) EventType() Type { return TypeDone }

// ErrorEvent is the terminal event for a failed run. No Done event
// follows an Error event in the same run.
type ErrorEvent struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Round   *int   `json:"round,omitempty"`
}

// EventType implements Event.
func (ErrorEvent) EventType() Type { return TypeError }

// NewErrorEvent builds an ErrorEvent tagged with the round it failed in.
func NewErrorEvent(message string, round int) ErrorEvent {
	r := round
	return ErrorEvent{Type: TypeError, Message: message, Round: &r}
}
