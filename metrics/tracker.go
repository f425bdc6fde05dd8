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

// Package metrics maintains a rolling window of per-round statistics for
// a speculative-decoding run and derives the KPIs a visualisation client
// wants: acceptance rate, effective throughput, the hypothetical
// autoregressive baseline, and the resulting speedup.
package metrics

const defaultWindowSize = 50

// RoundStats summarises one completed speculation round.
type RoundStats struct {
	Accepted      int
	Drafted       int
	Produced      int
	DraftLatencyMs  float64
	VerifyLatencyMs float64
	RoundTimeMs     float64
	K               int
}

// Tracker is a bounded FIFO window of RoundStats plus unbounded totals.
// It is not safe for concurrent use; callers own synchronisation, matching
// the single session / single Speculator ownership model.
type Tracker struct {
	windowSize int
	window     []RoundStats

	totalTokens   int
	totalAccepted int
	totalDrafted  int
	totalRounds   int
}

// NewTracker creates a Tracker with the given rolling window size. A
// windowSize <= 0 falls back to the spec's default of 50 rounds.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Tracker{windowSize: windowSize}
}

// Record appends a completed round to the window (evicting the oldest
// entry once the window is full) and updates the unbounded totals.
func (t *Tracker) Record(stats RoundStats) {
	t.window = append(t.window, stats)
	if len(t.window) > t.windowSize {
		t.window = t.window[1:]
	}
	t.totalTokens += stats.Produced
	t.totalAccepted += stats.Accepted
	t.totalDrafted += stats.Drafted
	t.totalRounds++
}

// TotalTokens returns the unbounded count of tokens committed so far.
func (t *Tracker) TotalTokens() int { return t.totalTokens }

// TotalRounds returns the unbounded count of rounds completed so far.
func (t *Tracker) TotalRounds() int { return t.totalRounds }

// AcceptanceRate is the windowed ratio of accepted to drafted tokens —
// the arithmetic ratio of sums, not the average of per-round ratios.
func (t *Tracker) AcceptanceRate() float64 {
	var accepted, drafted int
	for _, r := range t.window {
		accepted += r.Accepted
		drafted += r.Drafted
	}
	if drafted == 0 {
		return 0
	}
	return float64(accepted) / float64(drafted)
}

// OverallAcceptanceRate is AcceptanceRate's unbounded-totals counterpart,
// used for the terminal done event.
func (t *Tracker) OverallAcceptanceRate() float64 {
	if t.totalDrafted == 0 {
		return 0
	}
	return float64(t.totalAccepted) / float64(t.totalDrafted)
}

// EffectiveTPS is the windowed effective throughput in tokens/second.
func (t *Tracker) EffectiveTPS() float64 {
	if len(t.window) == 0 {
		return 0
	}
	var totalTimeMs float64
	var totalTokens int
	for _, r := range t.window {
		totalTimeMs += r.RoundTimeMs
		totalTokens += r.Produced
	}
	if totalTimeMs == 0 {
		return 0
	}
	return float64(totalTokens) / totalTimeMs * 1000
}

// BaselineTPS models the hypothetical autoregressive throughput of the
// target model alone: a verify call processes k+1 positions in
// verify_latency_ms, so the per-token autoregressive cost is
// verify_latency_ms/(k+1). This isolates the target's sequential
// throughput and deliberately ignores draft cost.
func (t *Tracker) BaselineTPS() float64 {
	if len(t.window) == 0 {
		return 0
	}
	var totalARTimeMs float64
	for _, r := range t.window {
		totalARTimeMs += r.VerifyLatencyMs / float64(r.K+1)
	}
	if totalARTimeMs == 0 {
		return 0
	}
	return float64(len(t.window)) / totalARTimeMs * 1000
}

// Speedup is EffectiveTPS divided by BaselineTPS, defaulting to 1.0 when
// there is no baseline to compare against (including an empty window).
func (t *Tracker) Speedup() float64 {
	baseline := t.BaselineTPS()
	if baseline == 0 {
		return 1.0
	}
	return t.EffectiveTPS() / baseline
}

// AvgDraftLatencyMs is the windowed average draft latency.
func (t *Tracker) AvgDraftLatencyMs() float64 {
	return t.avg(func(r RoundStats) float64 { return r.DraftLatencyMs })
}

// AvgVerifyLatencyMs is the windowed average verify latency.
func (t *Tracker) AvgVerifyLatencyMs() float64 {
	return t.avg(func(r RoundStats) float64 { return r.VerifyLatencyMs })
}

func (t *Tracker) avg(field func(RoundStats) float64) float64 {
	if len(t.window) == 0 {
		return 0
	}
	var sum float64
	for _, r := range t.window {
		sum += field(r)
	}
	return sum / float64(len(t.window))
}
