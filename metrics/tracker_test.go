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

package metrics

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestTracker_EmptyWindowDefaults(t *testing.T) {
	tr := NewTracker(50)

	if tr.AcceptanceRate() != 0 {
		t.Fatalf("expected 0 acceptance rate, got %v", tr.AcceptanceRate())
	}
	if tr.EffectiveTPS() != 0 {
		t.Fatalf("expected 0 effective tps, got %v", tr.EffectiveTPS())
	}
	if tr.BaselineTPS() != 0 {
		t.Fatalf("expected 0 baseline tps, got %v", tr.BaselineTPS())
	}
	if tr.Speedup() != 1.0 {
		t.Fatalf("expected speedup 1.0 on empty window, got %v", tr.Speedup())
	}
}

func TestTracker_BaselineIdentity(t *testing.T) {
	tr := NewTracker(50)
	tr.Record(RoundStats{Accepted: 4, Drafted: 4, Produced: 4, VerifyLatencyMs: 50, K: 4})

	if !almostEqual(tr.BaselineTPS(), 100.0) {
		t.Fatalf("expected baseline_tps == 100.0, got %v", tr.BaselineTPS())
	}
}

func TestTracker_WindowedAcceptanceIsRatioOfSums(t *testing.T) {
	tr := NewTracker(50)
	// round 1: 1/2 accepted; round 2: 4/4 accepted.
	// ratio of sums = 5/6, NOT the average of ratios (0.5+1.0)/2 = 0.75.
	tr.Record(RoundStats{Accepted: 1, Drafted: 2})
	tr.Record(RoundStats{Accepted: 4, Drafted: 4})

	want := 5.0 / 6.0
	if !almostEqual(tr.AcceptanceRate(), want) {
		t.Fatalf("expected acceptance rate %v, got %v", want, tr.AcceptanceRate())
	}
}

func TestTracker_WindowEviction(t *testing.T) {
	tr := NewTracker(2)
	tr.Record(RoundStats{Accepted: 0, Drafted: 10, Produced: 1})
	tr.Record(RoundStats{Accepted: 1, Drafted: 1, Produced: 1})
	tr.Record(RoundStats{Accepted: 1, Drafted: 1, Produced: 1})

	// first round evicted; window now holds only the two 1/1 rounds.
	if !almostEqual(tr.AcceptanceRate(), 1.0) {
		t.Fatalf("expected windowed acceptance rate 1.0 after eviction, got %v", tr.AcceptanceRate())
	}
	if tr.TotalTokens() != 3 {
		t.Fatalf("expected unbounded total tokens 3, got %d", tr.TotalTokens())
	}
	if tr.TotalRounds() != 3 {
		t.Fatalf("expected unbounded total rounds 3, got %d", tr.TotalRounds())
	}
}

func TestTracker_EffectiveTPS(t *testing.T) {
	tr := NewTracker(50)
	tr.Record(RoundStats{Produced: 5, RoundTimeMs: 1000})

	if !almostEqual(tr.EffectiveTPS(), 5.0) {
		t.Fatalf("expected 5 tokens/sec, got %v", tr.EffectiveTPS())
	}
}
