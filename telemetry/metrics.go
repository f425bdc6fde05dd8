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

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics are the cross-session operational KPIs exposed at
// /metrics, complementary to the per-session event stream a single
// client sees over /ws/tokens: these are for whoever operates the
// process, not the visualisation UI.
type PromMetrics struct {
	RoundsTotal     prometheus.Counter
	TokensTotal     prometheus.Counter
	AcceptedTotal   prometheus.Counter
	DraftedTotal    prometheus.Counter
	ActiveSessions  prometheus.Gauge
	RoundDurationMs prometheus.Histogram
	AcceptanceRate  prometheus.Gauge
	Speedup         prometheus.Gauge
}

// NewPromMetrics registers and returns the process's Prometheus metrics
// against reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speculatoviz",
			Name:      "rounds_total",
			Help:      "Total speculation rounds completed across all sessions.",
		}),
		TokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speculatoviz",
			Name:      "tokens_total",
			Help:      "Total tokens committed across all sessions.",
		}),
		AcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speculatoviz",
			Name:      "draft_tokens_accepted_total",
			Help:      "Total drafted tokens accepted by the target model.",
		}),
		DraftedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speculatoviz",
			Name:      "draft_tokens_total",
			Help:      "Total tokens drafted locally, accepted or not.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "speculatoviz",
			Name:      "active_sessions",
			Help:      "Number of generation runs currently in progress.",
		}),
		RoundDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "speculatoviz",
			Name:      "round_duration_ms",
			Help:      "Wall-clock duration of one speculation round, in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		}),
		AcceptanceRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "speculatoviz",
			Name:      "last_acceptance_rate",
			Help:      "Rolling-window acceptance rate of the most recently completed round.",
		}),
		Speedup: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "speculatoviz",
			Name:      "last_speedup",
			Help:      "Rolling-window speedup over the autoregressive baseline.",
		}),
	}

	reg.MustRegister(
		m.RoundsTotal, m.TokensTotal, m.AcceptedTotal, m.DraftedTotal,
		m.ActiveSessions, m.RoundDurationMs, m.AcceptanceRate, m.Speedup,
	)
	return m
}

// ObserveMetricsEvent updates the gauges/counters from one round's
// metrics event. Callers record one call per events.MetricsEvent; the
// caller passes the round's own accepted/drafted delta (not the
// cumulative window totals) so the counters advance monotonically.
func (m *PromMetrics) ObserveMetricsEvent(roundAccepted, roundTotal int, acceptanceRate, speedup, roundDurationMs float64) {
	m.RoundsTotal.Inc()
	m.AcceptedTotal.Add(float64(roundAccepted))
	m.DraftedTotal.Add(float64(roundTotal))
	m.RoundDurationMs.Observe(roundDurationMs)
	m.AcceptanceRate.Set(acceptanceRate)
	m.Speedup.Set(speedup)
}

// ObserveTokensCommitted advances the total-tokens counter by the number
// of tokens committed in one round.
func (m *PromMetrics) ObserveTokensCommitted(n int) {
	m.TokensTotal.Add(float64(n))
}
