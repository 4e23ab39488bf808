// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
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

// Package telemetry exposes the engine's Prometheus metrics. All helpers are
// safe on hot paths; label cardinality is bounded to interaction types and
// fixed outcome strings.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	interactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_interactions_total",
		Help: "Interactions recorded, by type and outcome (counted, deduplicated, removed, degraded)",
	}, []string{"type", "outcome"})

	flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_flushes_total",
		Help: "Flush attempts by outcome (applied, retried, failed, empty)",
	}, []string{"outcome"})

	flushAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_flush_amount",
		Help:    "Absolute counter delta reconciled per flush",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_flush_duration_seconds",
		Help:    "Durable flush latency including retries",
		Buckets: prometheus.DefBuckets,
	})

	sweepKeys = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_sweep_keys",
		Help:    "Counter keys enumerated per periodic flush sweep",
		Buckets: []float64{0, 1, 4, 16, 64, 256, 1024, 4096},
	})

	degradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_degraded_operations_total",
		Help: "Operations that fell back to fail-open behavior because the cache was unavailable",
	}, []string{"component"})

	signalsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_flush_signals_dropped_total",
		Help: "Threshold flush signals dropped on a full buffer (the periodic sweep is the backstop)",
	})

	rateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_rate_decisions_total",
		Help: "Rate limiter decisions (allowed, limited, degraded)",
	}, []string{"action", "decision"})

	trendingRefreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_trending_refresh_duration_seconds",
		Help:    "Windowed trend aggregation latency per scope",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	responseCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_response_cache_total",
		Help: "Response cache lookups by outcome (hit, miss, bypass)",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(interactionsTotal, flushesTotal, flushAmount,
		flushDuration, sweepKeys, degradedTotal, signalsDroppedTotal,
		rateDecisionsTotal, trendingRefreshDuration, responseCacheTotal)
}

// Handler serves the default registry for the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

func ObserveInteraction(typ, outcome string) {
	interactionsTotal.WithLabelValues(typ, outcome).Inc()
}

func ObserveFlush(outcome string) {
	flushesTotal.WithLabelValues(outcome).Inc()
}

func ObserveFlushApplied(amount int64, seconds float64) {
	if amount < 0 {
		amount = -amount
	}
	flushAmount.Observe(float64(amount))
	flushDuration.Observe(seconds)
}

func ObserveSweep(keys int) {
	sweepKeys.Observe(float64(keys))
}

func ObserveDegraded(component string) {
	degradedTotal.WithLabelValues(component).Inc()
}

func ObserveSignalDropped() {
	signalsDroppedTotal.Inc()
}

func ObserveRateDecision(action, decision string) {
	rateDecisionsTotal.WithLabelValues(action, decision).Inc()
}

func ObserveTrendingRefresh(scope string, seconds float64) {
	trendingRefreshDuration.WithLabelValues(scope).Observe(seconds)
}

func ObserveResponseCache(outcome string) {
	responseCacheTotal.WithLabelValues(outcome).Inc()
}
