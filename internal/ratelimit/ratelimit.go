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

// Package ratelimit admits actions per (subject, action) pair on a fixed
// window over the shared cache. The limiter is advisory: when the cache is
// unavailable the decision is allow, because refusing user actions over an
// infrastructure blip costs more than briefly exceeding a quota.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pulse/internal/cache"
	"pulse/internal/telemetry"
)

// Rule is one admission quota: at most Limit actions per Window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRules covers the engine's write actions.
var DefaultRules = map[string]Rule{
	"interaction": {Limit: 100, Window: time.Minute},
	"follow":      {Limit: 30, Window: time.Minute},
	"trending":    {Limit: 60, Window: time.Minute},
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64

	// Degraded marks a fail-open allow issued during a cache outage.
	Degraded bool
}

// Limiter checks quotas against the cache.
type Limiter struct {
	kv       cache.KeyValueCache
	rules    map[string]Rule
	fallback Rule
	log      zerolog.Logger
}

// New builds a limiter. Actions without an explicit rule use fallback; a
// zero fallback disables limiting for unknown actions.
func New(kv cache.KeyValueCache, rules map[string]Rule, fallback Rule, log zerolog.Logger) *Limiter {
	if rules == nil {
		rules = DefaultRules
	}
	return &Limiter{kv: kv, rules: rules, fallback: fallback, log: log}
}

// Allow records one attempt and decides admission. The window starts at the
// first attempt and expires as a whole (fixed window, not sliding).
func (l *Limiter) Allow(ctx context.Context, subject, action string) Decision {
	rule, ok := l.rules[action]
	if !ok {
		rule = l.fallback
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: -1}
	}

	count, err := l.kv.IncrBy(ctx, cache.RateKey(subject, action), 1, rule.Window)
	if err != nil {
		telemetry.ObserveRateDecision(action, "degraded")
		telemetry.ObserveDegraded("ratelimit")
		l.log.Warn().Err(err).Str("action", action).Msg("rate limiter degraded, allowing")
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: 0, Degraded: true}
	}
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count > rule.Limit {
		telemetry.ObserveRateDecision(action, "limited")
		return Decision{Allowed: false, Limit: rule.Limit, Remaining: 0}
	}
	telemetry.ObserveRateDecision(action, "allowed")
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: remaining}
}
