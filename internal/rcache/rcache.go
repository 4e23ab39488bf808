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

// Package rcache is a typed JSON response cache over the shared key/value
// cache. It is strictly best-effort: every failure reads as a miss and every
// write failure is swallowed, so a cache outage slows reads down but never
// breaks them.
package rcache

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pulse/internal/cache"
	"pulse/internal/telemetry"
)

// Cache serializes values of T as JSON under a caller-chosen key.
type Cache[T any] struct {
	kv  cache.KeyValueCache
	ttl time.Duration
	log zerolog.Logger
}

// New builds a cache with a fixed TTL for all entries.
func New[T any](kv cache.KeyValueCache, ttl time.Duration, log zerolog.Logger) *Cache[T] {
	return &Cache[T]{kv: kv, ttl: ttl, log: log}
}

// Get returns the cached value for key, or ok=false on miss, decode failure
// or cache outage.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		telemetry.ObserveResponseCache("bypass")
		return zero, false
	}
	if !ok {
		telemetry.ObserveResponseCache("miss")
		return zero, false
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// A decode failure means the entry predates a shape change; drop it.
		c.log.Debug().Err(err).Str("key", key).Msg("evicting undecodable cache entry")
		_ = c.kv.Delete(ctx, key)
		telemetry.ObserveResponseCache("miss")
		return zero, false
	}
	telemetry.ObserveResponseCache("hit")
	return v, true
}

// Set stores v under key. Failures are logged and ignored.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("response cache encode failed")
		return
	}
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("response cache write skipped")
	}
}

// GetOrFill returns the cached value or computes it with fill and caches the
// result. fill errors propagate; a failed fill is never cached.
func (c *Cache[T]) GetOrFill(ctx context.Context, key string, fill func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := fill(ctx)
	if err != nil {
		return v, err
	}
	c.Set(ctx, key, v)
	return v, nil
}

// Invalidate removes specific keys; failures are ignored (the TTL bounds
// staleness anyway).
func (c *Cache[T]) Invalidate(ctx context.Context, keys ...string) {
	if err := c.kv.Delete(ctx, keys...); err != nil {
		c.log.Debug().Err(err).Msg("cache invalidation skipped")
	}
}

// InvalidatePattern removes every key matching the glob pattern.
func (c *Cache[T]) InvalidatePattern(ctx context.Context, pattern string) {
	keys, err := c.kv.Scan(ctx, pattern)
	if err != nil || len(keys) == 0 {
		return
	}
	c.Invalidate(ctx, keys...)
}
