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

// Package cache abstracts the process-external key/value store that holds
// all fast-path engine state: live counters, dedup markers, rate-limit
// windows, and cached read models. The production implementation wraps
// Redis; tests use the in-memory implementation in memory.go.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the cache cannot be reached (connection failure
// or open circuit breaker). Callers decide fail-open vs fail-closed by
// inspecting for this error; it must never propagate to end users.
var ErrUnavailable = errors.New("cache unavailable")

// KeyValueCache is the minimal surface the engine needs from the external
// key/value store. All mutating counter operations are atomic with respect
// to concurrent callers of the same key.
type KeyValueCache interface {
	// Get returns the raw value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// IncrBy atomically adds by (which may be negative) and returns the new
	// value. When the operation creates the key and ttlOnCreate > 0, the TTL
	// is set in the same atomic step.
	IncrBy(ctx context.Context, key string, by int64, ttlOnCreate time.Duration) (int64, error)

	// AddBy atomically applies a signed delta with no floor. Used by the
	// flush reset idiom and by toggle removals, where a transiently
	// negative remainder is legal and flushes as a negative delta.
	AddBy(ctx context.Context, key string, delta int64) (int64, error)

	// Exists reports key presence without reading the value.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Scan returns all keys matching a glob pattern. Intended for the
	// periodic flush sweep and pattern invalidation, not hot paths.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// MGet fetches several keys in one round trip; absent keys are omitted
	// from the result map.
	MGet(ctx context.Context, keys []string) (map[string]string, error)

	// SAdd adds a member to a set, returning true when the member was newly
	// added. ttlOnCreate applies when the set has no expiry yet.
	SAdd(ctx context.Context, key, member string, ttlOnCreate time.Duration) (bool, error)

	// SCard returns the set cardinality (0 for a missing key).
	SCard(ctx context.Context, key string) (int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
