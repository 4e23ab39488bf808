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

package cache

import (
	"testing"
	"time"

	"pulse"
)

// TestCounterKeyRoundTrip ensures the sweep can recover (type, target) from
// every key the ledger writes.
func TestCounterKeyRoundTrip(t *testing.T) {
	key := CounterKey(pulse.InteractionLike, "42")
	if key != "interaction:like:42" {
		t.Fatalf("CounterKey = %q", key)
	}
	typ, target, ok := ParseCounterKey(key)
	if !ok || typ != pulse.InteractionLike || target != "42" {
		t.Fatalf("ParseCounterKey(%q) = (%q, %q, %v)", key, typ, target, ok)
	}
}

// TestParseCounterKey_Rejects covers foreign and malformed keys the scan
// may sweep up.
func TestParseCounterKey_Rejects(t *testing.T) {
	for _, key := range []string{
		"post:stats:42",
		"interaction:",
		"interaction:like:",
		"interaction:bookmark:42",
	} {
		if _, _, ok := ParseCounterKey(key); ok {
			t.Errorf("ParseCounterKey(%q) should be rejected", key)
		}
	}
}

// TestViewMarkerKey_HourBucket: views dedup per user per post per clock
// hour, so the marker key must change across hour boundaries.
func TestViewMarkerKey_HourBucket(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 59, 0, 0, time.UTC)
	k1 := ViewMarkerKey(101, "42", at)
	k2 := ViewMarkerKey(101, "42", at.Add(30*time.Second))
	if k1 != k2 {
		t.Fatalf("same hour must map to same marker: %q vs %q", k1, k2)
	}
	k3 := ViewMarkerKey(101, "42", at.Add(2*time.Minute))
	if k1 == k3 {
		t.Fatalf("crossing the hour boundary must change the marker key")
	}
}

// TestTrendingCacheKey_CategoryDefault keeps the empty category distinct
// from named ones but stable.
func TestTrendingCacheKey_CategoryDefault(t *testing.T) {
	all := TrendingCacheKey("hashtag", pulse.TimeframeDay, "", 10)
	tech := TrendingCacheKey("hashtag", pulse.TimeframeDay, "technology", 10)
	if all == tech {
		t.Fatalf("category must be part of the cache key")
	}
	if all != TrendingCacheKey("hashtag", pulse.TimeframeDay, "", 10) {
		t.Fatalf("cache key must be deterministic")
	}
}
