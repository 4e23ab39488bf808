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
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a mutable clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestMemory_TTLExpiry verifies that a key set with a TTL is absent after
// the TTL elapses: markers and rate windows must vanish so the action
// becomes countable/permitted again.
func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := NewMemory()
	m.Now = clk.Now

	if err := m.Set(ctx, "seen:1:like:42", "1", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, _ := m.Exists(ctx, "seen:1:like:42"); !ok {
		t.Fatalf("key should exist before TTL")
	}
	clk.Advance(time.Hour + time.Second)
	if ok, _ := m.Exists(ctx, "seen:1:like:42"); ok {
		t.Fatalf("key should have expired")
	}
}

// TestMemory_IncrBy_TTLOnCreate verifies TTL attaches only when the
// operation creates the key, and increments return running totals.
func TestMemory_IncrBy_TTLOnCreate(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := NewMemory()
	m.Now = clk.Now

	if v, err := m.IncrBy(ctx, "interaction:like:7", 1, time.Hour); err != nil || v != 1 {
		t.Fatalf("first incr = (%d, %v), want (1, nil)", v, err)
	}
	clk.Advance(30 * time.Minute)
	if v, _ := m.IncrBy(ctx, "interaction:like:7", 2, time.Hour); v != 3 {
		t.Fatalf("second incr = %d, want 3", v)
	}
	// TTL was fixed at creation; 31 more minutes crosses the original hour.
	clk.Advance(31 * time.Minute)
	if ok, _ := m.Exists(ctx, "interaction:like:7"); ok {
		t.Fatalf("counter should have expired relative to creation time")
	}
}

// TestMemory_AddBy_AllowsNegative verifies the unfloored delta used by the
// flush reset idiom and by toggle removals: a remainder may go transiently
// negative.
func TestMemory_AddBy_AllowsNegative(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.AddBy(ctx, "k", 4); err != nil {
		t.Fatalf("AddBy: %v", err)
	}
	v, err := m.AddBy(ctx, "k", -10)
	if err != nil || v != -6 {
		t.Fatalf("AddBy(-10) = (%d, %v), want (-6, nil)", v, err)
	}
}

// TestMemory_SAdd_Dedup verifies set-membership dedup used for unique
// viewer tracking.
func TestMemory_SAdd_Dedup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	added, err := m.SAdd(ctx, "viewers:42", "101", time.Hour)
	if err != nil || !added {
		t.Fatalf("first SAdd = (%v, %v), want (true, nil)", added, err)
	}
	if added, _ = m.SAdd(ctx, "viewers:42", "101", time.Hour); added {
		t.Fatalf("duplicate SAdd should report not-added")
	}
	if n, _ := m.SCard(ctx, "viewers:42"); n != 1 {
		t.Fatalf("SCard = %d, want 1", n)
	}
}

// TestMemory_ScanPattern verifies glob enumeration for sweep and pattern
// invalidation.
func TestMemory_ScanPattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"interaction:like:1", "interaction:view:1", "post:stats:1"} {
		if _, err := m.IncrBy(ctx, k, 1, 0); err != nil {
			t.Fatalf("IncrBy(%s): %v", k, err)
		}
	}
	keys, err := m.Scan(ctx, "interaction:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Scan matched %d keys, want 2: %v", len(keys), keys)
	}
}

// TestMemory_FailInjection verifies every operation surfaces the injected
// outage error, which callers treat as ErrUnavailable.
func TestMemory_FailInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Fail(ErrUnavailable)
	if _, _, err := m.Get(ctx, "k"); err == nil {
		t.Fatalf("Get should fail during injected outage")
	}
	if _, err := m.IncrBy(ctx, "k", 1, 0); err == nil {
		t.Fatalf("IncrBy should fail during injected outage")
	}
	m.Fail(nil)
	if _, err := m.IncrBy(ctx, "k", 1, 0); err != nil {
		t.Fatalf("IncrBy after recovery: %v", err)
	}
}

// TestMemory_ConcurrentIncrements checks linearizable per-key arithmetic
// under concurrency.
func TestMemory_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	const goroutines = 32
	const perG = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				if _, err := m.IncrBy(ctx, "hot", 1, 0); err != nil {
					t.Errorf("IncrBy: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	v, _, err := m.Get(ctx, "hot")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "3200" {
		t.Fatalf("final value = %s, want 3200", v)
	}
}
