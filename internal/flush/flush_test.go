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

package flush

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/ledger"
	"pulse/internal/store"
)

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *cache.Memory, *store.Memory, *ledger.Ledger) {
	t.Helper()
	kv := cache.NewMemory()
	db := store.NewMemory()
	led := ledger.New(kv, ledger.Options{}, zerolog.Nop())
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Millisecond
	}
	return New(kv, db, led, opts, zerolog.Nop()), kv, db, led
}

// TestFlush_MovesCountAndResets: a flush applies the live count durably and
// subtracts it from the cache counter.
func TestFlush_MovesCountAndResets(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{})

	key := cache.CounterKey(pulse.InteractionLike, "42")
	if _, err := kv.IncrBy(ctx, key, 9, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s, _ := db.GetAggregate(ctx, 42)
	if s.Likes != 9 {
		t.Fatalf("durable likes = %d, want 9", s.Likes)
	}
	raw, _, _ := kv.Get(ctx, key)
	if raw != "0" {
		t.Fatalf("counter after flush = %q, want 0", raw)
	}
}

// TestFlush_PreservesRacingWrites: increments landing between the read and
// the reset survive as a remainder instead of being lost.
func TestFlush_PreservesRacingWrites(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{})

	key := cache.CounterKey(pulse.InteractionLike, "42")
	if _, err := kv.IncrBy(ctx, key, 5, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := kv.IncrBy(ctx, key, 2, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	raw, _, _ := kv.Get(ctx, key)
	if raw != "2" {
		t.Fatalf("remainder = %q, want 2", raw)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	s, _ := db.GetAggregate(ctx, 42)
	if s.Likes != 7 {
		t.Fatalf("durable likes = %d, want 7", s.Likes)
	}
}

// TestFlush_NegativeRemainder: a counter driven negative by removals after a
// flush reconciles as a negative delta.
func TestFlush_NegativeRemainder(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{})

	key := cache.CounterKey(pulse.InteractionLike, "42")
	if _, err := kv.IncrBy(ctx, key, 5, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Two unlikes after the flush leave the live counter at -2.
	if _, err := kv.AddBy(ctx, key, -2); err != nil {
		t.Fatalf("AddBy: %v", err)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("negative Flush: %v", err)
	}
	s, _ := db.GetAggregate(ctx, 42)
	if s.Likes != 3 {
		t.Fatalf("durable likes = %d, want 3 after negative reconcile", s.Likes)
	}
	raw, _, _ := kv.Get(ctx, key)
	if raw != "0" {
		t.Fatalf("counter after negative flush = %q, want 0", raw)
	}
}

// TestFlush_EmptyCounterNoop: missing and zero counters produce no durable
// write.
func TestFlush_EmptyCounterNoop(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{})

	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush missing: %v", err)
	}
	if _, err := kv.IncrBy(ctx, cache.CounterKey(pulse.InteractionLike, "42"), 0, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush zero: %v", err)
	}
	if db.FlushCalls() != 0 {
		t.Fatalf("durable store saw %d writes, want 0", db.FlushCalls())
	}
}

// TestFlush_RetriesTransientFailure: two injected failures are retried away
// and the count is neither lost nor doubled.
func TestFlush_RetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	if _, err := kv.IncrBy(ctx, cache.CounterKey(pulse.InteractionLike, "42"), 4, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	db.FailNextFlushes(2, nil)
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Flush should succeed on third attempt: %v", err)
	}
	s, _ := db.GetAggregate(ctx, 42)
	if s.Likes != 4 {
		t.Fatalf("durable likes = %d, want 4", s.Likes)
	}
	if db.FlushCalls() != 3 {
		t.Fatalf("attempts = %d, want 3", db.FlushCalls())
	}
}

// TestFlush_ExhaustedRetriesKeepCounter: when every attempt fails, the live
// counter stays intact for the next sweep.
func TestFlush_ExhaustedRetriesKeepCounter(t *testing.T) {
	ctx := context.Background()
	c, kv, db, _ := newTestCoordinator(t, Options{MaxAttempts: 2, BaseBackoff: time.Millisecond})

	key := cache.CounterKey(pulse.InteractionLike, "42")
	if _, err := kv.IncrBy(ctx, key, 4, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	db.FailNextFlushes(5, nil)
	if err := c.Flush(ctx, pulse.InteractionLike, "42"); err == nil {
		t.Fatalf("Flush should fail after exhausting retries")
	}
	raw, _, _ := kv.Get(ctx, key)
	if raw != "4" {
		t.Fatalf("counter after failed flush = %q, want 4", raw)
	}
}

// TestFlushAll_SweepsEveryCounter: the periodic sweep flushes all counter
// keys, ignores foreign keys, and first drains the fail-open accumulator.
func TestFlushAll_SweepsEveryCounter(t *testing.T) {
	ctx := context.Background()
	c, kv, db, led := newTestCoordinator(t, Options{})

	// One counter written normally, one parked in the fallback during an
	// outage, one foreign key that must be skipped.
	if _, err := kv.IncrBy(ctx, cache.CounterKey(pulse.InteractionView, "7"), 3, 0); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	kv.Fail(cache.ErrUnavailable)
	if _, _, err := led.Record(ctx, 1, pulse.InteractionLike, "9"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	kv.Fail(nil)
	if err := kv.Set(ctx, "post:stats:1", "{}", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	flushed, err := c.FlushAll(ctx)
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if flushed != 2 {
		t.Fatalf("flushed %d counters, want 2", flushed)
	}
	if s, _ := db.GetAggregate(ctx, 7); s.Views != 3 {
		t.Fatalf("views = %d, want 3", s.Views)
	}
	if s, _ := db.GetAggregate(ctx, 9); s.Likes != 1 {
		t.Fatalf("likes = %d, want 1 (fallback delta must reach the store)", s.Likes)
	}
}

// TestRun_ConsumesThresholdSignals: the background loop turns a threshold
// signal into a durable flush.
func TestRun_ConsumesThresholdSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _, db, led := newTestCoordinator(t, Options{})

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Threshold default is 10: ten distinct users like the post.
	for i := 1; i <= 10; i++ {
		if _, _, err := led.Record(ctx, int64(i), pulse.InteractionLike, "42"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		s, _ := db.GetAggregate(ctx, 42)
		if s.Likes == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("durable likes = %d, want 10 before deadline", s.Likes)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
