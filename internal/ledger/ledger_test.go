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

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
)

func newTestLedger(t *testing.T, opts Options) (*Ledger, *cache.Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	kv := cache.NewMemory()
	kv.Now = clk.Now
	l := New(kv, opts, zerolog.Nop())
	l.now = clk.Now
	return l, kv, clk
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// TestRecord_CountsAndDedups: a user's first like counts, the second within
// the marker window does not, and a different user still counts.
func TestRecord_CountsAndDedups(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	counted, v, err := l.Record(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || !counted || v != 1 {
		t.Fatalf("first like = (%v, %d, %v), want (true, 1, nil)", counted, v, err)
	}
	counted, _, err = l.Record(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || counted {
		t.Fatalf("duplicate like should not count, got (%v, %v)", counted, err)
	}
	counted, v, _ = l.Record(ctx, 2, pulse.InteractionLike, "42")
	if !counted || v != 2 {
		t.Fatalf("second user like = (%v, %d), want (true, 2)", counted, v)
	}
}

// TestRecord_UnknownTypeRejected: the unknown-type error is the one error
// that must propagate to callers.
func TestRecord_UnknownTypeRejected(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	if _, _, err := l.Record(ctx, 1, pulse.InteractionType("bookmark"), "42"); err == nil {
		t.Fatalf("unknown interaction type must be rejected")
	}
	// The internal unique_view counter type is not caller-facing either.
	if _, _, err := l.Record(ctx, 1, pulse.InteractionUniqueView, "42"); err == nil {
		t.Fatalf("internal counter type must be rejected at the API")
	}
}

// TestRecord_CommentsAccumulate: comments and shares have no dedup marker,
// so repeated calls by one user all count.
func TestRecord_CommentsAccumulate(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	for i := 1; i <= 3; i++ {
		counted, v, err := l.Record(ctx, 1, pulse.InteractionComment, "42")
		if err != nil || !counted || v != int64(i) {
			t.Fatalf("comment #%d = (%v, %d, %v)", i, counted, v, err)
		}
	}
}

// TestRecord_ThresholdSignal: every threshold crossing emits exactly one
// flush signal for the counter.
func TestRecord_ThresholdSignal(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{FlushThreshold: 3})

	for i := 0; i < 7; i++ {
		if _, _, err := l.Record(ctx, int64(i+1), pulse.InteractionLike, "42"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// counts 1..7 crossed multiples 3 and 6
	var got []FlushSignal
	for {
		select {
		case s := <-l.Signals():
			got = append(got, s)
			continue
		default:
		}
		break
	}
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(got), got)
	}
	for _, s := range got {
		if s.Type != pulse.InteractionLike || s.Target != "42" {
			t.Fatalf("unexpected signal %+v", s)
		}
	}
}

// TestRecordView_HourBucketDedup: the same user's views within one clock
// hour dedup, and count again after the hour boundary.
func TestRecordView_HourBucketDedup(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})

	counted, v, err := l.RecordView(ctx, 1, "42")
	if err != nil || !counted || v != 1 {
		t.Fatalf("first view = (%v, %d, %v)", counted, v, err)
	}
	if counted, _, _ = l.RecordView(ctx, 1, "42"); counted {
		t.Fatalf("same-hour view should dedup")
	}
	clk.Advance(61 * time.Minute)
	counted, v, _ = l.RecordView(ctx, 1, "42")
	if !counted || v != 2 {
		t.Fatalf("next-hour view = (%v, %d), want (true, 2)", counted, v)
	}
}

// TestRecordView_UniqueViewerOnce: the unique_view counter moves only on a
// user's first-ever view of the post, not on later hourly re-counts.
func TestRecordView_UniqueViewerOnce(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})

	if _, _, err := l.RecordView(ctx, 1, "42"); err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	clk.Advance(61 * time.Minute)
	if _, _, err := l.RecordView(ctx, 1, "42"); err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	if _, _, err := l.RecordView(ctx, 2, "42"); err != nil {
		t.Fatalf("RecordView: %v", err)
	}

	views, err := l.LiveCount(ctx, pulse.InteractionView, "42")
	if err != nil || views != 3 {
		t.Fatalf("views = (%d, %v), want 3", views, err)
	}
	unique, err := l.LiveCount(ctx, pulse.InteractionUniqueView, "42")
	if err != nil || unique != 2 {
		t.Fatalf("unique views = (%d, %v), want 2", unique, err)
	}
}

// TestRemove_TogglesAndGoesNegative: removing an active like decrements and
// clears the marker; removing again reports nothing to remove; and an unlike
// landing after the counter flushed leaves a negative remainder instead of
// losing the decrement.
func TestRemove_TogglesAndGoesNegative(t *testing.T) {
	ctx := context.Background()
	l, kv, _ := newTestLedger(t, Options{})

	if _, _, err := l.Record(ctx, 1, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	removed, v, err := l.Remove(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || !removed || v != 0 {
		t.Fatalf("Remove = (%v, %d, %v), want (true, 0, nil)", removed, v, err)
	}
	if removed, _, _ = l.Remove(ctx, 1, pulse.InteractionLike, "42"); removed {
		t.Fatalf("second remove should find nothing")
	}

	// Simulate the counter having been flushed: marker present, counter 0.
	if _, _, err := l.Record(ctx, 1, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := kv.AddBy(ctx, cache.CounterKey(pulse.InteractionLike, "42"), -1); err != nil {
		t.Fatalf("AddBy: %v", err)
	}
	removed, v, _ = l.Remove(ctx, 1, pulse.InteractionLike, "42")
	if !removed || v != -1 {
		t.Fatalf("Remove after flush = (%v, %d), want remainder -1", removed, v)
	}
	live, err := l.LiveCount(ctx, pulse.InteractionLike, "42")
	if err != nil || live != -1 {
		t.Fatalf("live count = (%d, %v), want -1 pending negative flush", live, err)
	}
}

// TestRemove_NonTogglable: views/comments/shares cannot be removed.
func TestRemove_NonTogglable(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	if _, _, err := l.Remove(ctx, 1, pulse.InteractionComment, "42"); err != ErrNotTogglable {
		t.Fatalf("Remove(comment) err = %v, want ErrNotTogglable", err)
	}
}

// TestToggle_Roundtrip: like -> unlike -> like through the toggle API.
func TestToggle_Roundtrip(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	active, v, err := l.Toggle(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || !active || v != 1 {
		t.Fatalf("first toggle = (%v, %d, %v), want on", active, v, err)
	}
	active, v, err = l.Toggle(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || active || v != 0 {
		t.Fatalf("second toggle = (%v, %d, %v), want off", active, v, err)
	}
	active, v, err = l.Toggle(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || !active || v != 1 {
		t.Fatalf("third toggle = (%v, %d, %v), want on again", active, v, err)
	}
}

// TestFailOpen_RecordDuringOutage: during a cache outage the interaction is
// accepted and the delta parks in the fallback accumulator; Reconcile moves
// it into the cache once the outage clears.
func TestFailOpen_RecordDuringOutage(t *testing.T) {
	ctx := context.Background()
	l, kv, _ := newTestLedger(t, Options{})

	kv.Fail(cache.ErrUnavailable)
	counted, _, err := l.Record(ctx, 1, pulse.InteractionLike, "42")
	if err != nil || !counted {
		t.Fatalf("outage Record = (%v, %v), want fail-open accept", counted, err)
	}
	if !l.Fallback().Pending() {
		t.Fatalf("delta should be parked in the fallback accumulator")
	}

	kv.Fail(nil)
	if err := l.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	v, err := l.LiveCount(ctx, pulse.InteractionLike, "42")
	if err != nil || v != 1 {
		t.Fatalf("reconciled count = (%d, %v), want 1", v, err)
	}
	if l.Fallback().Pending() {
		t.Fatalf("fallback should be empty after reconcile")
	}
}

// TestReconcile_RetainsOnFailure: if the cache is still down, drained deltas
// are re-parked instead of lost.
func TestReconcile_RetainsOnFailure(t *testing.T) {
	ctx := context.Background()
	l, kv, _ := newTestLedger(t, Options{})

	kv.Fail(cache.ErrUnavailable)
	if _, _, err := l.Record(ctx, 1, pulse.InteractionLike, "42"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Reconcile(ctx); err == nil {
		t.Fatalf("Reconcile should report failure while cache is down")
	}
	if !l.Fallback().Pending() {
		t.Fatalf("delta must be re-parked after failed reconcile")
	}
}

// TestRecord_ConcurrentDedup: many goroutines racing the same (user, type,
// target) count exactly once, because the marker increment is atomic.
func TestRecord_ConcurrentDedup(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	const goroutines = 16
	var wg sync.WaitGroup
	var countedTotal atomic.Int64
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			counted, _, err := l.Record(ctx, 1, pulse.InteractionLike, "42")
			if err != nil {
				t.Errorf("Record: %v", err)
				return
			}
			if counted {
				countedTotal.Add(1)
			}
		}()
	}
	wg.Wait()
	if countedTotal.Load() != 1 {
		t.Fatalf("counted %d times, want exactly 1", countedTotal.Load())
	}
	v, err := l.LiveCount(ctx, pulse.InteractionLike, "42")
	if err != nil || v != 1 {
		t.Fatalf("live count = (%d, %v), want 1", v, err)
	}
}

// TestFallback_ConcurrentAddDrain: concurrent adds across goroutines drain
// to the exact total.
func TestFallback_ConcurrentAddDrain(t *testing.T) {
	f := NewFallback()
	const goroutines = 16
	const perG = 500
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				f.Add("interaction:like:42", 1)
			}
		}()
	}
	wg.Wait()
	out := f.DrainAll()
	if out["interaction:like:42"] != goroutines*perG {
		t.Fatalf("drained %d, want %d", out["interaction:like:42"], goroutines*perG)
	}
	if f.Pending() {
		t.Fatalf("nothing should remain after drain")
	}
}
