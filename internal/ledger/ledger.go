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

// Package ledger is the hot write path: per-user dedup markers and volatile
// per-target counters in the key/value cache. Counting never blocks on the
// durable store, and cache outages degrade to fail-open (the interaction is
// accepted, the delta parks in an in-process fallback accumulator).
package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/telemetry"
)

// ErrNotTogglable is returned by Toggle for interaction types that only
// accumulate (views, comments, shares).
var ErrNotTogglable = errors.New("interaction type does not toggle")

// FlushSignal asks the flush coordinator to reconcile one counter soon.
type FlushSignal struct {
	Type   pulse.InteractionType
	Target string
}

// Options tunes the ledger; zero values select the defaults.
type Options struct {
	// FlushThreshold triggers a flush signal every time a counter crosses a
	// multiple of it. Default 10.
	FlushThreshold int64

	// MarkerTTL bounds dedup markers (and toggle state). Default 1h.
	MarkerTTL time.Duration

	// ViewersTTL bounds the unique-viewer sets. Default 30 days, matching
	// the longest trending window.
	ViewersTTL time.Duration

	// SignalBuffer sizes the flush request channel. Default 256.
	SignalBuffer int
}

func (o *Options) defaults() {
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = 10
	}
	if o.MarkerTTL <= 0 {
		o.MarkerTTL = time.Hour
	}
	if o.ViewersTTL <= 0 {
		o.ViewersTTL = 30 * 24 * time.Hour
	}
	if o.SignalBuffer <= 0 {
		o.SignalBuffer = 256
	}
}

// Ledger records interactions against the cache.
type Ledger struct {
	kv       cache.KeyValueCache
	opts     Options
	log      zerolog.Logger
	signals  chan FlushSignal
	fallback *Fallback

	// now is the clock; tests override it.
	now func() time.Time
}

// New builds a ledger over kv.
func New(kv cache.KeyValueCache, opts Options, log zerolog.Logger) *Ledger {
	opts.defaults()
	return &Ledger{
		kv:       kv,
		opts:     opts,
		log:      log,
		signals:  make(chan FlushSignal, opts.SignalBuffer),
		fallback: NewFallback(),
		now:      time.Now,
	}
}

// Signals is the threshold flush request stream. Signals are best-effort:
// when the buffer is full the periodic sweep picks up the counter instead.
func (l *Ledger) Signals() <-chan FlushSignal { return l.signals }

// Fallback exposes the fail-open accumulator for reconcile drains.
func (l *Ledger) Fallback() *Fallback { return l.fallback }

// Record counts one interaction. The counted result is false when the user
// was already counted for this (type, target) within the marker window.
// Views route through RecordView. The only propagated error is an unknown
// interaction type; infrastructure failures are absorbed fail-open.
func (l *Ledger) Record(ctx context.Context, userID int64, typ pulse.InteractionType, targetID string) (counted bool, count int64, err error) {
	if !typ.Valid() {
		return false, 0, pulse.ErrUnknownInteraction
	}
	if typ == pulse.InteractionView {
		return l.RecordView(ctx, userID, targetID)
	}

	// Likes and reposts are binary per user: the marker is the toggle state.
	// Comments and shares accumulate without dedup.
	if typ.Togglable() {
		seen, err := l.kv.IncrBy(ctx, cache.MarkerKey(userID, typ, targetID), 1, l.opts.MarkerTTL)
		if err != nil {
			return l.failOpen(typ, targetID, 1, err), 0, nil
		}
		if seen > 1 {
			telemetry.ObserveInteraction(string(typ), "deduplicated")
			return false, 0, nil
		}
	}
	return l.bump(ctx, typ, targetID, 1)
}

// RecordView counts a view, deduplicated per user per post per clock hour,
// and tracks the unique-viewer set. First-ever viewers additionally feed the
// internal unique_view counter.
func (l *Ledger) RecordView(ctx context.Context, userID int64, targetID string) (counted bool, count int64, err error) {
	seen, err := l.kv.IncrBy(ctx, cache.ViewMarkerKey(userID, targetID, l.now()), 1, l.opts.MarkerTTL)
	if err != nil {
		return l.failOpen(pulse.InteractionView, targetID, 1, err), 0, nil
	}
	if seen > 1 {
		telemetry.ObserveInteraction(string(pulse.InteractionView), "deduplicated")
		return false, 0, nil
	}

	member := strconv.FormatInt(userID, 10)
	added, err := l.kv.SAdd(ctx, cache.ViewersKey(targetID), member, l.opts.ViewersTTL)
	if err != nil {
		// The view itself still counts; only unique-viewer tracking is lost
		// for this event.
		telemetry.ObserveDegraded("ledger")
		l.log.Warn().Err(err).Str("target", targetID).Msg("viewer set unavailable")
	} else if added {
		if _, _, err := l.bump(ctx, pulse.InteractionUniqueView, targetID, 1); err != nil {
			return false, 0, err
		}
	}
	return l.bump(ctx, pulse.InteractionView, targetID, 1)
}

// Remove undoes a togglable interaction. It reports removed=false when there
// is no active marker to remove. The live counter may go transiently negative
// when the increment it undoes already flushed; the negative remainder
// reaches the durable store as a negative delta on the next flush.
func (l *Ledger) Remove(ctx context.Context, userID int64, typ pulse.InteractionType, targetID string) (removed bool, count int64, err error) {
	if !typ.Valid() {
		return false, 0, pulse.ErrUnknownInteraction
	}
	if !typ.Togglable() {
		return false, 0, ErrNotTogglable
	}

	marker := cache.MarkerKey(userID, typ, targetID)
	exists, err := l.kv.Exists(ctx, marker)
	if err != nil {
		return l.failOpen(typ, targetID, -1, err), 0, nil
	}
	if !exists {
		return false, 0, nil
	}
	if err := l.kv.Delete(ctx, marker); err != nil {
		return l.failOpen(typ, targetID, -1, err), 0, nil
	}

	v, err := l.kv.AddBy(ctx, cache.CounterKey(typ, targetID), -1)
	if err != nil {
		return l.failOpen(typ, targetID, -1, err), 0, nil
	}
	if v < 0 {
		// More removals than live increments means earlier counts already
		// flushed; the negative remainder flushes as a negative delta and
		// the durable side clamps at zero.
		l.log.Debug().Str("type", string(typ)).Str("target", targetID).Int64("count", v).
			Msg("live counter negative, pending negative flush")
	}
	telemetry.ObserveInteraction(string(typ), "removed")
	return true, v, nil
}

// Toggle flips a togglable interaction and reports the resulting state:
// active=true means the interaction is now present.
func (l *Ledger) Toggle(ctx context.Context, userID int64, typ pulse.InteractionType, targetID string) (active bool, count int64, err error) {
	if !typ.Valid() {
		return false, 0, pulse.ErrUnknownInteraction
	}
	if !typ.Togglable() {
		return false, 0, ErrNotTogglable
	}
	exists, err := l.kv.Exists(ctx, cache.MarkerKey(userID, typ, targetID))
	if err != nil {
		// Treat the unknown state as "not active" and count the interaction:
		// over-counting a like beats dropping it, and the marker TTL bounds
		// the error window.
		_ = l.failOpen(typ, targetID, 1, err)
		return true, 0, nil
	}
	if exists {
		_, v, err := l.Remove(ctx, userID, typ, targetID)
		return false, v, err
	}
	_, v, err := l.Record(ctx, userID, typ, targetID)
	return true, v, err
}

// HasMarker reports whether the user currently has an active marker for the
// (type, target) pair. View markers are hour-bucketed.
func (l *Ledger) HasMarker(ctx context.Context, userID int64, typ pulse.InteractionType, targetID string) (bool, error) {
	key := cache.MarkerKey(userID, typ, targetID)
	if typ == pulse.InteractionView {
		key = cache.ViewMarkerKey(userID, targetID, l.now())
	}
	return l.kv.Exists(ctx, key)
}

// LiveCount reads the unflushed counter for a (type, target) pair.
func (l *Ledger) LiveCount(ctx context.Context, typ pulse.InteractionType, targetID string) (int64, error) {
	raw, ok, err := l.kv.Get(ctx, cache.CounterKey(typ, targetID))
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Reconcile drains the fail-open accumulator back into the cache. Keys that
// still cannot be written are re-parked for the next pass.
func (l *Ledger) Reconcile(ctx context.Context) error {
	if !l.fallback.Pending() {
		return nil
	}
	drained := l.fallback.DrainAll()
	var lastErr error
	for key, net := range drained {
		if _, err := l.kv.AddBy(ctx, key, net); err != nil {
			l.fallback.Add(key, net)
			lastErr = err
			continue
		}
		if typ, target, ok := cache.ParseCounterKey(key); ok {
			l.signal(typ, target)
		}
	}
	if lastErr != nil {
		l.log.Warn().Err(lastErr).Int("keys", len(drained)).Msg("fallback reconcile incomplete")
	}
	return lastErr
}

// bump increments the live counter and emits a flush signal on threshold
// crossings.
func (l *Ledger) bump(ctx context.Context, typ pulse.InteractionType, targetID string, delta int64) (bool, int64, error) {
	v, err := l.kv.IncrBy(ctx, cache.CounterKey(typ, targetID), delta, 0)
	if err != nil {
		return l.failOpen(typ, targetID, delta, err), 0, nil
	}
	telemetry.ObserveInteraction(string(typ), "counted")
	if v > 0 && v%l.opts.FlushThreshold == 0 {
		l.signal(typ, targetID)
	}
	return true, v, nil
}

// failOpen parks the delta in the fallback accumulator and reports the
// interaction as counted. Availability wins over precision here: losing a
// like under a cache outage is worse than the small double-count risk.
func (l *Ledger) failOpen(typ pulse.InteractionType, targetID string, delta int64, err error) bool {
	telemetry.ObserveInteraction(string(typ), "degraded")
	telemetry.ObserveDegraded("ledger")
	l.fallback.Add(cache.CounterKey(typ, targetID), delta)
	l.log.Warn().Err(err).Str("type", string(typ)).Str("target", targetID).
		Msg("cache unavailable, interaction accepted fail-open")
	return true
}

// signal enqueues a flush request without blocking; a full buffer drops the
// signal and leaves the counter to the periodic sweep.
func (l *Ledger) signal(typ pulse.InteractionType, targetID string) {
	select {
	case l.signals <- FlushSignal{Type: typ, Target: targetID}:
	default:
		telemetry.ObserveSignalDropped()
	}
}
