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

// Package flush reconciles volatile cache counters into the durable
// aggregate store. Each flush is attributed with a fresh id so retries and
// replays are idempotent on the durable side, and counters are reset by
// subtracting the flushed amount rather than deleting the key, so writes
// racing the flush survive as a remainder.
package flush

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/ledger"
	"pulse/internal/store"
	"pulse/internal/telemetry"
)

// Options tunes the coordinator; zero values select the defaults.
type Options struct {
	// MaxAttempts bounds durable write retries per flush. Default 3.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	// Default 100ms.
	BaseBackoff time.Duration
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
}

// Coordinator owns all durable aggregate writes.
type Coordinator struct {
	kv   cache.KeyValueCache
	db   store.EngagementStore
	led  *ledger.Ledger
	opts Options
	log  zerolog.Logger

	now func() time.Time
}

// New builds a coordinator. led may be nil when no fallback reconciliation
// is wanted (tests).
func New(kv cache.KeyValueCache, db store.EngagementStore, led *ledger.Ledger, opts Options, log zerolog.Logger) *Coordinator {
	opts.defaults()
	return &Coordinator{kv: kv, db: db, led: led, opts: opts, log: log, now: time.Now}
}

// Run consumes threshold flush signals until ctx is done. Intended to run
// as a single background goroutine; per-signal failures are logged and do
// not stop the loop.
func (c *Coordinator) Run(ctx context.Context) {
	if c.led == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-c.led.Signals():
			if err := c.Flush(ctx, sig.Type, sig.Target); err != nil {
				c.log.Error().Err(err).Str("type", string(sig.Type)).Str("target", sig.Target).
					Msg("threshold flush failed")
			}
		}
	}
}

// Flush reconciles one counter. A zero or missing counter is a no-op. The
// durable write retries with exponential backoff; the counter is reset only
// after the write landed, so a flush that ultimately fails leaves the count
// in the cache for the next pass.
func (c *Coordinator) Flush(ctx context.Context, typ pulse.InteractionType, targetID string) error {
	key := cache.CounterKey(typ, targetID)
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		telemetry.ObserveFlush("empty")
		return nil
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.log.Error().Str("key", key).Str("raw", raw).Msg("counter holds a non-integer value, dropping key")
		return c.kv.Delete(ctx, key)
	}
	if amount == 0 {
		telemetry.ObserveFlush("empty")
		return nil
	}

	postID, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		c.log.Error().Str("key", key).Msg("counter target is not a post id, dropping key")
		return c.kv.Delete(ctx, key)
	}

	entry := store.FlushEntry{
		FlushID: uuid.NewString(),
		PostID:  postID,
		Type:    typ,
		Amount:  amount,
		At:      c.now(),
	}
	start := c.now()
	if err := c.apply(ctx, entry); err != nil {
		telemetry.ObserveFlush("failed")
		return err
	}
	telemetry.ObserveFlush("applied")
	telemetry.ObserveFlushApplied(amount, c.now().Sub(start).Seconds())

	// Subtract what was flushed instead of deleting: increments that raced
	// the durable write remain as a remainder (possibly negative after
	// removals), to be picked up by the next flush.
	if _, err := c.kv.AddBy(ctx, key, -amount); err != nil {
		// The durable write landed but the reset did not; the next flush of
		// this key will re-apply the same amount under a new flush id.
		// Rare, bounded by the sweep interval, and biased toward
		// over-counting rather than loss.
		c.log.Warn().Err(err).Str("key", key).Int64("amount", amount).
			Msg("counter reset failed after durable write")
		return err
	}
	return nil
}

// FlushAll sweeps every live counter: first draining the fail-open
// accumulator back into the cache, then flushing each counter key found.
// Returns the number of counters flushed.
func (c *Coordinator) FlushAll(ctx context.Context) (int, error) {
	if c.led != nil {
		if err := c.led.Reconcile(ctx); err != nil {
			c.log.Warn().Err(err).Msg("fallback reconcile failed during sweep")
		}
	}
	keys, err := c.kv.Scan(ctx, cache.CounterPrefix+"*")
	if err != nil {
		return 0, err
	}
	telemetry.ObserveSweep(len(keys))

	flushed := 0
	var lastErr error
	for _, key := range keys {
		typ, target, ok := cache.ParseCounterKey(key)
		if !ok {
			continue
		}
		if err := c.Flush(ctx, typ, target); err != nil {
			lastErr = err
			continue
		}
		flushed++
	}
	return flushed, lastErr
}

// apply writes the entry with bounded retries.
func (c *Coordinator) apply(ctx context.Context, entry store.FlushEntry) error {
	var err error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			telemetry.ObserveFlush("retried")
			backoff := c.opts.BaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = c.db.ApplyFlush(ctx, entry); err == nil {
			return nil
		}
	}
	return err
}
