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
	"sync"
	"sync/atomic"
)

// stripes per key; power of two so the chooser can mask.
const fallbackStripes = 8

// over-pad to 128 bytes to avoid false sharing on hot keys
const stripePad = 128 - 8

type stripe struct {
	val atomic.Int64
	_   [stripePad]byte
}

// fallbackCounter is a striped in-process accumulator for one counter key.
// Writers spread across stripes so a hot post during a cache outage does not
// serialize on a single atomic.
type fallbackCounter struct {
	stripes [fallbackStripes]stripe
	chooser atomic.Uint64
}

func (c *fallbackCounter) add(delta int64) {
	i := c.chooser.Add(1) & (fallbackStripes - 1)
	c.stripes[i].val.Add(delta)
}

// drain zeroes the stripes and returns the accumulated net.
func (c *fallbackCounter) drain() int64 {
	var sum int64
	for i := range c.stripes {
		sum += c.stripes[i].val.Swap(0)
	}
	return sum
}

// Fallback absorbs counter deltas while the cache is unavailable, keyed by
// the counter key the delta was destined for. The flush sweep drains it back
// into the cache once connectivity returns, so fail-open increments are
// delayed rather than lost (process crash loses them; accepted trade-off).
type Fallback struct {
	mu       sync.RWMutex
	counters map[string]*fallbackCounter
}

// NewFallback returns an empty accumulator.
func NewFallback() *Fallback {
	return &Fallback{counters: make(map[string]*fallbackCounter)}
}

// Add accumulates delta for key.
func (f *Fallback) Add(key string, delta int64) {
	f.mu.RLock()
	c, ok := f.counters[key]
	f.mu.RUnlock()
	if !ok {
		f.mu.Lock()
		c, ok = f.counters[key]
		if !ok {
			c = &fallbackCounter{}
			f.counters[key] = c
		}
		f.mu.Unlock()
	}
	c.add(delta)
}

// DrainAll empties every counter and returns the non-zero nets by key.
// Concurrent Adds during the drain land in the next drain.
func (f *Fallback) DrainAll() map[string]int64 {
	f.mu.RLock()
	keys := make([]string, 0, len(f.counters))
	for k := range f.counters {
		keys = append(keys, k)
	}
	f.mu.RUnlock()

	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		f.mu.RLock()
		c := f.counters[k]
		f.mu.RUnlock()
		if net := c.drain(); net != 0 {
			out[k] = net
		}
	}
	return out
}

// Pending reports whether any counter holds a non-zero net. Approximate
// under concurrency; used only to decide whether a reconcile pass is worth
// attempting.
func (f *Fallback) Pending() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.counters {
		var sum int64
		for i := range c.stripes {
			sum += c.stripes[i].val.Load()
		}
		if sum != 0 {
			return true
		}
	}
	return false
}
