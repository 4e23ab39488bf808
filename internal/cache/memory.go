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
	"path"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process KeyValueCache used by tests and by dependency-free
// demo wiring. It honors TTLs against an injectable clock and can simulate
// an outage via Fail, which makes every operation return the given error.
type Memory struct {
	mu sync.Mutex
	// Now supplies the clock; tests override it to drive TTL expiry
	// deterministically. Must be set before concurrent use.
	Now func() time.Time

	entries map[string]*memEntry
	failErr error
}

type memEntry struct {
	val       string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-memory cache on the wall clock.
func NewMemory() *Memory {
	return &Memory{Now: time.Now, entries: make(map[string]*memEntry)}
}

// Fail forces all subsequent operations to return err; Fail(nil) restores
// normal operation. Used to exercise fail-open paths.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// live returns the entry for key if present and unexpired, lazily dropping
// expired entries. Caller holds m.mu.
func (m *Memory) live(key string) (*memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", false, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	e := &memEntry{val: value}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, by int64, ttlOnCreate time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		e = &memEntry{}
		if ttlOnCreate > 0 {
			e.expiresAt = m.Now().Add(ttlOnCreate)
		}
		m.entries[key] = e
	}
	cur, _ := strconv.ParseInt(e.val, 10, 64)
	cur += by
	e.val = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) AddBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		e = &memEntry{}
		m.entries[key] = e
	}
	cur, _ := strconv.ParseInt(e.val, 10, 64)
	cur += delta
	e.val = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var keys []string
	for k := range m.entries {
		if _, ok := m.live(k); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) MGet(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if e, ok := m.live(k); ok {
			out[k] = e.val
		}
	}
	return out, nil
}

func (m *Memory) SAdd(_ context.Context, key, member string, ttlOnCreate time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		e = &memEntry{set: make(map[string]struct{})}
		if ttlOnCreate > 0 {
			e.expiresAt = m.Now().Add(ttlOnCreate)
		}
		m.entries[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	if _, exists := e.set[member]; exists {
		return false, nil
	}
	e.set[member] = struct{}{}
	return true, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}
