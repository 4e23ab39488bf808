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

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pulse"
)

// Memory is an in-process Store for tests. It mirrors the Postgres
// semantics: flush idempotency by flush id, clamp-at-zero aggregates, and
// upsert tag stats. FailNextFlushes injects transient ApplyFlush failures
// to exercise retry paths.
type Memory struct {
	mu sync.Mutex

	aggregates map[int64]pulse.EngagementStats
	applied    map[string]bool
	events     []pulse.TrendingEvent
	tags       map[string]pulse.TagStats
	follows    map[int64]map[string]time.Time
	history    []pulse.InteractionRecord

	flushFailures int
	flushErr      error
	flushCalls    int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		aggregates: make(map[int64]pulse.EngagementStats),
		applied:    make(map[string]bool),
		tags:       make(map[string]pulse.TagStats),
		follows:    make(map[int64]map[string]time.Time),
	}
}

// FailNextFlushes makes the next n ApplyFlush calls return err.
func (m *Memory) FailNextFlushes(n int, err error) {
	m.mu.Lock()
	m.flushFailures = n
	m.flushErr = err
	m.mu.Unlock()
}

// FlushCalls reports how many ApplyFlush attempts were made, including
// injected failures.
func (m *Memory) FlushCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushCalls
}

func (m *Memory) ApplyFlush(_ context.Context, entry FlushEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	if m.flushFailures > 0 {
		m.flushFailures--
		if m.flushErr != nil {
			return m.flushErr
		}
		return errors.New("injected flush failure")
	}
	if entry.FlushID == "" {
		return errors.New("FlushEntry.FlushID must be set")
	}
	if m.applied[entry.FlushID] {
		return nil
	}
	field, err := AggregateField(entry.Type)
	if err != nil {
		return err
	}
	m.applied[entry.FlushID] = true

	s := m.aggregates[entry.PostID]
	s.PostID = entry.PostID
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	switch field {
	case "likes_count":
		s.Likes = clamp(s.Likes + entry.Amount)
	case "views_count":
		s.Views = clamp(s.Views + entry.Amount)
	case "reposts_count":
		s.Reposts = clamp(s.Reposts + entry.Amount)
	case "comments_count":
		s.Comments = clamp(s.Comments + entry.Amount)
	case "shares_count":
		s.Shares = clamp(s.Shares + entry.Amount)
	case "unique_viewers":
		s.UniqueViewers = clamp(s.UniqueViewers + entry.Amount)
	}
	s.LastUpdated = entry.At
	m.aggregates[entry.PostID] = s
	return nil
}

func (m *Memory) GetAggregate(_ context.Context, postID int64) (pulse.EngagementStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.aggregates[postID]
	if !ok {
		return pulse.EngagementStats{PostID: postID}, nil
	}
	s.EngagementScore = s.Score()
	return s, nil
}

func (m *Memory) GetAggregates(ctx context.Context, postIDs []int64) (map[int64]pulse.EngagementStats, error) {
	out := make(map[int64]pulse.EngagementStats, len(postIDs))
	for _, id := range postIDs {
		s, err := m.GetAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = s
	}
	return out, nil
}

func (m *Memory) AppendEvent(_ context.Context, ev pulse.TrendingEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) QueryEvents(_ context.Context, types []string, since time.Time) ([]pulse.TrendingEvent, error) {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pulse.TrendingEvent
	for _, ev := range m.events {
		if wanted[ev.Type] && !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) RecordTagUsage(_ context.Context, tag, category string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tags[tag]
	if !ok {
		s = pulse.TagStats{Tag: tag, Category: category, FirstSeen: at}
	}
	s.UsageCount++
	s.LastUsed = at
	m.tags[tag] = s
	return nil
}

func (m *Memory) RecordTagView(_ context.Context, tag string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tags[tag]
	if !ok {
		s = pulse.TagStats{Tag: tag, FirstSeen: at, LastUsed: at}
	}
	s.ViewCount++
	m.tags[tag] = s
	return nil
}

func (m *Memory) AdjustFollowers(_ context.Context, tag, category string, delta int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tags[tag]
	if !ok {
		s = pulse.TagStats{Tag: tag, Category: category, FirstSeen: at, LastUsed: at}
	}
	s.FollowerCount += delta
	if s.FollowerCount < 0 {
		s.FollowerCount = 0
	}
	m.tags[tag] = s
	return nil
}

func (m *Memory) GetTagStats(_ context.Context, tags []string) (map[string]pulse.TagStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]pulse.TagStats, len(tags))
	for _, t := range tags {
		if s, ok := m.tags[t]; ok {
			out[t] = s
		}
	}
	return out, nil
}

func (m *Memory) InsertFollow(_ context.Context, userID int64, tag string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.follows[userID]
	if !ok {
		set = make(map[string]time.Time)
		m.follows[userID] = set
	}
	if _, exists := set[tag]; exists {
		return false, nil
	}
	set[tag] = at
	return true, nil
}

func (m *Memory) DeleteFollow(_ context.Context, userID int64, tag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.follows[userID]
	if !ok {
		return false, nil
	}
	if _, exists := set[tag]; !exists {
		return false, nil
	}
	delete(set, tag)
	return true, nil
}

func (m *Memory) CheckFollows(_ context.Context, userID int64, tags []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.follows[userID]
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		_, ok := set[t]
		out[t] = ok
	}
	return out, nil
}

func (m *Memory) ListFollows(_ context.Context, userID int64, limit int) ([]Follow, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var follows []Follow
	for tag, at := range m.follows[userID] {
		follows = append(follows, Follow{UserID: userID, Tag: tag, FollowedAt: at})
	}
	sort.Slice(follows, func(i, j int) bool {
		if follows[i].FollowedAt.Equal(follows[j].FollowedAt) {
			return follows[i].Tag < follows[j].Tag
		}
		return follows[i].FollowedAt.After(follows[j].FollowedAt)
	})
	if len(follows) > limit {
		follows = follows[:limit]
	}
	return follows, nil
}

func (m *Memory) AppendInteraction(_ context.Context, rec pulse.InteractionRecord) error {
	m.mu.Lock()
	m.history = append(m.history, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) UserHistory(_ context.Context, userID int64, typ pulse.InteractionType, limit int) ([]pulse.InteractionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []pulse.InteractionRecord
	for _, r := range m.history {
		if r.UserID != userID {
			continue
		}
		if typ != "" && r.Type != typ {
			continue
		}
		recs = append(recs, r)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

var _ Store = (*Memory)(nil)
