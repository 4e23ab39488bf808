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

// Package store defines the durable system-of-record contracts: per-post
// engagement aggregates owned by flush writes, the append-only trending
// event log, denormalized tag stats, hashtag follows, and interaction
// history. The Postgres implementation applies flushes idempotently; the
// in-memory implementation backs tests.
package store

import (
	"context"
	"fmt"
	"time"

	"pulse"
)

// FlushEntry is one attributable reconciliation of a live counter into the
// durable aggregate. FlushID is the idempotency key: re-applying an entry
// with a known id is a no-op, which makes flush retries safe.
type FlushEntry struct {
	FlushID string
	PostID  int64
	Type    pulse.InteractionType
	Amount  int64 // signed; negative entries unwind earlier over-counts
	At      time.Time
}

// Follow is one user-to-hashtag follow edge.
type Follow struct {
	UserID     int64     `json:"user_id"`
	Tag        string    `json:"tag"`
	FollowedAt time.Time `json:"followed_at"`
}

// EngagementStore owns the per-post aggregate counts. All writes go through
// ApplyFlush; nothing else mutates the aggregate.
type EngagementStore interface {
	// ApplyFlush atomically increments the aggregate field for the entry's
	// interaction type, clamping the result at zero. Duplicate FlushIDs are
	// no-ops.
	ApplyFlush(ctx context.Context, entry FlushEntry) error

	// GetAggregate returns the authoritative stats for a post; a post with
	// no recorded engagement yields zero counts, not an error.
	GetAggregate(ctx context.Context, postID int64) (pulse.EngagementStats, error)

	// GetAggregates batch-fetches aggregates; missing posts are returned
	// with zero counts.
	GetAggregates(ctx context.Context, postIDs []int64) (map[int64]pulse.EngagementStats, error)
}

// EventStore is the append-only trending event log. Events are write-once
// and queried in bulk within a trailing window.
type EventStore interface {
	AppendEvent(ctx context.Context, ev pulse.TrendingEvent) error

	// QueryEvents returns events of the given types with Timestamp >= since.
	QueryEvents(ctx context.Context, types []string, since time.Time) ([]pulse.TrendingEvent, error)
}

// TagStore keeps the denormalized per-tag summary for O(1) lookups outside
// the windowed aggregation.
type TagStore interface {
	RecordTagUsage(ctx context.Context, tag, category string, at time.Time) error
	RecordTagView(ctx context.Context, tag string, at time.Time) error
	AdjustFollowers(ctx context.Context, tag, category string, delta int64, at time.Time) error
	GetTagStats(ctx context.Context, tags []string) (map[string]pulse.TagStats, error)
}

// FollowStore manages user-to-hashtag follow edges.
type FollowStore interface {
	// InsertFollow returns false when the user already follows the tag.
	InsertFollow(ctx context.Context, userID int64, tag string, at time.Time) (bool, error)

	// DeleteFollow returns false when there was no follow to remove.
	DeleteFollow(ctx context.Context, userID int64, tag string) (bool, error)

	CheckFollows(ctx context.Context, userID int64, tags []string) (map[string]bool, error)
	ListFollows(ctx context.Context, userID int64, limit int) ([]Follow, error)
}

// HistoryStore records per-user interaction history (append-only).
type HistoryStore interface {
	AppendInteraction(ctx context.Context, rec pulse.InteractionRecord) error

	// UserHistory returns the user's most recent interactions, newest
	// first, optionally filtered by type ("" = all).
	UserHistory(ctx context.Context, userID int64, typ pulse.InteractionType, limit int) ([]pulse.InteractionRecord, error)
}

// Store is the full durable surface the engine consumes.
type Store interface {
	EngagementStore
	EventStore
	TagStore
	FollowStore
	HistoryStore
}

// AggregateField maps an interaction type to its aggregate column. The
// whitelist doubles as SQL-injection protection for the dynamic column in
// the Postgres flush statement.
func AggregateField(t pulse.InteractionType) (string, error) {
	switch t {
	case pulse.InteractionLike:
		return "likes_count", nil
	case pulse.InteractionView:
		return "views_count", nil
	case pulse.InteractionRepost:
		return "reposts_count", nil
	case pulse.InteractionComment:
		return "comments_count", nil
	case pulse.InteractionShare:
		return "shares_count", nil
	case pulse.InteractionUniqueView:
		return "unique_viewers", nil
	}
	return "", fmt.Errorf("%w: %q", pulse.ErrUnknownInteraction, t)
}
