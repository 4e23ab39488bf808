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

// Package pulse defines the shared domain vocabulary of the engagement
// counting and trend-scoring engine: interaction types, trending scopes and
// timeframes, aggregate shapes, and tag validation. The engine itself lives
// under internal/: volatile per-target counters accumulate in a key/value
// cache and are reconciled into a durable aggregate store by threshold and
// periodic flushes, while an aggregator derives time-windowed trend scores
// from an append-only event log.
package pulse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InteractionType identifies a kind of user interaction with a post.
type InteractionType string

const (
	InteractionLike    InteractionType = "like"
	InteractionView    InteractionType = "view"
	InteractionRepost  InteractionType = "repost"
	InteractionComment InteractionType = "comment"
	InteractionShare   InteractionType = "share"

	// InteractionUniqueView is an internal counter type fed by first-time
	// viewer detection. It is not a caller-facing interaction: Valid and
	// ParseInteractionType reject it, but flush machinery moves it into the
	// unique_viewers aggregate like any other counter.
	InteractionUniqueView InteractionType = "unique_view"
)

// ErrUnknownInteraction is returned for interaction types outside the
// supported set. It is the only ledger error that propagates to callers;
// infrastructure failures are absorbed (fail-open).
var ErrUnknownInteraction = errors.New("unknown interaction type")

// ErrInvalidTag is returned when a hashtag fails validation.
var ErrInvalidTag = errors.New("invalid hashtag format")

// ParseInteractionType validates a raw interaction type string.
func ParseInteractionType(s string) (InteractionType, error) {
	t := InteractionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownInteraction, s)
	}
	return t, nil
}

// Valid reports whether t is one of the supported interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionLike, InteractionView, InteractionRepost, InteractionComment, InteractionShare:
		return true
	}
	return false
}

// Togglable reports whether the interaction is binary per user (at most one
// active instance, removable). Likes and reposts toggle; views, comments and
// shares only accumulate.
func (t InteractionType) Togglable() bool {
	return t == InteractionLike || t == InteractionRepost
}

// Timeframe is a supported trailing window for trend aggregation.
type Timeframe string

const (
	TimeframeHour  Timeframe = "1h"
	TimeframeDay   Timeframe = "24h"
	TimeframeWeek  Timeframe = "7d"
	TimeframeMonth Timeframe = "30d"
)

// ParseTimeframe maps a raw timeframe string to a supported window. Unknown
// values coerce to the 24h default rather than erroring: trending is a
// best-effort feature and a bad knob should not break the page.
func ParseTimeframe(s string) Timeframe {
	switch Timeframe(s) {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth:
		return Timeframe(s)
	}
	return TimeframeDay
}

// Hours returns the window length in hours.
func (f Timeframe) Hours() int {
	switch f {
	case TimeframeHour:
		return 1
	case TimeframeWeek:
		return 168
	case TimeframeMonth:
		return 720
	default:
		return 24
	}
}

// Duration returns the window length as a time.Duration.
func (f Timeframe) Duration() time.Duration {
	return time.Duration(f.Hours()) * time.Hour
}

// Trending event scopes. EventHashtagView carries a reduced engagement value
// relative to EventHashtag: viewing a tag is weaker signal than using it.
const (
	EventHashtag     = "hashtag"
	EventTopic       = "topic"
	EventHashtagView = "hashtag_view"
)

// TrendingEvent is one append-only usage record consumed by windowed trend
// aggregation. Events are write-once; retention must cover the longest
// supported timeframe (30 days).
type TrendingEvent struct {
	Type            string
	Tag             string
	Timestamp       time.Time
	UserID          *int64
	PostID          *int64
	EngagementValue float64
}

// TrendingScore is a derived, cache-only ranking artifact. It is never a
// source of truth and is always safe to recompute from the event log.
type TrendingScore struct {
	Tag            string    `json:"tag"`
	Count          int64     `json:"count"`
	Velocity       float64   `json:"velocity"`
	EngagementRate float64   `json:"engagement_rate"`
	TrendScore     float64   `json:"trend_score"`
	FollowerCount  int64     `json:"follower_count"`
	Category       string    `json:"category,omitempty"`
	ComputedAt     time.Time `json:"computed_at"`
}

// EngagementStats is the authoritative per-post aggregate, owned by the
// flush coordinator's durable writes. EngagementScore is derived on read as
// likes + views/2 and never stored.
type EngagementStats struct {
	PostID          int64     `json:"post_id"`
	Likes           int64     `json:"likes"`
	Views           int64     `json:"views"`
	Reposts         int64     `json:"reposts"`
	Comments        int64     `json:"comments"`
	Shares          int64     `json:"shares"`
	UniqueViewers   int64     `json:"unique_viewers"`
	EngagementScore float64   `json:"engagement_score"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Score computes the derived engagement score for the aggregate.
func (s EngagementStats) Score() float64 {
	return float64(s.Likes) + float64(s.Views)/2
}

// UserEngagement reports one user's interaction state for a post.
type UserEngagement struct {
	HasLiked    bool `json:"has_liked"`
	HasViewed   bool `json:"has_viewed"`
	HasReposted bool `json:"has_reposted"`
}

// TagStats is the denormalized per-tag summary kept for O(1) lookups outside
// the windowed aggregation.
type TagStats struct {
	Tag           string    `json:"tag"`
	Category      string    `json:"category,omitempty"`
	UsageCount    int64     `json:"usage_count"`
	ViewCount     int64     `json:"view_count"`
	FollowerCount int64     `json:"follower_count"`
	FirstSeen     time.Time `json:"first_seen"`
	LastUsed      time.Time `json:"last_used"`
}

// InteractionRecord is one row of a user's interaction history.
type InteractionRecord struct {
	PostID    int64           `json:"post_id"`
	UserID    int64           `json:"user_id"`
	Type      InteractionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// NormalizeTag canonicalizes a hashtag: trims whitespace, strips a leading
// '#', and lowercases. It returns ErrInvalidTag when the result is empty,
// longer than 50 runes, or contains characters outside [a-z0-9_].
func NormalizeTag(raw string) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.TrimPrefix(tag, "#")
	if tag == "" || len(tag) > 50 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, raw)
	}
	for _, r := range tag {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, raw)
	}
	return tag, nil
}
