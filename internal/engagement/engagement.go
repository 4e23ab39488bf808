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

// Package engagement is the caller-facing facade over the write ledger and
// the durable aggregates. Reads merge the flushed aggregate with the live
// counter remainders so callers never observe a flush-boundary dip, and the
// merged view is cached per post with synchronous invalidation on writes.
package engagement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/ledger"
	"pulse/internal/ratelimit"
	"pulse/internal/rcache"
	"pulse/internal/store"
)

// ErrRateLimited is returned when the caller exceeded the interaction quota.
var ErrRateLimited = errors.New("rate limited")

// StatsCacheTTL bounds staleness of the merged per-post stats read model
// when an invalidation is missed.
const StatsCacheTTL = time.Minute

// RateAction is the limiter action all write operations share.
const RateAction = "interaction"

// liveTypes are the counter types merged into the stats read model.
var liveTypes = []pulse.InteractionType{
	pulse.InteractionLike,
	pulse.InteractionView,
	pulse.InteractionRepost,
	pulse.InteractionComment,
	pulse.InteractionShare,
	pulse.InteractionUniqueView,
}

// Service exposes the engagement operations.
type Service struct {
	led     *ledger.Ledger
	agg     store.EngagementStore
	history store.HistoryStore
	kv      cache.KeyValueCache
	limiter *ratelimit.Limiter
	stats   *rcache.Cache[pulse.EngagementStats]
	log     zerolog.Logger

	now func() time.Time
}

// New builds the facade. limiter may be nil to disable admission checks.
func New(led *ledger.Ledger, agg store.EngagementStore, history store.HistoryStore,
	kv cache.KeyValueCache, limiter *ratelimit.Limiter, log zerolog.Logger) *Service {
	return &Service{
		led:     led,
		agg:     agg,
		history: history,
		kv:      kv,
		limiter: limiter,
		stats:   rcache.New[pulse.EngagementStats](kv, StatsCacheTTL, log),
		log:     log,
		now:     time.Now,
	}
}

// ToggleLike flips the user's like on a post and reports the new state.
func (s *Service) ToggleLike(ctx context.Context, userID, postID int64) (bool, error) {
	return s.toggle(ctx, userID, pulse.InteractionLike, postID)
}

// ToggleRepost flips the user's repost on a post and reports the new state.
func (s *Service) ToggleRepost(ctx context.Context, userID, postID int64) (bool, error) {
	return s.toggle(ctx, userID, pulse.InteractionRepost, postID)
}

// RecordComment counts a comment interaction. Comments always count; there
// is no per-user dedup.
func (s *Service) RecordComment(ctx context.Context, userID, postID int64) error {
	_, err := s.record(ctx, userID, pulse.InteractionComment, postID)
	return err
}

// RecordShare counts a share interaction.
func (s *Service) RecordShare(ctx context.Context, userID, postID int64) error {
	_, err := s.record(ctx, userID, pulse.InteractionShare, postID)
	return err
}

// IncrementView counts a view, deduplicated per user per hour. The counted
// result is false for a deduplicated view.
func (s *Service) IncrementView(ctx context.Context, userID, postID int64) (bool, error) {
	if err := s.admit(ctx, userID); err != nil {
		return false, err
	}
	counted, _, err := s.led.RecordView(ctx, userID, s.target(postID))
	if err != nil {
		return false, err
	}
	if counted {
		s.afterWrite(ctx, userID, pulse.InteractionView, postID)
	}
	return counted, nil
}

// Stats returns the merged engagement stats for a post.
func (s *Service) Stats(ctx context.Context, postID int64) (pulse.EngagementStats, error) {
	return s.stats.GetOrFill(ctx, cache.PostStatsKey(postID), func(ctx context.Context) (pulse.EngagementStats, error) {
		return s.merge(ctx, postID)
	})
}

// BatchStats returns merged stats for several posts; every requested post
// appears in the result.
func (s *Service) BatchStats(ctx context.Context, postIDs []int64) (map[int64]pulse.EngagementStats, error) {
	out := make(map[int64]pulse.EngagementStats, len(postIDs))
	for _, id := range postIDs {
		st, err := s.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// UserState reports the user's interaction state for a post. The viewed
// flag reflects the current dedup window, matching what a repeated
// IncrementView would observe.
func (s *Service) UserState(ctx context.Context, userID, postID int64) (pulse.UserEngagement, error) {
	var ue pulse.UserEngagement
	target := s.target(postID)
	var err error
	if ue.HasLiked, err = s.led.HasMarker(ctx, userID, pulse.InteractionLike, target); err != nil {
		return ue, err
	}
	if ue.HasReposted, err = s.led.HasMarker(ctx, userID, pulse.InteractionRepost, target); err != nil {
		return ue, err
	}
	if ue.HasViewed, err = s.led.HasMarker(ctx, userID, pulse.InteractionView, target); err != nil {
		return ue, err
	}
	return ue, nil
}

// History returns the user's most recent interactions, optionally filtered
// by type ("" = all).
func (s *Service) History(ctx context.Context, userID int64, typ pulse.InteractionType, limit int) ([]pulse.InteractionRecord, error) {
	if typ != "" && !typ.Valid() {
		return nil, pulse.ErrUnknownInteraction
	}
	return s.history.UserHistory(ctx, userID, typ, limit)
}

func (s *Service) toggle(ctx context.Context, userID int64, typ pulse.InteractionType, postID int64) (bool, error) {
	if err := s.admit(ctx, userID); err != nil {
		return false, err
	}
	active, _, err := s.led.Toggle(ctx, userID, typ, s.target(postID))
	if err != nil {
		return false, err
	}
	if active {
		s.afterWrite(ctx, userID, typ, postID)
	} else {
		s.stats.Invalidate(ctx, cache.PostStatsKey(postID))
	}
	return active, nil
}

func (s *Service) record(ctx context.Context, userID int64, typ pulse.InteractionType, postID int64) (bool, error) {
	if err := s.admit(ctx, userID); err != nil {
		return false, err
	}
	counted, _, err := s.led.Record(ctx, userID, typ, s.target(postID))
	if err != nil {
		return false, err
	}
	if counted {
		s.afterWrite(ctx, userID, typ, postID)
	}
	return counted, nil
}

func (s *Service) admit(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	if d := s.limiter.Allow(ctx, "user:"+strconv.FormatInt(userID, 10), RateAction); !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

// afterWrite records history and drops the stale stats read model. History
// is best-effort: the count already landed, so a history failure only costs
// the audit row.
func (s *Service) afterWrite(ctx context.Context, userID int64, typ pulse.InteractionType, postID int64) {
	if err := s.history.AppendInteraction(ctx, pulse.InteractionRecord{
		PostID:    postID,
		UserID:    userID,
		Type:      typ,
		Timestamp: s.now(),
	}); err != nil {
		s.log.Warn().Err(err).Int64("post", postID).Str("type", string(typ)).Msg("history append failed")
	}
	s.stats.Invalidate(ctx, cache.PostStatsKey(postID))
}

// merge combines the durable aggregate with the live counter remainders.
// Remainders can be negative after removals; each merged field floors at
// zero. A cache failure degrades to the aggregate alone.
func (s *Service) merge(ctx context.Context, postID int64) (pulse.EngagementStats, error) {
	agg, err := s.agg.GetAggregate(ctx, postID)
	if err != nil {
		return pulse.EngagementStats{}, err
	}

	target := s.target(postID)
	keys := make([]string, len(liveTypes))
	for i, typ := range liveTypes {
		keys[i] = cache.CounterKey(typ, target)
	}
	live, err := s.kv.MGet(ctx, keys)
	if err != nil {
		s.log.Warn().Err(err).Int64("post", postID).Msg("live counters unavailable, serving aggregate only")
		agg.EngagementScore = agg.Score()
		return agg, nil
	}

	add := func(base int64, key string) int64 {
		raw, ok := live[key]
		if !ok {
			return base
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return base
		}
		if v := base + delta; v > 0 {
			return v
		}
		return 0
	}
	agg.Likes = add(agg.Likes, keys[0])
	agg.Views = add(agg.Views, keys[1])
	agg.Reposts = add(agg.Reposts, keys[2])
	agg.Comments = add(agg.Comments, keys[3])
	agg.Shares = add(agg.Shares, keys[4])
	agg.UniqueViewers = add(agg.UniqueViewers, keys[5])
	agg.PostID = postID
	agg.EngagementScore = agg.Score()
	return agg, nil
}

func (s *Service) target(postID int64) string {
	return strconv.FormatInt(postID, 10)
}
