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

// Package trending derives ranked tag scores from the append-only event log
// over trailing windows. Scores are a cache-only read model: they are
// recomputed from events on every refresh and losing them costs nothing.
package trending

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/hashtag"
	"pulse/internal/rcache"
	"pulse/internal/store"
	"pulse/internal/telemetry"
)

// Engagement weights per event kind: authoring with a tag is stronger
// signal than viewing one.
const (
	UsageEngagement = 1.0
	ViewEngagement  = 0.5
)

// Options tunes the aggregator; zero values select the defaults.
type Options struct {
	// CacheTTL bounds staleness of ranked results. Default 5m.
	CacheTTL time.Duration

	// QueryTimeout bounds the event-log aggregation; an expired window read
	// degrades to an empty result rather than blocking the caller. Default 5s.
	QueryTimeout time.Duration
}

func (o *Options) defaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
}

// Aggregator records trending events and computes windowed rankings.
type Aggregator struct {
	events store.EventStore
	tags   store.TagStore
	cached *rcache.Cache[[]pulse.TrendingScore]
	opts   Options
	log    zerolog.Logger

	now func() time.Time
}

// New builds an aggregator over the event log and the shared cache.
func New(events store.EventStore, tags store.TagStore, kv cache.KeyValueCache, opts Options, log zerolog.Logger) *Aggregator {
	opts.defaults()
	return &Aggregator{
		events: events,
		tags:   tags,
		cached: rcache.New[[]pulse.TrendingScore](kv, opts.CacheTTL, log),
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// RecordUsage logs a hashtag being used in a post and updates the tag's
// denormalized stats.
func (a *Aggregator) RecordUsage(ctx context.Context, rawTag string, postID, userID *int64) error {
	tag, err := pulse.NormalizeTag(rawTag)
	if err != nil {
		return err
	}
	now := a.now()
	if err := a.events.AppendEvent(ctx, pulse.TrendingEvent{
		Type:            pulse.EventHashtag,
		Tag:             tag,
		Timestamp:       now,
		UserID:          userID,
		PostID:          postID,
		EngagementValue: UsageEngagement,
	}); err != nil {
		return err
	}
	if err := a.tags.RecordTagUsage(ctx, tag, hashtag.Classify(tag), now); err != nil {
		a.log.Warn().Err(err).Str("tag", tag).Msg("tag usage stats update failed")
	}
	return nil
}

// RecordView logs a hashtag page view at the reduced engagement weight.
func (a *Aggregator) RecordView(ctx context.Context, rawTag string, userID *int64) error {
	tag, err := pulse.NormalizeTag(rawTag)
	if err != nil {
		return err
	}
	now := a.now()
	if err := a.events.AppendEvent(ctx, pulse.TrendingEvent{
		Type:            pulse.EventHashtagView,
		Tag:             tag,
		Timestamp:       now,
		UserID:          userID,
		EngagementValue: ViewEngagement,
	}); err != nil {
		return err
	}
	if err := a.tags.RecordTagView(ctx, tag, now); err != nil {
		a.log.Warn().Err(err).Str("tag", tag).Msg("tag view stats update failed")
	}
	return nil
}

// RecordTopic logs a topic mention for the topic trending scope.
func (a *Aggregator) RecordTopic(ctx context.Context, rawTopic string, postID, userID *int64) error {
	topic, err := pulse.NormalizeTag(rawTopic)
	if err != nil {
		return err
	}
	return a.events.AppendEvent(ctx, pulse.TrendingEvent{
		Type:            pulse.EventTopic,
		Tag:             topic,
		Timestamp:       a.now(),
		UserID:          userID,
		PostID:          postID,
		EngagementValue: UsageEngagement,
	})
}

// Trending returns the ranked tags for a scope (EventHashtag or EventTopic)
// within the timeframe, optionally filtered to a category's seed tags. A
// cold cache triggers an inline refresh; a refresh failure degrades to an
// empty result, never an error surfaced to the page.
func (a *Aggregator) Trending(ctx context.Context, scope string, tf pulse.Timeframe, category string, limit int) ([]pulse.TrendingScore, error) {
	if limit <= 0 {
		limit = 20
	}
	key := cache.TrendingCacheKey(scope, tf, category, limit)
	if scores, ok := a.cached.Get(ctx, key); ok {
		return scores, nil
	}
	scores, err := a.Refresh(ctx, scope, tf, category, limit)
	if err != nil {
		a.log.Error().Err(err).Str("scope", scope).Str("timeframe", string(tf)).
			Msg("trending refresh failed, serving empty")
		return []pulse.TrendingScore{}, nil
	}
	return scores, nil
}

// Refresh recomputes one ranking from the event log and overwrites its
// cache entry. Used inline on cache misses and by the periodic refresh job.
func (a *Aggregator) Refresh(ctx context.Context, scope string, tf pulse.Timeframe, category string, limit int) ([]pulse.TrendingScore, error) {
	if limit <= 0 {
		limit = 20
	}
	start := a.now()
	qctx, cancel := context.WithTimeout(ctx, a.opts.QueryTimeout)
	defer cancel()

	events, err := a.events.QueryEvents(qctx, []string{scope}, start.Add(-tf.Duration()))
	if err != nil {
		return nil, err
	}
	scores := a.rank(events, category, limit)
	a.enrich(ctx, scores)
	telemetry.ObserveTrendingRefresh(scope, a.now().Sub(start).Seconds())

	a.cached.Set(ctx, cache.TrendingCacheKey(scope, tf, category, limit), scores)
	return scores, nil
}

type bucket struct {
	count      int64
	engagement float64
	earliest   time.Time
	latest     time.Time
}

// rank groups events per tag and applies the scoring model:
//
//	velocity        = count                      when all events share one instant
//	                = count / max(timespan_h, 1) otherwise
//	engagement_rate = max(sum_engagement, 1) / max(count, 1)
//	trend_score     = count * velocity * (1 + engagement_rate)
//
// Ties break by count, then tag, so rankings are stable across refreshes.
func (a *Aggregator) rank(events []pulse.TrendingEvent, category string, limit int) []pulse.TrendingScore {
	var allowed map[string]bool
	if seeds, ok := hashtag.SeedTags(category); ok {
		allowed = make(map[string]bool, len(seeds))
		for _, t := range seeds {
			allowed[t] = true
		}
	}

	buckets := make(map[string]*bucket)
	for _, ev := range events {
		if allowed != nil && !allowed[ev.Tag] {
			continue
		}
		b, ok := buckets[ev.Tag]
		if !ok {
			b = &bucket{earliest: ev.Timestamp, latest: ev.Timestamp}
			buckets[ev.Tag] = b
		}
		b.count++
		b.engagement += ev.EngagementValue
		if ev.Timestamp.Before(b.earliest) {
			b.earliest = ev.Timestamp
		}
		if ev.Timestamp.After(b.latest) {
			b.latest = ev.Timestamp
		}
	}

	computedAt := a.now()
	scores := make([]pulse.TrendingScore, 0, len(buckets))
	for tag, b := range buckets {
		timespan := b.latest.Sub(b.earliest).Hours()
		velocity := float64(b.count)
		if timespan != 0 {
			velocity = float64(b.count) / math.Max(timespan, 1)
		}
		rate := math.Max(b.engagement, 1) / math.Max(float64(b.count), 1)
		scores = append(scores, pulse.TrendingScore{
			Tag:            tag,
			Count:          b.count,
			Velocity:       velocity,
			EngagementRate: rate,
			TrendScore:     float64(b.count) * velocity * (1 + rate),
			ComputedAt:     computedAt,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].TrendScore != scores[j].TrendScore {
			return scores[i].TrendScore > scores[j].TrendScore
		}
		if scores[i].Count != scores[j].Count {
			return scores[i].Count > scores[j].Count
		}
		return scores[i].Tag < scores[j].Tag
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// enrich attaches follower counts and categories from the tag stats. Stats
// failures leave the ranking unenriched rather than failing it.
func (a *Aggregator) enrich(ctx context.Context, scores []pulse.TrendingScore) {
	if len(scores) == 0 {
		return
	}
	tags := make([]string, len(scores))
	for i, s := range scores {
		tags[i] = s.Tag
	}
	stats, err := a.tags.GetTagStats(ctx, tags)
	if err != nil {
		a.log.Warn().Err(err).Msg("trending enrichment skipped")
		return
	}
	for i := range scores {
		if st, ok := stats[scores[i].Tag]; ok {
			scores[i].FollowerCount = st.FollowerCount
			scores[i].Category = st.Category
		}
	}
}
