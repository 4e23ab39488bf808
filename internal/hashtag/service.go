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

// Package hashtag manages user-to-hashtag follows and per-tag stats. Follow
// state lives durably; the followed-tags read model is cached per user and
// invalidated on every follow mutation.
package hashtag

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/rcache"
	"pulse/internal/store"
)

// FollowsCacheTTL bounds staleness of the per-user followed-tags list when
// an invalidation is missed.
const FollowsCacheTTL = time.Hour

// Service coordinates follow mutations and tag stat reads.
type Service struct {
	follows store.FollowStore
	tags    store.TagStore
	cached  *rcache.Cache[[]store.Follow]
	log     zerolog.Logger

	now func() time.Time
}

// New builds the service over the durable stores and the shared cache.
func New(follows store.FollowStore, tags store.TagStore, kv cache.KeyValueCache, log zerolog.Logger) *Service {
	return &Service{
		follows: follows,
		tags:    tags,
		cached:  rcache.New[[]store.Follow](kv, FollowsCacheTTL, log),
		log:     log,
		now:     time.Now,
	}
}

// Follow subscribes the user to a hashtag. Already-following is reported,
// not an error; only an invalid tag fails.
func (s *Service) Follow(ctx context.Context, userID int64, rawTag string) (tag string, created bool, err error) {
	tag, err = pulse.NormalizeTag(rawTag)
	if err != nil {
		return "", false, err
	}
	created, err = s.follows.InsertFollow(ctx, userID, tag, s.now())
	if err != nil {
		return "", false, err
	}
	if created {
		if err := s.tags.AdjustFollowers(ctx, tag, Classify(tag), 1, s.now()); err != nil {
			s.log.Warn().Err(err).Str("tag", tag).Msg("follower count adjust failed")
		}
		s.cached.Invalidate(ctx, cache.FollowsKey(userID))
	}
	return tag, created, nil
}

// Unfollow removes a subscription. Not-following is reported, not an error.
func (s *Service) Unfollow(ctx context.Context, userID int64, rawTag string) (tag string, removed bool, err error) {
	tag, err = pulse.NormalizeTag(rawTag)
	if err != nil {
		return "", false, err
	}
	removed, err = s.follows.DeleteFollow(ctx, userID, tag)
	if err != nil {
		return "", false, err
	}
	if removed {
		if err := s.tags.AdjustFollowers(ctx, tag, Classify(tag), -1, s.now()); err != nil {
			s.log.Warn().Err(err).Str("tag", tag).Msg("follower count adjust failed")
		}
		s.cached.Invalidate(ctx, cache.FollowsKey(userID))
	}
	return tag, removed, nil
}

// CheckFollows reports follow state for a batch of raw tags, keyed by the
// normalized form. Invalid tags are silently dropped from the result.
func (s *Service) CheckFollows(ctx context.Context, userID int64, rawTags []string) (map[string]bool, error) {
	tags := make([]string, 0, len(rawTags))
	for _, raw := range rawTags {
		if tag, err := pulse.NormalizeTag(raw); err == nil {
			tags = append(tags, tag)
		}
	}
	return s.follows.CheckFollows(ctx, userID, tags)
}

// FollowedTags returns the user's follows, newest first, from the per-user
// cache when warm.
func (s *Service) FollowedTags(ctx context.Context, userID int64, limit int) ([]store.Follow, error) {
	return s.cached.GetOrFill(ctx, cache.FollowsKey(userID), func(ctx context.Context) ([]store.Follow, error) {
		return s.follows.ListFollows(ctx, userID, limit)
	})
}

// TagStats returns the denormalized stats for a batch of raw tags, keyed by
// the normalized form.
func (s *Service) TagStats(ctx context.Context, rawTags []string) (map[string]pulse.TagStats, error) {
	tags := make([]string, 0, len(rawTags))
	for _, raw := range rawTags {
		if tag, err := pulse.NormalizeTag(raw); err == nil {
			tags = append(tags, tag)
		}
	}
	return s.tags.GetTagStats(ctx, tags)
}
