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
	"fmt"
	"strings"
	"time"

	"pulse"
)

// Key layout. Every component shares one cache, so the namespace prefixes
// below are the contract that keeps them out of each other's way. The
// flush sweep scans CounterPrefix; nothing else may create keys under it.
const (
	CounterPrefix = "interaction:"
	markerPrefix  = "seen:"
	viewersPrefix = "viewers:"
	ratePrefix    = "ratelimit:"
)

// CounterKey is the live counter for one (interaction type, target) pair.
func CounterKey(t pulse.InteractionType, targetID string) string {
	return fmt.Sprintf("%s%s:%s", CounterPrefix, t, targetID)
}

// ParseCounterKey inverts CounterKey for sweep enumeration.
func ParseCounterKey(key string) (t pulse.InteractionType, targetID string, ok bool) {
	rest, found := strings.CutPrefix(key, CounterPrefix)
	if !found {
		return "", "", false
	}
	typ, target, found := strings.Cut(rest, ":")
	if !found || typ == "" || target == "" {
		return "", "", false
	}
	t = pulse.InteractionType(typ)
	if !t.Valid() && t != pulse.InteractionUniqueView {
		return "", "", false
	}
	return t, target, true
}

// MarkerKey is the dedup marker proving a user has already been counted for
// an interaction type on a target within the marker TTL.
func MarkerKey(userID int64, t pulse.InteractionType, targetID string) string {
	return fmt.Sprintf("%s%d:%s:%s", markerPrefix, userID, t, targetID)
}

// ViewMarkerKey buckets view markers by clock hour: one counted view per
// user per post per hour.
func ViewMarkerKey(userID int64, targetID string, at time.Time) string {
	return fmt.Sprintf("%s%d:%s:%s:%s", markerPrefix, userID, pulse.InteractionView, targetID, at.UTC().Format("2006010215"))
}

// ViewersKey is the unique-viewer set for a post.
func ViewersKey(targetID string) string {
	return viewersPrefix + targetID
}

// RateKey is a fixed-window admission counter for (subject, action).
func RateKey(subject, action string) string {
	return fmt.Sprintf("%s%s:%s", ratePrefix, subject, action)
}

// TrendingCacheKey identifies one cached trending result set.
func TrendingCacheKey(scope string, timeframe pulse.Timeframe, category string, limit int) string {
	if category == "" {
		category = "all"
	}
	return fmt.Sprintf("trending:%s:%s:%s:%d", scope, timeframe, category, limit)
}

// FollowsKey caches a user's followed-hashtag list.
func FollowsKey(userID int64) string {
	return fmt.Sprintf("user_follows:%d", userID)
}

// PostStatsKey caches a post's computed engagement stats read model.
func PostStatsKey(postID int64) string {
	return fmt.Sprintf("post:stats:%d", postID)
}
