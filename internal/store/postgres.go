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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS post_engagement (
//   post_id        BIGINT PRIMARY KEY,
//   likes_count    BIGINT NOT NULL DEFAULT 0,
//   views_count    BIGINT NOT NULL DEFAULT 0,
//   reposts_count  BIGINT NOT NULL DEFAULT 0,
//   comments_count BIGINT NOT NULL DEFAULT 0,
//   shares_count   BIGINT NOT NULL DEFAULT 0,
//   unique_viewers BIGINT NOT NULL DEFAULT 0,
//   last_updated   TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS flush_log (
//   flush_id   UUID PRIMARY KEY,
//   post_id    BIGINT NOT NULL,
//   field      TEXT NOT NULL,
//   amount     BIGINT NOT NULL,
//   flushed_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_flush_log_post ON flush_log(post_id);
//
// CREATE TABLE IF NOT EXISTS trending_events (
//   id               BIGSERIAL PRIMARY KEY,
//   event_type       TEXT NOT NULL,
//   tag              TEXT NOT NULL,
//   ts               TIMESTAMPTZ NOT NULL,
//   user_id          BIGINT,
//   post_id          BIGINT,
//   engagement_value DOUBLE PRECISION NOT NULL DEFAULT 1.0
// );
// CREATE INDEX IF NOT EXISTS idx_trending_events_type_ts ON trending_events(event_type, ts);
//
// CREATE TABLE IF NOT EXISTS hashtag_stats (
//   tag            TEXT PRIMARY KEY,
//   category       TEXT NOT NULL DEFAULT '',
//   usage_count    BIGINT NOT NULL DEFAULT 0,
//   view_count     BIGINT NOT NULL DEFAULT 0,
//   follower_count BIGINT NOT NULL DEFAULT 0,
//   first_seen     TIMESTAMPTZ NOT NULL,
//   last_used      TIMESTAMPTZ NOT NULL
// );
//
// CREATE TABLE IF NOT EXISTS hashtag_follows (
//   user_id     BIGINT NOT NULL,
//   tag         TEXT NOT NULL,
//   followed_at TIMESTAMPTZ NOT NULL,
//   PRIMARY KEY (user_id, tag)
// );
//
// CREATE TABLE IF NOT EXISTS interaction_history (
//   id      BIGSERIAL PRIMARY KEY,
//   post_id BIGINT NOT NULL,
//   user_id BIGINT NOT NULL,
//   type    TEXT NOT NULL,
//   ts      TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX IF NOT EXISTS idx_interaction_history_user_ts ON interaction_history(user_id, ts DESC);

// Postgres implements Store on a pgx connection pool. Flush application is
// idempotent: the flush_log insert doubles as the applied marker, and the
// aggregate update runs only when this transaction actually inserted it.
type Postgres struct {
	pool *pgxpool.Pool

	// defaultTimeout bounds calls whose context carries no deadline.
	defaultTimeout time.Duration
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, defaultTimeout: 10 * time.Second}
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		return context.WithTimeout(ctx, p.defaultTimeout)
	}
	return ctx, func() {}
}

// ApplyFlush folds one signed counter delta into the aggregate row. The
// result is clamped at zero: a negative remainder can momentarily exceed
// what the aggregate holds, and the aggregate must never go negative.
func (p *Postgres) ApplyFlush(ctx context.Context, entry FlushEntry) error {
	if entry.FlushID == "" {
		return errors.New("FlushEntry.FlushID must be set")
	}
	field, err := AggregateField(entry.Type)
	if err != nil {
		return err
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO post_engagement (post_id, last_updated) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		entry.PostID, entry.At); err != nil {
		return fmt.Errorf("ensure post_engagement(%d): %w", entry.PostID, err)
	}

	// Applied marker first; a duplicate flush id means a retry of an entry
	// that already landed, so the aggregate update must be skipped.
	tag, err := tx.Exec(ctx,
		`INSERT INTO flush_log (flush_id, post_id, field, amount, flushed_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		entry.FlushID, entry.PostID, field, entry.Amount, entry.At)
	if err != nil {
		return fmt.Errorf("insert flush_log(%s): %w", entry.FlushID, err)
	}
	if tag.RowsAffected() == 1 {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE post_engagement
			 SET %s = GREATEST(0, %s + $2), last_updated = $3
			 WHERE post_id = $1`, field, field),
			entry.PostID, entry.Amount, entry.At); err != nil {
			return fmt.Errorf("apply flush %s to post %d: %w", entry.FlushID, entry.PostID, err)
		}
	}
	return tx.Commit(ctx)
}

const aggregateColumns = `post_id, likes_count, views_count, reposts_count,
	comments_count, shares_count, unique_viewers, last_updated`

func scanAggregate(row pgx.Row) (pulse.EngagementStats, error) {
	var s pulse.EngagementStats
	err := row.Scan(&s.PostID, &s.Likes, &s.Views, &s.Reposts,
		&s.Comments, &s.Shares, &s.UniqueViewers, &s.LastUpdated)
	if err != nil {
		return pulse.EngagementStats{}, err
	}
	s.EngagementScore = s.Score()
	return s, nil
}

func (p *Postgres) GetAggregate(ctx context.Context, postID int64) (pulse.EngagementStats, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	s, err := scanAggregate(p.pool.QueryRow(ctx,
		`SELECT `+aggregateColumns+` FROM post_engagement WHERE post_id = $1`, postID))
	if errors.Is(err, pgx.ErrNoRows) {
		return pulse.EngagementStats{PostID: postID}, nil
	}
	return s, err
}

func (p *Postgres) GetAggregates(ctx context.Context, postIDs []int64) (map[int64]pulse.EngagementStats, error) {
	out := make(map[int64]pulse.EngagementStats, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT `+aggregateColumns+` FROM post_engagement WHERE post_id = ANY($1)`, postIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out[s.PostID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range postIDs {
		if _, ok := out[id]; !ok {
			out[id] = pulse.EngagementStats{PostID: id}
		}
	}
	return out, nil
}

func (p *Postgres) AppendEvent(ctx context.Context, ev pulse.TrendingEvent) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO trending_events (event_type, tag, ts, user_id, post_id, engagement_value)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Type, ev.Tag, ev.Timestamp, ev.UserID, ev.PostID, ev.EngagementValue)
	return err
}

func (p *Postgres) QueryEvents(ctx context.Context, types []string, since time.Time) ([]pulse.TrendingEvent, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT event_type, tag, ts, user_id, post_id, engagement_value
		 FROM trending_events WHERE event_type = ANY($1) AND ts >= $2`,
		types, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []pulse.TrendingEvent
	for rows.Next() {
		var ev pulse.TrendingEvent
		if err := rows.Scan(&ev.Type, &ev.Tag, &ev.Timestamp, &ev.UserID, &ev.PostID, &ev.EngagementValue); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) RecordTagUsage(ctx context.Context, tag, category string, at time.Time) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO hashtag_stats (tag, category, usage_count, first_seen, last_used)
		 VALUES ($1, $2, 1, $3, $3)
		 ON CONFLICT (tag) DO UPDATE
		 SET usage_count = hashtag_stats.usage_count + 1, last_used = $3`,
		tag, category, at)
	return err
}

func (p *Postgres) RecordTagView(ctx context.Context, tag string, at time.Time) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO hashtag_stats (tag, view_count, first_seen, last_used)
		 VALUES ($1, 1, $2, $2)
		 ON CONFLICT (tag) DO UPDATE
		 SET view_count = hashtag_stats.view_count + 1`,
		tag, at)
	return err
}

func (p *Postgres) AdjustFollowers(ctx context.Context, tag, category string, delta int64, at time.Time) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO hashtag_stats (tag, category, follower_count, first_seen, last_used)
		 VALUES ($1, $2, GREATEST(0, $3), $4, $4)
		 ON CONFLICT (tag) DO UPDATE
		 SET follower_count = GREATEST(0, hashtag_stats.follower_count + $3)`,
		tag, category, delta, at)
	return err
}

func (p *Postgres) GetTagStats(ctx context.Context, tags []string) (map[string]pulse.TagStats, error) {
	out := make(map[string]pulse.TagStats, len(tags))
	if len(tags) == 0 {
		return out, nil
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT tag, category, usage_count, view_count, follower_count, first_seen, last_used
		 FROM hashtag_stats WHERE tag = ANY($1)`, tags)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s pulse.TagStats
		if err := rows.Scan(&s.Tag, &s.Category, &s.UsageCount, &s.ViewCount, &s.FollowerCount, &s.FirstSeen, &s.LastUsed); err != nil {
			return nil, err
		}
		out[s.Tag] = s
	}
	return out, rows.Err()
}

func (p *Postgres) InsertFollow(ctx context.Context, userID int64, tag string, at time.Time) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	res, err := p.pool.Exec(ctx,
		`INSERT INTO hashtag_follows (user_id, tag, followed_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		userID, tag, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (p *Postgres) DeleteFollow(ctx context.Context, userID int64, tag string) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	res, err := p.pool.Exec(ctx,
		`DELETE FROM hashtag_follows WHERE user_id = $1 AND tag = $2`, userID, tag)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (p *Postgres) CheckFollows(ctx context.Context, userID int64, tags []string) (map[string]bool, error) {
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		out[t] = false
	}
	if len(tags) == 0 {
		return out, nil
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT tag FROM hashtag_follows WHERE user_id = $1 AND tag = ANY($2)`, userID, tags)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out[tag] = true
	}
	return out, rows.Err()
}

func (p *Postgres) ListFollows(ctx context.Context, userID int64, limit int) ([]Follow, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT user_id, tag, followed_at FROM hashtag_follows
		 WHERE user_id = $1 ORDER BY followed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var follows []Follow
	for rows.Next() {
		var f Follow
		if err := rows.Scan(&f.UserID, &f.Tag, &f.FollowedAt); err != nil {
			return nil, err
		}
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

func (p *Postgres) AppendInteraction(ctx context.Context, rec pulse.InteractionRecord) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO interaction_history (post_id, user_id, type, ts) VALUES ($1, $2, $3, $4)`,
		rec.PostID, rec.UserID, string(rec.Type), rec.Timestamp)
	return err
}

func (p *Postgres) UserHistory(ctx context.Context, userID int64, typ pulse.InteractionType, limit int) ([]pulse.InteractionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var (
		rows pgx.Rows
		err  error
	)
	if typ == "" {
		rows, err = p.pool.Query(ctx,
			`SELECT post_id, user_id, type, ts FROM interaction_history
			 WHERE user_id = $1 ORDER BY ts DESC LIMIT $2`, userID, limit)
	} else {
		rows, err = p.pool.Query(ctx,
			`SELECT post_id, user_id, type, ts FROM interaction_history
			 WHERE user_id = $1 AND type = $2 ORDER BY ts DESC LIMIT $3`, userID, string(typ), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []pulse.InteractionRecord
	for rows.Next() {
		var r pulse.InteractionRecord
		var raw string
		if err := rows.Scan(&r.PostID, &r.UserID, &raw, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Type = pulse.InteractionType(raw)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

var _ Store = (*Postgres)(nil)
