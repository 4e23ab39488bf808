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
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// incrWithTTLScript adds to a counter and, when this operation created the
// key, attaches the TTL in the same atomic step. Returning the new value
// keeps threshold detection on the caller side race-free per key.
var incrWithTTLScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if v == tonumber(ARGV[1]) and tonumber(ARGV[2]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// saddWithTTLScript adds a set member and attaches a TTL if the set has
// none yet. Returns 1 when the member was newly added.
var saddWithTTLScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 and redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return added
`)

// RedisOptions configures the Redis-backed cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit; BreakerCooldown is how long it stays open before probing.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// RedisCache implements KeyValueCache on go-redis, with every call routed
// through a circuit breaker. While the breaker is open, calls fail fast
// with ErrUnavailable so callers can apply their fail-open policy without
// waiting out connection timeouts.
type RedisCache struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker[any]
	log zerolog.Logger
}

// NewRedisCache connects a client and configures its breaker.
func NewRedisCache(opts RedisOptions, log zerolog.Logger) *RedisCache {
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 10 * time.Second
	}
	rc := &RedisCache{
		rdb: redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}),
		log: log,
	}
	rc.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "kvcache",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).
				Msg("cache breaker state change")
		},
	})
	return rc
}

// Close releases the underlying client.
func (r *RedisCache) Close() error { return r.rdb.Close() }

// exec routes one cache operation through the breaker and normalizes every
// infrastructure failure to ErrUnavailable.
func (r *RedisCache) exec(op func() (any, error)) (any, error) {
	v, err := r.cb.Execute(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.exec(func() (any, error) {
		s, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.rdb.Set(ctx, key, value, ttl).Err()
	})
	return err
}

func (r *RedisCache) IncrBy(ctx context.Context, key string, by int64, ttlOnCreate time.Duration) (int64, error) {
	v, err := r.exec(func() (any, error) {
		return incrWithTTLScript.Run(ctx, r.rdb, []string{key}, by, int(ttlOnCreate.Seconds())).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *RedisCache) AddBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := r.exec(func() (any, error) {
		return r.rdb.IncrBy(ctx, key, delta).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	v, err := r.exec(func() (any, error) {
		return r.rdb.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(int64) > 0, nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.exec(func() (any, error) {
		return nil, r.rdb.Del(ctx, keys...).Err()
	})
	return err
}

func (r *RedisCache) Scan(ctx context.Context, pattern string) ([]string, error) {
	v, err := r.exec(func() (any, error) {
		var keys []string
		iter := r.rdb.Scan(ctx, 0, pattern, 512).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (r *RedisCache) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	v, err := r.exec(func() (any, error) {
		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(keys))
		for i, raw := range vals {
			if s, ok := raw.(string); ok {
				out[keys[i]] = s
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func (r *RedisCache) SAdd(ctx context.Context, key, member string, ttlOnCreate time.Duration) (bool, error) {
	v, err := r.exec(func() (any, error) {
		return saddWithTTLScript.Run(ctx, r.rdb, []string{key}, member, int(ttlOnCreate.Seconds())).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(int64) == 1, nil
}

func (r *RedisCache) SCard(ctx context.Context, key string) (int64, error) {
	v, err := r.exec(func() (any, error) {
		return r.rdb.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.rdb.Ping(ctx).Err()
	})
	return err
}
