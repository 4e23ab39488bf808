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

// Package main runs pulsed, the engagement counting and trend-scoring
// daemon. It wires the write ledger over Redis, the durable aggregate store
// over Postgres, the flush coordinator consuming threshold signals, and the
// periodic jobs (flush sweep, trending refresh), and serves /metrics and
// /healthz. Shutdown order matters: stop taking traffic, stop the signal
// consumer, then run the final sweep so counted interactions reach the
// durable store before the process exits.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pulse"
	"pulse/internal/cache"
	"pulse/internal/config"
	"pulse/internal/flush"
	"pulse/internal/ledger"
	"pulse/internal/scheduler"
	"pulse/internal/store"
	"pulse/internal/telemetry"
	"pulse/internal/trending"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (empty = defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("configuration load failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "pulsed").Logger()

	kv := cache.NewRedisCache(cache.RedisOptions{
		Addr:             cfg.Redis.Addr,
		Password:         cfg.Redis.Password,
		DB:               cfg.Redis.DB,
		BreakerThreshold: cfg.Redis.BreakerThreshold,
		BreakerCooldown:  cfg.Redis.BreakerCooldown.Std(),
	}, log)
	defer kv.Close()

	pool, err := pgxpool.New(context.Background(), cfg.Postgres.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool init failed")
	}
	defer pool.Close()
	db := store.NewPostgres(pool)

	led := ledger.New(kv, ledger.Options{
		FlushThreshold: cfg.Ledger.FlushThreshold,
		MarkerTTL:      cfg.Ledger.MarkerTTL.Std(),
		ViewersTTL:     cfg.Ledger.ViewersTTL.Std(),
	}, log)

	coord := flush.New(kv, db, led, flush.Options{
		MaxAttempts: cfg.Flush.MaxAttempts,
		BaseBackoff: cfg.Flush.BaseBackoff.Std(),
	}, log)

	trends := trending.New(db, db, kv, trending.Options{
		CacheTTL:     cfg.Trending.CacheTTL.Std(),
		QueryTimeout: cfg.Trending.QueryTimeout.Std(),
	}, log)

	// Threshold flush consumer.
	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		coord.Run(runCtx)
		close(runDone)
	}()

	sched := scheduler.New([]scheduler.Job{
		{
			Name:     "flush-sweep",
			Interval: cfg.Flush.SweepInterval.Std(),
			Final:    true,
			Run: func(ctx context.Context) error {
				n, err := coord.FlushAll(ctx)
				if n > 0 {
					log.Info().Int("counters", n).Msg("flush sweep completed")
				}
				return err
			},
		},
		{
			Name:     "trend-refresh",
			Interval: cfg.Trending.RefreshInterval.Std(),
			Run: func(ctx context.Context) error {
				var lastErr error
				for _, scope := range []string{pulse.EventHashtag, pulse.EventTopic} {
					for _, tf := range []pulse.Timeframe{pulse.TimeframeHour, pulse.TimeframeDay} {
						if _, err := trends.Refresh(ctx, scope, tf, "", cfg.Trending.Limit); err != nil {
							lastErr = err
						}
					}
				}
				return lastErr
			},
		},
	}, log)
	sched.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := kv.Ping(ctx); err != nil {
			// Degraded, not down: the engine keeps accepting writes fail-open.
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("degraded: cache unavailable\n"))
			return
		}
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("durable store unavailable\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("pulsed listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	stopRun()
	<-runDone

	// Final sweep runs inside Stop for jobs marked Final.
	sched.Stop()
	log.Info().Msg("stopped")
}
