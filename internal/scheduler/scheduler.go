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

// Package scheduler runs the engine's periodic jobs: the counter flush
// sweep and the trending refresh. Each job gets one goroutine with its own
// ticker; Stop waits for all of them and then runs the final jobs so no
// counted interaction is stranded in the cache across a shutdown.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is one named periodic task. Final marks jobs that must run once more
// during shutdown.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	Final    bool
}

// Scheduler drives a fixed set of jobs.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger

	stopChan chan struct{}
	stopped  uint32
	wg       sync.WaitGroup
}

// New builds a scheduler; Start launches it.
func New(jobs []Job, log zerolog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, log: log, stopChan: make(chan struct{})}
}

// Start launches one goroutine per job.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(job)
	}
}

// Stop halts the tickers, waits for in-flight runs, then executes the final
// jobs with a bounded context.
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, job := range s.jobs {
		if !job.Final || job.Run == nil {
			continue
		}
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("final job run failed")
		}
	}
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), job.Interval)
			if err := job.Run(ctx); err != nil {
				s.log.Error().Err(err).Str("job", job.Name).Msg("periodic job run failed")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}
