// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("scheduler.interval", "60s")
	viper.SetDefault("scheduler.retry", "1m")
}

// Starter starts campaigns.
type Starter interface {
	Start(ctx context.Context, recipients []string, name string, delayMin, delayMax time.Duration) (*Run, error)
}

// SchedulerOptions configures the scheduler.
type SchedulerOptions struct {
	Interval time.Duration
	Retry    time.Duration
}

// SchedulerOptionsFromViper reads SchedulerOptions from viper.
//
// `scheduler.interval` is the time between two scans of the scheduled jobs.
// `scheduler.retry` postpones due jobs, while another run is active.
func SchedulerOptionsFromViper() SchedulerOptions {
	return SchedulerOptions{
		Interval: viper.GetDuration("scheduler.interval"),
		Retry:    viper.GetDuration("scheduler.retry"),
	}
}

// Scheduler starts campaigns at a later time. Jobs only live in memory.
type Scheduler struct {
	starter     Starter
	coordinator *Coordinator
	opts        SchedulerOptions

	mu   sync.Mutex
	jobs []*models.ScheduledJob
}

// NewScheduler creates a scheduler without jobs.
func NewScheduler(starter Starter, coordinator *Coordinator, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		starter:     starter,
		coordinator: coordinator,
		opts:        opts,
	}
}

// Schedule adds a job.
func (s *Scheduler) Schedule(job models.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, &job)
}

// Jobs returns copies of all pending jobs in insertion order.
func (s *Scheduler) Jobs() []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]models.ScheduledJob, len(s.jobs))
	for i, job := range s.jobs {
		jobs[i] = *job
	}

	return jobs
}

// Tick scans the jobs in insertion order. Due jobs are postponed while any run is active. The
// first due job is removed and started, so at most one job is started per tick. Jobs failing to
// start for any reason other than ErrBusy are dropped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.jobs); i++ {
		job := s.jobs[i]

		if job.RunAt.After(now) {
			continue
		}

		if s.coordinator.Busy() {
			job.RunAt = now.Add(s.opts.Retry)

			log.InfoContext(ctx).
				Str("name", job.CampaignName).
				Time("runAt", job.RunAt).
				Msg("another run is active, postponing scheduled campaign")

			continue
		}

		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)

		run, err := s.starter.Start(ctx, job.Recipients, job.CampaignName, job.DelayMin, job.DelayMax)
		if err != nil {
			if errors.Is(err, ErrBusy) {
				job.RunAt = now.Add(s.opts.Retry)
				s.jobs = append(s.jobs, job)

				return nil
			}

			log.ErrorContext(ctx).
				Err(err).
				Str("name", job.CampaignName).
				Msg("could not start scheduled campaign, dropping it")

			return nil
		}

		log.InfoContext(log.WithCampaign(ctx, run.CampaignID)).
			Str("name", job.CampaignName).
			Msg("scheduled campaign started")

		return run
	}

	return nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "scheduler")

	interval := s.opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			if run := s.Tick(ctx, now); run != nil {
				go s.await(ctx, run)
			}
		}
	}
}

func (s *Scheduler) await(ctx context.Context, run *Run) {
	if err := run.Wait(); err != nil {
		log.ErrorContext(log.WithCampaign(ctx, run.CampaignID)).
			Err(err).
			Msg("scheduled campaign ended with an error")
	}
}
