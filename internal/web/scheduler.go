package web

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "casecal/internal/log"
)

const (
	pruneSpec  = "@daily"
	sweepSpec  = "@every 5m"
	jobTimeout = 2 * time.Minute
)

// Scheduler runs the periodic background jobs: ICS feed refresh, cache
// pruning and idle session expiry.
type Scheduler struct {
	cron *cron.Cron
	jobs []string
}

// NewScheduler registers the jobs that apply to deps.
func NewScheduler(deps Deps, sessions *registry) (*Scheduler, error) {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{cron: cron.New(cron.WithLocation(loc))}

	if deps.Feeds != nil && deps.Feeds.Len() > 0 {
		feeds := deps.Feeds
		if err := s.add("ics-refresh", deps.Config.RefreshCron, func(ctx context.Context) {
			if err := feeds.Refresh(ctx); err != nil {
				appLog.Warn("scheduled feed refresh incomplete", "error", err.Error())
			}
		}); err != nil {
			return nil, err
		}
	}

	if deps.Cache != nil {
		c := deps.Cache
		retention := time.Duration(deps.Config.CacheRetentionDays) * 24 * time.Hour
		now := deps.Now
		if now == nil {
			now = time.Now
		}
		if err := s.add("cache-prune", pruneSpec, func(ctx context.Context) {
			n, err := c.Prune(ctx, now().Add(-retention))
			if err != nil {
				appLog.Error("cache prune failed", err)
				return
			}
			appLog.Info("cache pruned", "rows", n)
		}); err != nil {
			return nil, err
		}
	}

	if sessions != nil {
		if err := s.add("session-sweep", sweepSpec, func(context.Context) {
			if n := sessions.sweep(); n > 0 {
				appLog.Info("expired idle sessions", "count", n, "active", sessions.len())
			}
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		appLog.Debug("scheduled job start", "job", name)
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs = append(s.jobs, name)
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string { return s.jobs }

func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
