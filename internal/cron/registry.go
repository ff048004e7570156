package cron

import (
	"context"
	"time"
)

// Job is one unit of scheduled bundle maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds jobs in registration order, each with its own cadence.
// The bundler worker relies on the order: closing bundles runs before
// retention within a cycle.
type Registry struct {
	schedules []*schedule
}

// NewRegistry registers jobs that run on every cycle.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Every(job, 0)
	}
	return r
}

// Every registers job to run at most once per interval. A zero interval runs
// it on every cycle. Nil jobs are ignored so optional jobs can be passed
// through.
func (r *Registry) Every(job Job, interval time.Duration) *Registry {
	if job != nil {
		r.schedules = append(r.schedules, &schedule{job: job, every: interval})
	}
	return r
}

// due returns the jobs whose interval elapsed by now and stamps them as run.
// Jobs that have never run are always due.
func (r *Registry) due(now time.Time) []Job {
	var jobs []Job
	for _, s := range r.schedules {
		if !s.lastRun.IsZero() && s.every > 0 && now.Sub(s.lastRun) < s.every {
			continue
		}
		s.lastRun = now
		jobs = append(jobs, s.job)
	}
	return jobs
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schedules))
	for _, s := range r.schedules {
		names = append(names, s.job.Name())
	}
	return names
}
