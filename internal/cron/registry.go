package cron

import (
	"context"
	"fmt"

	robfig "github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its five-field cron expression.
type Entry struct {
	Job      Job
	Schedule string
	spec     robfig.Schedule
}

var scheduleParser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// Registry tracks the scheduled jobs in registration order. Names are unique.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates schedule and adds job. A blank schedule disables the job.
func (r *Registry) Register(schedule string, job Job) error {
	if job == nil {
		return fmt.Errorf("cron job required")
	}
	if schedule == "" {
		return nil
	}
	for _, existing := range r.entries {
		if existing.Job.Name() == job.Name() {
			return fmt.Errorf("cron job %q registered twice", job.Name())
		}
	}
	spec, err := scheduleParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("cron job %q: invalid schedule %q: %w", job.Name(), schedule, err)
	}
	r.entries = append(r.entries, Entry{Job: job, Schedule: schedule, spec: spec})
	return nil
}

// Entries returns a copy of the registered entries.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Lookup finds a job by name.
func (r *Registry) Lookup(name string) (Job, bool) {
	for _, entry := range r.entries {
		if entry.Job.Name() == name {
			return entry.Job, true
		}
	}
	return nil, false
}
