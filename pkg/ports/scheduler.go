package ports

import (
	"context"
	"time"
)

// Job is a callback that runs once at RunAt.
type Job struct {
	ID    string
	RunAt time.Time
	Run   func(ctx context.Context)
}

// Scheduler runs jobs at a point in time. Implementations must be safe for
// concurrent use, since every conversation loop shares one.
type Scheduler interface {
	// AddJob schedules job, replacing any pending job with the same ID.
	AddJob(job Job) error
	// RemoveJob cancels a pending job and reports whether it existed.
	RemoveJob(id string) bool
	// Jobs lists pending jobs ordered by RunAt.
	Jobs() []Job
}
