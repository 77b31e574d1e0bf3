// Package scheduler runs one-shot jobs, such as conversation reminders, at a
// point in time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/ports"
)

var (
	// ErrStopped is returned when jobs are added to a stopped scheduler.
	ErrStopped = errors.New("scheduler stopped")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("scheduler already started")
)

type state int

const (
	idle state = iota
	running
	stopped
)

type entry struct {
	job   ports.Job
	timer *time.Timer
}

// Scheduler implements ports.Scheduler with one timer per pending job.
// Jobs added before Start wait until it is called. Stop cancels pending jobs
// and waits for the running ones.
type Scheduler struct {
	mu     sync.Mutex
	state  state
	jobs   map[string]*entry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock sets the time source used to compute delays.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New returns an idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*entry),
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms every pending job. Jobs run with a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case running:
		return ErrStarted
	case stopped:
		return ErrStopped
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = running
	for _, e := range s.jobs {
		s.arm(e)
	}
	return nil
}

// Stop cancels pending jobs and blocks until running jobs return.
// A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == stopped {
		s.mu.Unlock()
		return
	}
	for id, e := range s.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.jobs, id)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.state = stopped
	s.mu.Unlock()

	s.wg.Wait()
}

// AddJob schedules job, replacing a pending job with the same ID.
func (s *Scheduler) AddJob(job ports.Job) error {
	if job.ID == "" || job.Run == nil {
		return errors.New("job needs an id and a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stopped {
		return ErrStopped
	}
	if old, ok := s.jobs[job.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &entry{job: job}
	s.jobs[job.ID] = e
	if s.state == running {
		s.arm(e)
	}
	return nil
}

// RemoveJob cancels a pending job.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.jobs, id)
	return true
}

// Jobs lists pending jobs by RunAt, then ID.
func (s *Scheduler) Jobs() []ports.Job {
	s.mu.Lock()
	out := make([]ports.Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].RunAt.Before(out[j].RunAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(e *entry) {
	delay := e.job.RunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(e) })
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	// replaced, removed or stopped in the meantime
	if s.state != running || s.jobs[e.job.ID] != e {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, e.job.ID)
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "job_id", e.job.ID, "panic", r)
		}
	}()
	s.logger.Debug("running scheduled job", "job_id", e.job.ID)
	e.job.Run(ctx)
}
