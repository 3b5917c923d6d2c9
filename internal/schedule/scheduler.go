// Package schedule runs the kiosk's periodic jobs: pull, push, and backup,
// each on its own ticker. A tick that arrives while the same job is still
// running is skipped, never queued, so a slow sync can't build a backlog of
// stacked cycles.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventreservoir/internal/reconcile"
)

// Job is one periodic unit of work. Run reports how much it did; the count
// only feeds logging.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)

	running atomic.Bool
}

type Scheduler struct {
	Log  *slog.Logger
	jobs []*Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{Log: log}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) (int, error)) {
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per job. Jobs stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

// Trigger runs a named job immediately, outside its ticker. Used for the
// one-shot sync after connectivity returns.
func (s *Scheduler) Trigger(ctx context.Context, name string) {
	for _, job := range s.jobs {
		if job.Name == name {
			s.runOnce(ctx, job)
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		s.Log.Debug("job still running, tick skipped", "job", job.Name)
		return
	}
	defer job.running.Store(false)

	n, err := job.Run(ctx)
	switch {
	case errors.Is(err, reconcile.ErrOffline):
		s.Log.Debug("job skipped offline", "job", job.Name)
	case errors.Is(err, reconcile.ErrSyncInFlight):
		s.Log.Debug("job skipped, sync in flight", "job", job.Name)
	case err != nil:
		s.Log.Error("job failed", "job", job.Name, "err", err)
	default:
		s.Log.Debug("job complete", "job", job.Name, "count", n)
	}
}
