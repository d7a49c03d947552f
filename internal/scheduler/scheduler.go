// Package scheduler runs the recurring background jobs (feed sweeps,
// summarization, tagging, reference data refresh) on a shared worker pool.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/rfletcher/intelforge/internal/logging"
)

// Job is one recurring task. Run receives a context that is cancelled when
// the scheduler stops.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the job immediately instead of waiting a full
	// interval first.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler ticks each registered job on its own interval and dispatches
// runs to a bounded pool. A job never overlaps itself: a tick that fires
// while the previous run is still going is dropped.
type Scheduler struct {
	pool   *ants.Pool
	logger *logging.Logger

	mu      sync.Mutex
	jobs    []Job
	running map[string]bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(workers int, logger *logging.Logger) (*Scheduler, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Scheduler{
		pool:    pool,
		logger:  logger,
		running: make(map[string]bool),
	}, nil
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches one ticker goroutine per job. Calling Start twice is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go s.tick(ctx, job)
		s.logger.Info("job scheduled",
			logging.WithField("job", job.Name),
			logging.WithField("interval", job.Interval.String()))
	}
}

// Stop cancels all jobs, waits for in-flight runs, and releases the pool.
// Calling Stop twice or before Start is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.pool.Release()
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.dispatch(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatch(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Debug("previous run still in progress, skipping tick",
			logging.WithField("job", job.Name))
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running[job.Name] = false
			s.mu.Unlock()

			if r := recover(); r != nil {
				s.logger.Error("job panicked",
					logging.WithField("job", job.Name),
					logging.WithField("panic", fmt.Sprint(r)),
					logging.WithField("stack", string(debug.Stack())))
			}
		}()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("job failed",
				logging.WithField("job", job.Name),
				logging.WithField("error", err.Error()),
				logging.WithField("duration", time.Since(start).String()))
			return
		}
		s.logger.Debug("job completed",
			logging.WithField("job", job.Name),
			logging.WithField("duration", time.Since(start).String()))
	})
	if err != nil {
		s.wg.Done()
		s.mu.Lock()
		s.running[job.Name] = false
		s.mu.Unlock()
		s.logger.Error("failed to submit job",
			logging.WithField("job", job.Name),
			logging.WithField("error", err.Error()))
	}
}
