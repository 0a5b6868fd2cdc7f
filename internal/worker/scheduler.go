package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic sweep. Run returns how many records it touched.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Reconciler is the part of the reconciliation service the scheduler drives.
type Reconciler interface {
	ExpireStale(ctx context.Context) (int, error)
	RetryPushes(ctx context.Context) (int, error)
	Rematch(ctx context.Context) (int, error)
}

type Intervals struct {
	Expiry  time.Duration
	Retry   time.Duration
	Rematch time.Duration
}

func ReconciliationJobs(r Reconciler, iv Intervals) []Job {
	return []Job{
		{Name: "expire-stale-orders", Interval: iv.Expiry, Run: r.ExpireStale},
		{Name: "retry-payment-prompts", Interval: iv.Retry, Run: r.RetryPushes},
		{Name: "rematch-payments", Interval: iv.Rematch, Run: r.Rematch},
	}
}

// Scheduler runs each job once at start and then on its own ticker. Runs of
// the same job never overlap.
type Scheduler struct {
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			slog.Warn("job disabled, non-positive interval", "job", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.run(ctx, job)
	for {
		select {
		case <-ticker.C:
			s.run(ctx, job)
		case <-ctx.Done():
			slog.Info("stopping job", "job", job.Name)
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		slog.Error("job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return
	}
	slog.Debug("job finished", "job", job.Name, "affected", n, "duration", time.Since(start))
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
