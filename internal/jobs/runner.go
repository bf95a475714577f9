package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
)

// Job is one recurring sweep, such as the session generator or the
// subscription expiry pass.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// Runner executes registered jobs on their intervals. With a lock configured
// only one instance across the deployment runs a given job per tick.
type Runner struct {
	jobs    []Job
	lock    locker
	metrics *metrics.JobMetrics
	logg    *logger.Logger
}

// NewRunner builds a runner. The lock and metrics may be nil.
func NewRunner(lock locker, m *metrics.JobMetrics, logg *logger.Logger) *Runner {
	return &Runner{lock: lock, metrics: m, logg: logg}
}

// Add registers a job. Jobs with no name, no interval or no body are ignored.
func (r *Runner) Add(job Job) {
	if job.Name == "" || job.Interval <= 0 || job.Run == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Run executes every registered job once immediately, then on its interval,
// until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	r.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	if r.lock != nil {
		// The lock expires on its own; a crashed holder only delays the
		// job by one interval.
		ok, err := r.lock.SetNX(ctx, lockKey(job.Name), "1", job.Interval)
		if err != nil {
			if r.logg != nil {
				r.logg.Warn(r.logg.WithField(ctx, "job", job.Name), "job lock unavailable, running without it")
			}
		} else if !ok {
			return
		}
	}

	start := time.Now()
	err := job.Run(ctx)
	r.metrics.ObserveDuration(job.Name, time.Since(start))

	jctx := ctx
	if r.logg != nil {
		jctx = r.logg.WithFields(ctx, map[string]any{
			"job":         job.Name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	if err != nil {
		r.metrics.IncFailure(job.Name)
		if r.logg != nil {
			r.logg.Error(jctx, "job failed", err)
		}
		return
	}
	r.metrics.IncSuccess(job.Name)
	if r.logg != nil {
		r.logg.Info(jctx, "job completed")
	}
}

func lockKey(name string) string {
	return fmt.Sprintf("jobs:lock:%s", name)
}
