package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReportFunc records intermediate progress for the running job.
type ReportFunc func(progress int, message string)

// ProcessorFunc does the work of one job and returns its response payload.
type ProcessorFunc func(ctx context.Context, job *Job, report ReportFunc) (any, error)

// Runner executes claimed jobs with named processors.
type Runner struct {
	mgr        *Manager
	mu         sync.RWMutex
	processors map[string]ProcessorFunc
}

// NewRunner creates a runner over mgr.
func NewRunner(mgr *Manager) *Runner {
	return &Runner{mgr: mgr, processors: make(map[string]ProcessorFunc)}
}

// Register installs a processor under name.
func (r *Runner) Register(name string, fn ProcessorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = fn
}

// RunNext claims and runs the oldest pending job. Returns false when the
// queue was empty.
func (r *Runner) RunNext(ctx context.Context) (bool, error) {
	job, err := r.mgr.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	r.Run(ctx, job)
	return true, nil
}

// RunByID claims and runs a specific job. Returns false if it was not pending.
func (r *Runner) RunByID(ctx context.Context, id string) (bool, error) {
	ok, err := r.mgr.Claim(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	job, err := r.mgr.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job %s vanished after claim", id)
	}
	r.Run(ctx, job)
	return true, nil
}

// Run executes an already-claimed job. The job always ends completed or
// failed, including when the processor panics or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, job *Job) {
	start := time.Now()
	// Terminal writes must survive cancellation of the worker context.
	finalCtx := context.WithoutCancel(ctx)

	var (
		resp   any
		runErr error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("processor panic: %v", rec)
			}
		}()
		r.mu.RLock()
		fn, ok := r.processors[job.Processor]
		r.mu.RUnlock()
		if !ok {
			runErr = fmt.Errorf("unknown processor %q", job.Processor)
			return
		}
		report := func(progress int, message string) {
			if _, err := r.mgr.UpdateJob(finalCtx, job.ID, Patch{Progress: &progress, Message: &message}); err != nil {
				slog.Warn("Job progress update failed", "job", job.ID, "error", err)
			}
		}
		resp, runErr = fn(ctx, job, report)
	}()

	if runErr != nil {
		if err := r.mgr.Fail(finalCtx, job.ID, runErr.Error()); err != nil {
			slog.Error("Job fail update failed", "job", job.ID, "error", err)
		}
		slog.Warn("Job failed", "job", job.ID, "processor", job.Processor, "duration", time.Since(start), "error", runErr)
		return
	}
	if err := r.mgr.Complete(finalCtx, job.ID, resp); err != nil {
		slog.Error("Job complete update failed", "job", job.ID, "error", err)
		if err := r.mgr.Fail(finalCtx, job.ID, "store response: "+err.Error()); err != nil {
			slog.Error("Job fail update failed", "job", job.ID, "error", err)
		}
		return
	}
	slog.Info("Job completed", "job", job.ID, "processor", job.Processor, "duration", time.Since(start))
}
