package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/jobs"
	"github.com/KafClaw/siteagent/internal/metrics"
)

// TaskEnqueuer queues an agent task as a background job.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, agentID, taskID string) (string, error)
}

// SweepFunc deletes expired rows and returns how many were removed.
type SweepFunc func(ctx context.Context) (int, error)

type sweep struct {
	name string
	fn   SweepFunc
}

// Scheduler is the background worker loop.
type Scheduler struct {
	rt      *config.Runtime
	mgr     *jobs.Manager
	runner  *jobs.Runner
	tasks   TaskEnqueuer
	metrics *metrics.Metrics

	slots *slots
	lock  *FileLock
	wg    sync.WaitGroup

	mu        sync.Mutex
	sweeps    []sweep
	lastSweep time.Time
	lastCron  time.Time
	badCron   map[string]bool

	now func() time.Time
}

// New creates a Scheduler. tasks and m may be nil.
func New(rt *config.Runtime, mgr *jobs.Manager, runner *jobs.Runner, tasks TaskEnqueuer, m *metrics.Metrics) *Scheduler {
	cfg := rt.Current()
	lockPath := cfg.Scheduler.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(cfg.Paths.DataDir, "worker.lock")
	}
	return &Scheduler{
		rt:      rt,
		mgr:     mgr,
		runner:  runner,
		tasks:   tasks,
		metrics: m,
		slots:   newSlots(func() int { return rt.Current().Scheduler.MaxConcurrent }),
		lock:    NewFileLock(lockPath),
		badCron: map[string]bool{},
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// AddSweep registers a retention sweep run every SweepInterval.
func (s *Scheduler) AddSweep(name string, fn SweepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, sweep{name: name, fn: fn})
}

// Run ticks until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.rt.Current().Scheduler.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	slog.Info("Scheduler started", "tick", interval, "max_concurrent", s.slots.capacity())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass: cron tasks and sweeps under the file lock,
// then job draining.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
	} else if acquired {
		s.dispatchCron(ctx, now)
		s.maybeSweep(ctx, now)
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Scheduler unlock failed", "error", err)
		}
	} else {
		slog.Debug("Scheduler cron and sweep skipped: lock held by another process")
	}
	s.Drain(ctx)
}

// Drain claims pending jobs while worker slots are free and runs them in
// the background.
func (s *Scheduler) Drain(ctx context.Context) int {
	started := 0
	for ctx.Err() == nil && s.slots.reserve() {
		job, err := s.mgr.ClaimNext(ctx)
		if err != nil {
			s.slots.cancel()
			slog.Warn("Job claim failed", "error", err)
			break
		}
		if job == nil {
			s.slots.cancel()
			break
		}
		started++
		s.slots.assign(job.ID, job.Processor)
		s.wg.Add(1)
		go func(job *jobs.Job) {
			defer s.wg.Done()
			defer s.slots.release(job.ID)
			s.runner.Run(ctx, job)
			s.recordOutcome(job)
		}(job)
	}
	return started
}

// Wait blocks until every job started by Drain has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Running returns the ids of jobs this process is executing, sorted.
func (s *Scheduler) Running() []string { return s.slots.ids() }

// FreeSlots reports how many more jobs Drain may start right now.
func (s *Scheduler) FreeSlots() int { return s.slots.free() }

func (s *Scheduler) recordOutcome(job *jobs.Job) {
	if s.metrics == nil {
		return
	}
	final, err := s.mgr.GetJob(context.Background(), job.ID)
	if err != nil || final == nil {
		return
	}
	s.metrics.JobFinished(job.Processor, final.Status)
}

// dispatchCron enqueues every agent task whose schedule matches the current
// minute. Each minute fires at most once per process.
func (s *Scheduler) dispatchCron(ctx context.Context, now time.Time) {
	if s.tasks == nil {
		return
	}
	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	if !minute.After(s.lastCron) {
		s.mu.Unlock()
		return
	}
	s.lastCron = minute
	s.mu.Unlock()

	for _, agent := range s.rt.Current().Agents {
		for _, task := range agent.Tasks {
			if task.Schedule == "" {
				continue
			}
			cron, err := ParseCron(task.Schedule)
			if err != nil {
				s.warnBadCron(agent.ID, task.ID, task.Schedule, err)
				continue
			}
			if !cron.Matches(minute) {
				continue
			}
			id, err := s.tasks.EnqueueTask(ctx, agent.ID, task.ID)
			if err != nil {
				slog.Warn("Scheduled task not enqueued", "agent", agent.ID, "task", task.ID, "error", err)
				continue
			}
			slog.Info("Scheduled task enqueued", "agent", agent.ID, "task", task.ID, "job", id)
		}
	}
}

func (s *Scheduler) warnBadCron(agentID, taskID, expr string, err error) {
	key := agentID + "/" + taskID + "/" + expr
	s.mu.Lock()
	seen := s.badCron[key]
	s.badCron[key] = true
	s.mu.Unlock()
	if !seen {
		slog.Warn("Invalid task schedule", "agent", agentID, "task", taskID, "schedule", expr, "error", err)
	}
}

func (s *Scheduler) maybeSweep(ctx context.Context, now time.Time) {
	interval := s.rt.Current().Scheduler.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	s.mu.Lock()
	due := s.lastSweep.IsZero() || now.Sub(s.lastSweep) >= interval
	if due {
		s.lastSweep = now
	}
	s.mu.Unlock()
	if due {
		s.Sweep(ctx)
	}
}

// Sweep runs every registered retention sweep once and returns the rows
// removed per sweep. A failing sweep does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) map[string]int {
	s.mu.Lock()
	sweeps := append([]sweep(nil), s.sweeps...)
	s.mu.Unlock()

	out := make(map[string]int, len(sweeps))
	for _, sw := range sweeps {
		n, err := sw.fn(ctx)
		if err != nil {
			slog.Warn("Retention sweep failed", "sweep", sw.name, "error", err)
			continue
		}
		out[sw.name] = n
		if n > 0 {
			slog.Info("Retention sweep", "sweep", sw.name, "deleted", n)
		}
	}
	return out
}

// NextRuns lists the next firing time of every scheduled agent task.
func NextRuns(cfg *config.Config, after time.Time) ([]TaskSchedule, error) {
	var out []TaskSchedule
	for _, agent := range cfg.Agents {
		for _, task := range agent.Tasks {
			if task.Schedule == "" {
				continue
			}
			cron, err := ParseCron(task.Schedule)
			if err != nil {
				return nil, fmt.Errorf("agent %s task %s: %w", agent.ID, task.ID, err)
			}
			out = append(out, TaskSchedule{
				AgentID:  agent.ID,
				TaskID:   task.ID,
				Schedule: task.Schedule,
				Next:     cron.Next(after),
			})
		}
	}
	return out, nil
}

// TaskSchedule is one scheduled agent task.
type TaskSchedule struct {
	AgentID  string    `json:"agent_id"`
	TaskID   string    `json:"task_id"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}
