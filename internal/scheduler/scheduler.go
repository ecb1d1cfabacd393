package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/engine"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// DefaultTickInterval is how often the scheduler looks for due jobs.
const DefaultTickInterval = 30 * time.Second

// Last-run statuses recorded on a Job.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// BatchRunner evaluates a set of scenarios. Satisfied by engine.Orchestrator.
type BatchRunner interface {
	RunBatch(ctx context.Context, scenarioIDs []string, mode schema.Mode) []engine.BatchResult
}

// Job re-evaluates a scenario set on a cron schedule.
type Job struct {
	ID          string      `json:"id"`
	Cron        string      `json:"cron"`
	ScenarioIDs []string    `json:"scenario_ids"`
	Mode        schema.Mode `json:"mode"`
	NextRunAt   *time.Time  `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	LastStatus  string      `json:"last_status,omitempty"`
	LastSummary *RunSummary `json:"last_summary,omitempty"`
}

// RunSummary counts the outcomes of one batch.
type RunSummary struct {
	Runs          int `json:"runs"`
	Completed     int `json:"completed"`
	Fatal         int `json:"fatal"`
	Rejected      int `json:"rejected"`
	StageFailures int `json:"stage_failures"`
}

// Summarize counts the outcomes of a batch.
func Summarize(results []engine.BatchResult) RunSummary {
	sum := RunSummary{Runs: len(results)}
	for _, r := range results {
		switch {
		case r.State == nil:
			sum.Rejected++
		case r.State.Status == schema.WorkflowStatusError:
			sum.Fatal++
		default:
			sum.Completed++
		}
		if r.State != nil {
			sum.StageFailures += len(r.State.Errors)
		}
	}
	return sum
}

// Scheduler fires due jobs from a ticker loop. A job whose previous batch is
// still running is not started again.
type Scheduler struct {
	runner BatchRunner
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	mu      sync.Mutex // guards cancel, done, stopped and every wg.Add

	jobsMu sync.Mutex
	jobs   map[string]*Job
	hook   func(Job, []engine.BatchResult)

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
	wg         sync.WaitGroup
}

// NewScheduler creates a new Scheduler. tick <= 0 uses DefaultTickInterval.
func NewScheduler(runner BatchRunner, logger *slog.Logger, tick time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		tick:     tick,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// OnBatch registers fn to be called after every batch a job runs.
func (s *Scheduler) OnBatch(fn func(Job, []engine.BatchResult)) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.hook = fn
}

// AddJob validates job and schedules its first run. An empty ID is filled
// with a generated one.
func (s *Scheduler) AddJob(job Job) (*Job, error) {
	if len(job.ScenarioIDs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "job has no scenarios")
	}
	mode, err := schema.ParseMode(string(job.Mode))
	if err != nil {
		return nil, err
	}
	job.Mode = mode
	job.Cron = strings.TrimSpace(job.Cron)
	next, err := s.CalculateNextRun(job.Cron, s.now())
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.ScenarioIDs = append([]string(nil), job.ScenarioIDs...)
	job.NextRunAt = &next
	job.LastRunAt, job.LastStatus, job.LastSummary = nil, "", nil

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "job %q already scheduled", job.ID)
	}
	s.jobs[job.ID] = &job
	cp := job
	return &cp, nil
}

// RemoveJob unschedules a job. A batch already running finishes.
func (s *Scheduler) RemoveJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (*Job, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	cp := *j
	return &cp, nil
}

// Jobs returns a snapshot of every job, sorted by ID.
func (s *Scheduler) Jobs() []Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler stopped")
	}
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("tick", s.tick))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.fireDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue starts every job whose next run time has passed.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.jobsMu.Lock()
	var due []string
	for id, job := range s.jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			due = append(due, id)
		}
	}
	s.jobsMu.Unlock()

	sort.Strings(due)
	for _, id := range due {
		if _, err := s.launch(ctx, id); err != nil {
			s.logger.Debug("job not launched", slog.String("job_id", id), slog.String("error", err.Error()))
			return
		}
	}
}

// RunNow starts a job immediately, outside its schedule. It reports false if
// the job is already running. Once Stop has been called, or ctx is done, no
// job is launched and an error is returned.
func (s *Scheduler) RunNow(ctx context.Context, id string) (bool, error) {
	if _, err := s.Job(id); err != nil {
		return false, err
	}
	return s.launch(ctx, id)
}

// launch starts a batch for id. The stop check and wg.Add happen under s.mu,
// so Stop's wg.Wait sees every batch that was let through.
func (s *Scheduler) launch(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, schema.NewError(schema.ErrCodeConflict, "scheduler stopped")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.tryAcquire(id) {
		s.logger.Debug("job still running, tick skipped", slog.String("job_id", id))
		return false, nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseJob(id)
		s.runJob(ctx, id)
	}()
	return true, nil
}

// runJob executes one batch and records its outcome on the job.
func (s *Scheduler) runJob(ctx context.Context, id string) {
	job, err := s.Job(id)
	if err != nil {
		return
	}
	started := s.now()
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.Int("scenarios", len(job.ScenarioIDs)),
	)

	results := s.runner.RunBatch(ctx, job.ScenarioIDs, job.Mode)
	sum := Summarize(results)
	status := StatusSuccess
	if sum.Fatal > 0 || sum.Rejected > 0 {
		status = StatusError
	}

	s.logger.Info("scheduled job finished",
		slog.String("job_id", job.ID),
		slog.String("status", status),
		slog.Int("completed", sum.Completed),
		slog.Int("fatal", sum.Fatal),
		slog.Int("rejected", sum.Rejected),
		slog.Int("stage_failures", sum.StageFailures),
	)

	next, err := s.CalculateNextRun(job.Cron, started)
	if err != nil {
		s.logger.Error("failed to reschedule job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}

	s.jobsMu.Lock()
	hook := s.hook
	if j, ok := s.jobs[id]; ok {
		j.LastRunAt = &started
		j.LastStatus = status
		j.LastSummary = &sum
		if err == nil {
			j.NextRunAt = &next
		}
		*job = *j
	}
	s.jobsMu.Unlock()

	if hook != nil {
		hook(*job, results)
	}
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return schedule.Next(from), nil
}

// Stop shuts down the loop and waits for running batches to finish. A
// stopped scheduler launches nothing more and cannot be restarted. Stop is
// idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	// s.mu is released before waiting: the loop takes it in launch.
	if cancel != nil {
		cancel()
		<-done
	}
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
