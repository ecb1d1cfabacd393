package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/logging"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/stages"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/streaming"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// DefaultBatchSize is the number of runs a batch executes at once.
const DefaultBatchSize = 4

// Options configures an Orchestrator. Registry is required.
type Options struct {
	Registry  *stages.Registry
	Gate      *ApprovalGate      // nil = DefaultGate
	Hub       streaming.EventHub // nil = no live events
	Logger    *slog.Logger       // nil = slog.Default
	BatchSize int                // <= 0 = DefaultBatchSize
}

// Orchestrator drives the four-stage pipeline. It holds no per-run state, so
// one Orchestrator may serve any number of concurrent runs.
type Orchestrator struct {
	registry  *stages.Registry
	gate      *ApprovalGate
	hub       streaming.EventHub
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
	newRunID  func() string
}

// NewOrchestrator validates opts and returns an Orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "stage registry is nil")
	}
	if err := opts.Registry.MustComplete(); err != nil {
		return nil, err
	}
	if opts.Gate == nil {
		opts.Gate = DefaultGate()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{
		registry:  opts.Registry,
		gate:      opts.Gate,
		hub:       opts.Hub,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		newRunID:  uuid.NewString,
	}, nil
}

// Gate returns the approval gate in use.
func (o *Orchestrator) Gate() *ApprovalGate {
	return o.gate
}

// Run evaluates one scenario. The returned state is always terminal when err
// is nil or FATAL_STAGE. A FATAL_STAGE error means Underwriting failed; every
// other stage failure is recorded in the state and never returned.
func (o *Orchestrator) Run(ctx context.Context, scenarioID string, mode schema.Mode) (*schema.WorkflowState, error) {
	if strings.TrimSpace(scenarioID) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "scenario id is empty")
	}
	m, err := schema.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	return o.RunContext(ctx, schema.ExecutionContext{ScenarioID: scenarioID, Mode: m, StartedAt: o.now()})
}

// run is the state owned by a single execution. Only the orchestrator
// goroutine driving the run touches it.
type run struct {
	id       string
	state    *schema.WorkflowState
	errors   *ErrorLog
	journal  *Journal
	runFSM   *RunFSM
	stageFSM *StageFSM
	logger   *slog.Logger
	now      func() time.Time
}

// stageRun is what a parallel task hands back to the orchestrator.
type stageRun struct {
	outcome     *schema.StageOutcome
	completedAt time.Time
}

// RunContext evaluates the pipeline for an execution context the caller
// built. A zero StartedAt is stamped with the current time.
func (o *Orchestrator) RunContext(ctx context.Context, ec schema.ExecutionContext) (*schema.WorkflowState, error) {
	if ec.StartedAt.IsZero() {
		ec.StartedAt = o.now()
	}
	if ec.Mode == "" {
		ec.Mode = schema.ModeOffline
	}

	runID := o.newRunID()
	ctx = logging.WithRun(ctx, runID, ec.ScenarioID)

	journal := NewJournal(runID, ec.ScenarioID, o.hub, o.logger)
	r := &run{
		id:       runID,
		state:    schema.NewWorkflowState(ec),
		errors:   NewErrorLog(),
		journal:  journal,
		runFSM:   NewRunFSM(journal),
		stageFSM: NewStageFSM(journal),
		logger:   o.logger,
		now:      o.now,
	}

	if err := r.runFSM.Transition(ctx, schema.WorkflowStatusIdle, schema.WorkflowStatusRunning,
		map[string]any{"mode": string(ec.Mode)}); err != nil {
		return nil, err
	}
	r.state.Status = schema.WorkflowStatusRunning
	r.errors.Clear()
	o.logger.InfoContext(ctx, "run started", slog.String("mode", string(ec.Mode)))

	uwPayload, decision, fatal := o.underwrite(ctx, r)
	if fatal != nil {
		r.finish(ctx, schema.WorkflowStatusError)
		o.logger.ErrorContext(ctx, "run halted", slog.String("error", fatal.Error()))
		return r.state, fatal
	}

	if !decision.Proceed {
		reason := "underwriting decision " + string(decision.Decision)
		for _, s := range []schema.StageName{schema.StageReserve, schema.StageBehavior, schema.StageHedging} {
			r.skip(ctx, s, reason)
		}
		r.finish(ctx, schema.WorkflowStatusCompleted)
		o.logger.InfoContext(ctx, "run gated", slog.String("decision", string(decision.Decision)))
		return r.state, nil
	}

	o.fanOut(ctx, r, uwPayload)

	if r.state.StatusOf(schema.StageReserve) == schema.StageStatusSuccess {
		hedgeInput := schema.CopyPayload(r.state.Result(schema.StageReserve).Payload)
		r.start(ctx, schema.StageHedging)
		out := o.invoke(ctx, schema.StageHedging, hedgeInput)
		r.complete(ctx, schema.StageHedging, stageRun{outcome: out, completedAt: o.now()})
	} else {
		r.skip(ctx, schema.StageHedging, "reserve did not succeed")
	}

	r.finish(ctx, schema.WorkflowStatusCompleted)
	o.logger.InfoContext(ctx, "run completed", slog.Int("errors", len(r.state.Errors)))
	return r.state, nil
}

// underwrite runs the Underwriting stage and the gate. A non-nil error is
// the run's fatal error; Underwriting is then recorded as failed.
func (o *Orchestrator) underwrite(ctx context.Context, r *run) (map[string]any, *GateDecision, error) {
	ec := r.state.Context
	input := map[string]any{
		stages.InputScenarioID: ec.ScenarioID,
		stages.InputMode:       string(ec.Mode),
	}

	r.start(ctx, schema.StageUnderwriting)
	out := o.invoke(ctx, schema.StageUnderwriting, input)

	var decision *GateDecision
	if out.Success {
		d, err := o.gate.Evaluate(ctx, out.Payload, ec)
		if err != nil {
			out = schema.Failed("%s", err.Error())
		} else {
			decision = d
		}
	}

	r.complete(ctx, schema.StageUnderwriting, stageRun{outcome: out, completedAt: o.now()})
	if !out.Success {
		return nil, nil, schema.NewError(schema.ErrCodeFatalStage, out.Error).
			WithStage(schema.StageUnderwriting).
			WithDetails(map[string]any{"run_id": r.id, "scenario_id": ec.ScenarioID})
	}

	r.journal.Emit(ctx, schema.StageUnderwriting, schema.EventGateEvaluated, map[string]any{
		"decision":   string(decision.Decision),
		"proceed":    decision.Proceed,
		"expression": decision.Expression,
	})
	return out.Payload, decision, nil
}

// fanOut runs Reserve and Behavior concurrently and joins them. Results are
// applied in pipeline order after both tasks are terminal.
func (o *Orchestrator) fanOut(ctx context.Context, r *run, uwPayload map[string]any) {
	ec := r.state.Context
	parallel := []schema.StageName{schema.StageReserve, schema.StageBehavior}

	for _, s := range parallel {
		r.start(ctx, s)
	}
	r.journal.Emit(ctx, "", schema.EventParallelStarted, map[string]any{"stages": parallel})

	pool := NewWorkerPool(ParallelWidth)
	defer pool.Shutdown()

	results := make([]stageRun, len(parallel))
	tasks := make([]func(context.Context) error, len(parallel))
	for i, s := range parallel {
		i, s := i, s
		input := map[string]any{
			stages.InputScenarioID:   ec.ScenarioID,
			stages.InputMode:         string(ec.Mode),
			stages.InputUnderwriting: schema.CopyPayload(uwPayload),
		}
		tasks[i] = func(context.Context) error {
			out := o.invoke(ctx, s, input)
			results[i] = stageRun{outcome: out, completedAt: o.now()}
			return nil
		}
	}

	// Submission ignores cancellation so both tasks always start; the
	// executors still observe ctx.
	errs := pool.Join(context.WithoutCancel(ctx), tasks...)

	joined := make(map[string]any, len(parallel))
	for i, s := range parallel {
		res := results[i]
		if res.outcome == nil {
			msg := "task did not complete"
			if errs[i] != nil {
				msg = errs[i].Error()
			}
			res = stageRun{outcome: schema.Failed("%s: %s", s, msg), completedAt: o.now()}
		}
		r.complete(ctx, s, res)
		joined[string(s)] = string(r.state.StatusOf(s))
	}
	r.journal.Emit(ctx, "", schema.EventParallelJoined, joined)
}

// invoke calls the registered executor. It never returns nil.
func (o *Orchestrator) invoke(ctx context.Context, stage schema.StageName, input map[string]any) *schema.StageOutcome {
	exec, err := o.registry.Get(stage)
	if err != nil {
		return schema.Failed("%s", err.Error())
	}
	out, err := exec.Execute(logging.WithStage(ctx, string(stage)), input)
	if err != nil {
		return schema.Failed("%s", err.Error())
	}
	if out == nil {
		return schema.Failed("%s executor returned no outcome", stage)
	}
	return out
}

// RunBatch evaluates independent scenarios concurrently, at most BatchSize at
// a time. Results are in the order of scenarioIDs.
func (o *Orchestrator) RunBatch(ctx context.Context, scenarioIDs []string, mode schema.Mode) []BatchResult {
	results := make([]BatchResult, len(scenarioIDs))
	tasks := make([]func(context.Context) error, len(scenarioIDs))
	for i, id := range scenarioIDs {
		i, id := i, id
		results[i].ScenarioID = id
		tasks[i] = func(taskCtx context.Context) error {
			state, err := o.Run(taskCtx, id, mode)
			results[i].State = state
			results[i].setErr(err)
			return err
		}
	}

	pool := NewWorkerPool(o.batchSize)
	errs := pool.Join(ctx, tasks...)
	// Shutdown waits for the pool goroutines, so the metrics are final.
	pool.Shutdown()

	for i, err := range errs {
		if err != nil && results[i].Err == nil {
			results[i].setErr(err)
		}
	}

	m := pool.Metrics()
	o.logger.InfoContext(ctx, "batch finished",
		slog.Int("scenarios", len(scenarioIDs)),
		slog.Int("pool_size", pool.Size()),
		slog.Int64("completed", m.Completed),
		slog.Int64("failed", m.Failed),
		slog.Int64("panics", m.Panics),
	)
	return results
}

// BatchResult is the outcome of one scenario in a batch.
type BatchResult struct {
	ScenarioID string                `json:"scenario_id"`
	State      *schema.WorkflowState `json:"state,omitempty"`
	Error      string                `json:"error,omitempty"`
	Err        error                 `json:"-"`
}

func (b *BatchResult) setErr(err error) {
	b.Err = err
	if err != nil {
		b.Error = err.Error()
	}
}

// --- per-run bookkeeping ---

func (r *run) transition(ctx context.Context, stage schema.StageName, to schema.StageStatus, detail map[string]any) bool {
	res := r.state.Result(stage)
	if err := r.stageFSM.Transition(ctx, stage, res.Status, to, detail); err != nil {
		r.logger.ErrorContext(ctx, "stage transition rejected",
			slog.String("stage", string(stage)), slog.String("error", err.Error()))
		return false
	}
	res.Status = to
	return true
}

func (r *run) start(ctx context.Context, stage schema.StageName) {
	if r.transition(ctx, stage, schema.StageStatusRunning, nil) {
		at := r.now()
		r.state.Result(stage).StartedAt = &at
	}
}

func (r *run) complete(ctx context.Context, stage schema.StageName, sr stageRun) {
	res := r.state.Result(stage)
	at := sr.completedAt

	if sr.outcome.Success {
		if r.transition(ctx, stage, schema.StageStatusSuccess, nil) {
			res.Payload = schema.CopyPayload(sr.outcome.Payload)
			res.CompletedAt = &at
		}
		r.logger.InfoContext(ctx, "stage succeeded", slog.String("stage", string(stage)))
		return
	}

	if r.transition(ctx, stage, schema.StageStatusFailed, map[string]any{"error": sr.outcome.Error}) {
		res.Error = sr.outcome.Error
		res.CompletedAt = &at
		if err := r.errors.Append(stage, sr.outcome.Error, at); err != nil {
			r.logger.ErrorContext(ctx, "error log", slog.String("error", err.Error()))
		}
	}
	r.logger.WarnContext(ctx, "stage failed",
		slog.String("stage", string(stage)), slog.String("error", sr.outcome.Error))
}

func (r *run) skip(ctx context.Context, stage schema.StageName, reason string) {
	detail := map[string]any{"code": schema.ErrCodeDependencyNotMet, "reason": reason}
	if r.transition(ctx, stage, schema.StageStatusSkipped, detail) {
		r.logger.InfoContext(ctx, "stage skipped",
			slog.String("stage", string(stage)), slog.String("reason", reason))
	}
}

func (r *run) finish(ctx context.Context, to schema.WorkflowStatus) {
	r.state.Errors = r.errors.Records()
	detail := map[string]any{"errors": len(r.state.Errors)}
	if err := r.runFSM.Transition(ctx, r.state.Status, to, detail); err != nil {
		r.logger.ErrorContext(ctx, "run transition rejected", slog.String("error", err.Error()))
		return
	}
	at := r.now()
	r.state.Status = to
	r.state.CompletedAt = &at
}
