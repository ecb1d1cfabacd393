package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/diagram"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/engine"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/fixtures"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/logging"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/report"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/scheduler"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/stages"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/streaming"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	mcpserver "github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/mcp"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// deps is the wired pipeline a command runs against.
type deps struct {
	logger     *slog.Logger
	catalog    *fixtures.Catalog
	registry   *stages.Registry
	hub        *streaming.MemoryHub
	orch       *engine.Orchestrator
	summarizer *report.Summarizer
	mode       schema.Mode
}

func (a *app) wire(cfg Config) (*deps, error) {
	logger := logging.New(a.stderr, cfg.LogLevel, cfg.LogFormat)

	catalog := fixtures.Builtin()
	if cfg.FixturesDir != "" {
		var err error
		if catalog, err = fixtures.Load(cfg.FixturesDir); err != nil {
			return nil, err
		}
	}

	contract, err := validation.NewReserveContract()
	if err != nil {
		return nil, err
	}
	registry, err := stages.NewFixtureRegistry(catalog, contract)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseRatedPolicy(cfg.RatedPolicy)
	if err != nil {
		return nil, err
	}
	gate, err := engine.NewApprovalGate(policy, cfg.GateExpr)
	if err != nil {
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	orch, err := engine.NewOrchestrator(engine.Options{
		Registry:  registry,
		Gate:      gate,
		Hub:       hub,
		Logger:    logger,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	return &deps{
		logger:     logger,
		catalog:    catalog,
		registry:   registry,
		hub:        hub,
		orch:       orch,
		summarizer: report.NewSummarizer(contract),
		mode:       cfg.ExecutionMode(),
	}, nil
}

// --- run ---

func (a *app) cmdRun(ctx context.Context, args []string) int {
	c, err := a.newCommand("run")
	if err != nil {
		return a.usageError(err)
	}
	asJSON := c.fs.Bool("json", false, "print the summary and state as JSON")
	watch := c.fs.Bool("watch", false, "stream run events to stderr while the run executes")
	diagramFormat := c.fs.String("diagram", "ascii", "diagram under the text summary: ascii, mermaid or none")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	if len(c.args) != 1 {
		return a.usageError(fmt.Errorf("run takes exactly one scenario id, got %d", len(c.args)))
	}
	switch *diagramFormat {
	case "ascii", "mermaid", "none":
	default:
		return a.usageError(fmt.Errorf("unknown diagram format %q", *diagramFormat))
	}

	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}
	scenarioID := c.args[0]

	var drained chan struct{}
	var unsubscribe func()
	if *watch {
		events, unsub, subErr := d.hub.Subscribe(ctx, streaming.EventFilter{ScenarioID: scenarioID})
		if subErr != nil {
			return a.usageError(subErr)
		}
		unsubscribe = unsub
		drained = make(chan struct{})
		go func() {
			defer close(drained)
			for ev := range events {
				a.printEvent(ev)
			}
		}()
	}

	state, runErr := d.orch.Run(ctx, scenarioID, d.mode)

	if *watch {
		// Publishing is synchronous, so every event of the run is buffered
		// by now. Closing the subscription lets the printer drain and exit.
		unsubscribe()
		<-drained
	}

	if state == nil {
		return a.usageError(runErr)
	}

	sum, err := d.summarizer.Summarize(ctx, state)
	if err != nil {
		return a.usageError(err)
	}

	if *asJSON {
		out := struct {
			Summary *report.Summary       `json:"summary"`
			State   *schema.WorkflowState `json:"state"`
			Error   string                `json:"error,omitempty"`
		}{Summary: sum, State: state}
		if runErr != nil {
			out.Error = runErr.Error()
		}
		if err := report.WriteJSON(a.stdout, out); err != nil {
			return a.usageError(err)
		}
	} else {
		switch *diagramFormat {
		case "none":
			sum.Diagram = ""
		case "mermaid":
			sum.Diagram = diagram.RenderMermaid(diagram.Build(state))
		}
		if err := report.WriteText(a.stdout, sum); err != nil {
			return a.usageError(err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", runErr)
		if schema.IsFatal(runErr) {
			return exitFatal
		}
		return exitUsage
	}
	return exitOK
}

// printEvent writes one event line to stderr. a.stderr is a syncWriter
// shared with the logger, so lines never interleave with log records.
func (a *app) printEvent(ev schema.Event) {
	stage := string(ev.Stage)
	if stage == "" {
		stage = "-"
	}
	fmt.Fprintf(a.stderr, "%3d %s %-16s %-13s %s\n",
		ev.Sequence, ev.Timestamp.Format("15:04:05.000"), ev.Type, stage, string(ev.Payload))
}

// --- batch ---

func (a *app) cmdBatch(ctx context.Context, args []string) int {
	c, err := a.newCommand("batch")
	if err != nil {
		return a.usageError(err)
	}
	asJSON := c.fs.Bool("json", false, "print the comparison as JSON")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}

	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}
	ids := c.args
	if len(ids) == 0 {
		ids = d.catalog.IDs()
	}

	results := d.orch.RunBatch(ctx, ids, d.mode)
	rows, code, err := a.batchRows(ctx, d.summarizer, results)
	if err != nil {
		return a.usageError(err)
	}

	if *asJSON {
		err = report.WriteJSON(a.stdout, rows)
	} else {
		err = report.WriteBatchText(a.stdout, rows)
	}
	if err != nil {
		return a.usageError(err)
	}
	return code
}

// batchRows summarizes results. The exit code is fatal if any run halted,
// otherwise usage if any request was rejected.
func (a *app) batchRows(ctx context.Context, summarizer *report.Summarizer, results []engine.BatchResult) ([]report.BatchRow, int, error) {
	rows := make([]report.BatchRow, 0, len(results))
	code := exitOK
	for _, r := range results {
		row := report.BatchRow{ScenarioID: r.ScenarioID, Error: r.Error}
		switch {
		case r.State == nil:
			if code == exitOK {
				code = exitUsage
			}
		case schema.IsFatal(r.Err):
			code = exitFatal
		}
		if r.State != nil {
			sum, err := summarizer.Summarize(ctx, r.State)
			if err != nil {
				return nil, exitUsage, err
			}
			row.Summary = sum
		}
		rows = append(rows, row)
	}
	return rows, code, nil
}

// --- scenarios ---

func (a *app) cmdScenarios(_ context.Context, args []string) int {
	c, err := a.newCommand("scenarios")
	if err != nil {
		return a.usageError(err)
	}
	asJSON := c.fs.Bool("json", false, "print the catalog as JSON")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}

	list := d.catalog.List()
	if *asJSON {
		if err := report.WriteJSON(a.stdout, list); err != nil {
			return a.usageError(err)
		}
		return exitOK
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPOLICY\tDECISION\tLABEL")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.PolicyID, s.ApprovalDecision, s.Label)
	}
	if err := tw.Flush(); err != nil {
		return a.usageError(err)
	}
	return exitOK
}

// --- stage ---

// stageReport is what the stage command prints.
type stageReport struct {
	Stage      schema.StageName     `json:"stage"`
	ScenarioID string               `json:"scenario_id"`
	Mode       schema.Mode          `json:"mode"`
	Outcome    *schema.StageOutcome `json:"outcome"`
}

func (a *app) cmdStage(ctx context.Context, args []string) int {
	c, err := a.newCommand("stage")
	if err != nil {
		return a.usageError(err)
	}
	output := c.fs.String("output", "", "also write the outcome JSON to this file")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	if len(c.args) != 2 {
		return a.usageError(fmt.Errorf("stage takes a stage name and one scenario id, got %d arguments", len(c.args)))
	}
	stage := schema.StageName(c.args[0])
	if !stage.Valid() {
		return a.usageError(fmt.Errorf("unknown stage %q (want one of %v)", c.args[0], schema.Stages))
	}

	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}
	scenarioID := c.args[1]
	if !d.catalog.Has(scenarioID) {
		return a.usageError(schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not found", scenarioID))
	}

	out, err := runStage(ctx, d.registry, stage, scenarioID, d.mode)
	if err != nil {
		return a.usageError(err)
	}
	rep := stageReport{Stage: stage, ScenarioID: scenarioID, Mode: d.mode, Outcome: out}
	if err := report.WriteJSON(a.stdout, rep); err != nil {
		return a.usageError(err)
	}
	if *output != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return a.usageError(err)
		}
		if err := os.WriteFile(*output, append(data, '\n'), 0o644); err != nil {
			return a.usageError(err)
		}
		fmt.Fprintf(a.stderr, "saved to %s\n", *output)
	}

	if !out.Success {
		fmt.Fprintf(a.stderr, "Error: %s failed: %s\n", stage, out.Error)
		return exitFatal
	}
	return exitOK
}

// runStage executes one stage through the registry. Upstream stages the
// target reads from run first, without the approval gate: reserve and
// behavior get the underwriting payload, hedging gets the reserve payload.
// A failed upstream stage is reported as the target's failure.
func runStage(ctx context.Context, registry *stages.Registry, stage schema.StageName, scenarioID string, mode schema.Mode) (*schema.StageOutcome, error) {
	base := map[string]any{
		stages.InputScenarioID: scenarioID,
		stages.InputMode:       string(mode),
	}
	if stage == schema.StageUnderwriting {
		return execStage(ctx, registry, stage, base)
	}

	uw, err := execStage(ctx, registry, schema.StageUnderwriting, base)
	if err != nil || !uw.Success {
		return upstream(schema.StageUnderwriting, uw, err)
	}
	withUW := schema.CopyPayload(base)
	withUW[stages.InputUnderwriting] = uw.Payload
	if stage != schema.StageHedging {
		return execStage(ctx, registry, stage, withUW)
	}

	reserve, err := execStage(ctx, registry, schema.StageReserve, withUW)
	if err != nil || !reserve.Success {
		return upstream(schema.StageReserve, reserve, err)
	}
	return execStage(ctx, registry, schema.StageHedging, schema.CopyPayload(reserve.Payload))
}

func execStage(ctx context.Context, registry *stages.Registry, stage schema.StageName, input map[string]any) (*schema.StageOutcome, error) {
	exec, err := registry.Get(stage)
	if err != nil {
		return nil, err
	}
	return exec.Execute(logging.WithStage(ctx, string(stage)), input)
}

func upstream(stage schema.StageName, out *schema.StageOutcome, err error) (*schema.StageOutcome, error) {
	if err != nil {
		return nil, err
	}
	return schema.Failed("upstream %s failed: %s", stage, out.Error), nil
}

// --- status ---

// statusReport is the effective layered configuration. The API key itself
// is never printed.
type statusReport struct {
	Version        string `json:"version"`
	Mode           string `json:"mode"`
	FixturesDir    string `json:"fixtures_dir"`
	Scenarios      int    `json:"scenarios"`
	RatedPolicy    string `json:"rated_policy"`
	Gate           string `json:"gate"`
	BatchSize      int    `json:"batch_size"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	APIKeyPresent  bool   `json:"api_key_present"`
	Settings       string `json:"settings"`
	SettingsExists bool   `json:"settings_exists"`
}

func (a *app) cmdStatus(_ context.Context, args []string) int {
	c, err := a.newCommand("status")
	if err != nil {
		return a.usageError(err)
	}
	asJSON := c.fs.Bool("json", false, "print the status as JSON")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	if len(c.args) != 0 {
		return a.usageError(fmt.Errorf("status takes no arguments"))
	}
	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}

	policy, _ := engine.ParseRatedPolicy(c.cfg.RatedPolicy)
	st := statusReport{
		Version:       version,
		Mode:          string(d.mode),
		FixturesDir:   c.cfg.FixturesDir,
		Scenarios:     d.catalog.Count(),
		RatedPolicy:   string(policy),
		Gate:          d.orch.Gate().Expression(),
		BatchSize:     c.cfg.BatchSize,
		LogLevel:      c.cfg.LogLevel,
		LogFormat:     c.cfg.LogFormat,
		APIKeyPresent: c.cfg.APIKey != "",
		Settings:      a.settings,
	}
	if _, err := os.Stat(a.settings); err == nil {
		st.SettingsExists = true
	}

	if *asJSON {
		if err := report.WriteJSON(a.stdout, st); err != nil {
			return a.usageError(err)
		}
		return exitOK
	}

	fixturesDir := st.FixturesDir
	if fixturesDir == "" {
		fixturesDir = "(builtin only)"
	}
	apiKey := "absent"
	if st.APIKeyPresent {
		apiKey = "present"
	}
	settings := st.Settings
	if !st.SettingsExists {
		settings += " (not found)"
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Version\t%s\n", st.Version)
	fmt.Fprintf(tw, "Mode\t%s\n", st.Mode)
	fmt.Fprintf(tw, "Fixtures\t%s\n", fixturesDir)
	fmt.Fprintf(tw, "Scenarios\t%d\n", st.Scenarios)
	fmt.Fprintf(tw, "Rated policy\t%s\n", st.RatedPolicy)
	fmt.Fprintf(tw, "Gate\t%s\n", st.Gate)
	fmt.Fprintf(tw, "Batch size\t%d\n", st.BatchSize)
	fmt.Fprintf(tw, "Logging\t%s (%s)\n", st.LogLevel, st.LogFormat)
	fmt.Fprintf(tw, "API key\t%s\n", apiKey)
	fmt.Fprintf(tw, "Settings\t%s\n", settings)
	if err := tw.Flush(); err != nil {
		return a.usageError(err)
	}
	return exitOK
}

// --- schedule ---

func (a *app) cmdSchedule(ctx context.Context, args []string) int {
	c, err := a.newCommand("schedule")
	if err != nil {
		return a.usageError(err)
	}
	cronExpr := c.fs.String("cron", "", "cron expression (5 fields or @every/@hourly descriptors)")
	tick := c.fs.Duration("tick", scheduler.DefaultTickInterval, "how often due jobs are checked")
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	if *cronExpr == "" {
		return a.usageError(fmt.Errorf("schedule requires --cron"))
	}

	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}
	ids := c.args
	if len(ids) == 0 {
		ids = d.catalog.IDs()
	}

	sched := scheduler.NewScheduler(d.orch, d.logger, *tick)
	sched.OnBatch(func(job scheduler.Job, results []engine.BatchResult) {
		rows, _, sumErr := a.batchRows(ctx, d.summarizer, results)
		if sumErr != nil {
			d.logger.Error("summarize scheduled batch", slog.String("error", sumErr.Error()))
			return
		}
		fmt.Fprintf(a.stdout, "\n== %s job %s ==\n", time.Now().UTC().Format(time.RFC3339), job.ID)
		_ = report.WriteBatchText(a.stdout, rows)
	})

	job, err := sched.AddJob(scheduler.Job{Cron: *cronExpr, ScenarioIDs: ids, Mode: d.mode})
	if err != nil {
		return a.usageError(err)
	}
	if err := sched.Start(ctx); err != nil {
		return a.usageError(err)
	}
	fmt.Fprintf(a.stderr, "scheduled %d scenarios (%s), next run %s\n",
		len(ids), job.Cron, job.NextRunAt.Format(time.RFC3339))

	<-ctx.Done()
	if err := sched.Stop(); err != nil {
		return a.usageError(err)
	}
	return exitOK
}

// --- serve ---

func (a *app) cmdServe(ctx context.Context, args []string) int {
	c, err := a.newCommand("serve")
	if err != nil {
		return a.usageError(err)
	}
	if err := c.parse(args); err != nil {
		return a.usageError(err)
	}
	d, err := a.wire(c.cfg)
	if err != nil {
		return a.usageError(err)
	}

	srv := mcpserver.NewServer(mcpserver.ServerDeps{
		Runner:     d.orch,
		Catalog:    d.catalog,
		Summarizer: d.summarizer,
		Mode:       d.mode,
		Version:    version,
		Logger:     d.logger,
	})
	d.logger.Info("mcp server listening on stdio", slog.String("version", version))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitUsage
	}
	return exitOK
}
