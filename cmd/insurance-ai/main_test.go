package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*app
	out *bytes.Buffer
	err *bytes.Buffer
}

func newTestApp(t *testing.T, env map[string]string) *testApp {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &testApp{
		app: &app{
			stdout:   out,
			stderr:   errOut,
			settings: filepath.Join(t.TempDir(), "settings.json"),
			getenv:   envOf(env),
		},
		out: out,
		err: errOut,
	}
}

func (ta *testApp) exec(args ...string) int {
	return ta.run(context.Background(), args)
}

func TestVersionCommand(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitOK, ta.exec("version"))
	assert.Equal(t, version+"\n", ta.out.String())
}

func TestUsage(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitUsage, ta.exec())
	assert.Contains(t, ta.err.String(), "usage: insurance-ai")

	ta = newTestApp(t, nil)
	assert.Equal(t, exitUsage, ta.exec("frobnicate"))
	assert.Contains(t, ta.err.String(), `unknown command "frobnicate"`)

	ta = newTestApp(t, nil)
	assert.Equal(t, exitOK, ta.exec("help"))
	assert.Contains(t, ta.out.String(), "schedule --cron")
}

func TestRunCommand_Text(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "base_case"), ta.err.String())

	out := ta.out.String()
	assert.Contains(t, out, "base_case (offline)")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "APPROVE")
	assert.Contains(t, out, "hedge_cost")
	assert.Contains(t, out, "[OK]")
}

func TestRunCommand_JSONFlagAfterScenario(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "reserve_outage", "--json"), ta.err.String())

	var decoded struct {
		Summary struct {
			Status string `json:"overall_status"`
		} `json:"summary"`
		State struct {
			Results map[string]struct {
				Status string `json:"status"`
			} `json:"results"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded.Summary.Status)
	assert.Equal(t, "failed", decoded.State.Results["reserve"].Status)
	assert.Equal(t, "success", decoded.State.Results["behavior"].Status)
	assert.Equal(t, "skipped", decoded.State.Results["hedging"].Status)
}

func TestRunCommand_FatalExitCode(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitFatal, ta.exec("run", "no_such_scenario"))
	assert.Contains(t, ta.err.String(), "FATAL_STAGE")
	assert.Contains(t, ta.out.String(), "error")
}

func TestRunCommand_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"no scenario", []string{"run"}, nil},
		{"two scenarios", []string{"run", "base_case", "declined_case"}, nil},
		{"bad flag", []string{"run", "--bogus", "base_case"}, nil},
		{"bad diagram", []string{"run", "--diagram", "svg", "base_case"}, nil},
		{"online without key", []string{"run", "--mode", "online", "base_case"}, nil},
		{"bad env mode", []string{"run", "base_case"}, map[string]string{"INSURANCE_AI_MODE": "later"}},
		{"bad gate expression", []string{"run", "--gate", "decision ==", "base_case"}, nil},
		{"non-bool gate expression", []string{"run", "--gate", "decision", "base_case"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t, tc.env)
			assert.Equal(t, exitUsage, ta.exec(tc.args...))
			assert.NotEmpty(t, ta.err.String())
			assert.Empty(t, ta.out.String())
		})
	}
}

func TestRunCommand_OnlineModeIsFatalOffline(t *testing.T) {
	ta := newTestApp(t, map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	assert.Equal(t, exitFatal, ta.exec("run", "--mode=online", "base_case"))
	assert.Contains(t, ta.err.String(), "FATAL_STAGE")
}

func TestRunCommand_RatedSkipsByDefault(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "--diagram", "none", "rated_case"))
	assert.Equal(t, 3, strings.Count(ta.out.String(), "skipped"))
}

func TestRunCommand_RatedPolicyFlagBeatsEnv(t *testing.T) {
	ta := newTestApp(t, map[string]string{"INSURANCE_AI_RATED_POLICY": "decline"})
	require.Equal(t, exitOK, ta.exec("run", "--rated-policy", "proceed", "--diagram", "none", "rated_case"))
	out := ta.out.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "hedge_cost")
}

func TestRunCommand_Watch(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "--watch", "base_case"))

	events := ta.err.String()
	for _, want := range []string{"run_started", "gate_evaluated", "parallel_started", "parallel_joined", "run_completed"} {
		assert.Contains(t, events, want)
	}
	assert.Less(t, strings.Index(events, "run_started"), strings.Index(events, "run_completed"))
}

func TestRunCommand_WatchWithDebugLogsKeepsLinesWhole(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "--watch", "--log-level", "debug", "--diagram", "none", "base_case"))

	eventLine := regexp.MustCompile(`^\s*\d+ \d{2}:\d{2}:\d{2}\.\d{3} `)
	var events, logs int
	for _, line := range strings.Split(strings.TrimSpace(ta.err.String()), "\n") {
		switch {
		case eventLine.MatchString(line):
			events++
		case strings.HasPrefix(line, "time="):
			logs++
		default:
			t.Errorf("torn stderr line: %q", line)
		}
	}
	assert.Greater(t, events, 0)
	assert.Greater(t, logs, 0)
}

func TestSyncWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := &syncWriter{w: &buf}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				fmt.Fprintf(w, "writer-%02d line\n", i)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20*50)
	for _, line := range lines {
		assert.Regexp(t, `^writer-\d{2} line$`, line)
	}
}

func TestRunCommand_MermaidDiagram(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("run", "--diagram", "mermaid", "declined_case"))
	assert.Contains(t, ta.out.String(), "graph TD")
}

func TestRunCommand_FixturesDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom_case.yaml"),
		[]byte("approval_decision: APPROVE\naccount_value: 100000\nbenefit_base: 110000\n"), 0o644))

	ta := newTestApp(t, map[string]string{"INSURANCE_AI_FIXTURES_DIR": dir})
	require.Equal(t, exitOK, ta.exec("run", "custom_case"), ta.err.String())
	assert.Contains(t, ta.out.String(), "custom_case (offline)")
}

func TestBatchCommand(t *testing.T) {
	t.Run("fatal wins", func(t *testing.T) {
		ta := newTestApp(t, nil)
		assert.Equal(t, exitFatal, ta.exec("batch", "base_case", "missing", "declined_case"))
		lines := strings.Split(strings.TrimRight(ta.out.String(), "\n"), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[1], "base_case"))
		assert.True(t, strings.HasPrefix(lines[2], "missing"))
		assert.True(t, strings.HasPrefix(lines[3], "declined_case"))
	})

	t.Run("all scenarios", func(t *testing.T) {
		ta := newTestApp(t, nil)
		require.Equal(t, exitOK, ta.exec("batch", "--json"), ta.err.String())
		var rows []map[string]any
		require.NoError(t, json.Unmarshal(ta.out.Bytes(), &rows))
		assert.Len(t, rows, 8)
	})
}

func TestScenariosCommand(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("scenarios"))
	out := ta.out.String()
	assert.Contains(t, out, "POLICY")
	assert.Contains(t, out, "base_case")
	assert.Contains(t, out, "POL-RATED")
}

func TestScheduleCommand_RequiresCron(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitUsage, ta.exec("schedule", "base_case"))
	assert.Contains(t, ta.err.String(), "--cron")

	ta = newTestApp(t, nil)
	assert.Equal(t, exitUsage, ta.exec("schedule", "--cron", "not a cron", "base_case"))
}

func TestScheduleCommand_StopsOnCancel(t *testing.T) {
	ta := newTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, exitOK, ta.run(ctx, []string{"schedule", "--cron", "@hourly", "base_case"}))
}

// --- stage ---

func decodeStage(t *testing.T, data []byte) stageReport {
	t.Helper()
	var rep stageReport
	require.NoError(t, json.Unmarshal(data, &rep))
	require.NotNil(t, rep.Outcome)
	return rep
}

func TestStageCommand_Underwriting(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("stage", "underwriting", "base_case"))

	rep := decodeStage(t, ta.out.Bytes())
	assert.Equal(t, "underwriting", string(rep.Stage))
	assert.Equal(t, "base_case", rep.ScenarioID)
	assert.True(t, rep.Outcome.Success)
	assert.Equal(t, "APPROVE", rep.Outcome.Payload["approval_decision"])
}

func TestStageCommand_BehaviorIgnoresGate(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("stage", "behavior", "rated_case"))

	rep := decodeStage(t, ta.out.Bytes())
	assert.True(t, rep.Outcome.Success)
	assert.Contains(t, rep.Outcome.Payload, "dynamic_lapse_rate")
}

func TestStageCommand_HedgingWritesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hedge.json")
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("stage", "hedging", "--output", path, "base_case"))

	rep := decodeStage(t, ta.out.Bytes())
	assert.True(t, rep.Outcome.Success)
	assert.Contains(t, rep.Outcome.Payload, "hedge_cost")
	assert.Contains(t, rep.Outcome.Payload, "portfolio_value")

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, ta.out.String(), string(saved))
	assert.Contains(t, ta.err.String(), "saved to "+path)
}

func TestStageCommand_UpstreamFailure(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitFatal, ta.exec("stage", "hedging", "reserve_outage"))

	rep := decodeStage(t, ta.out.Bytes())
	assert.False(t, rep.Outcome.Success)
	assert.Contains(t, rep.Outcome.Error, "upstream reserve failed")
	assert.Contains(t, ta.err.String(), "hedging failed")

	ta = newTestApp(t, nil)
	assert.Equal(t, exitFatal, ta.exec("stage", "reserve", "reserve_outage"))
	assert.False(t, decodeStage(t, ta.out.Bytes()).Outcome.Success)
}

func TestStageCommand_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{"stage"}},
		{"no scenario", []string{"stage", "reserve"}},
		{"unknown stage", []string{"stage", "pricing", "base_case"}},
		{"unknown scenario", []string{"stage", "reserve", "no_such_scenario"}},
		{"extra arg", []string{"stage", "reserve", "base_case", "rated_case"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t, nil)
			assert.Equal(t, exitUsage, ta.exec(tc.args...))
			assert.Empty(t, ta.out.String())
		})
	}
}

// --- status ---

func TestStatusCommand_Defaults(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, exitOK, ta.exec("status"))

	out := ta.out.String()
	assert.Regexp(t, `Mode\s+offline`, out)
	assert.Regexp(t, `Fixtures\s+\(builtin only\)`, out)
	assert.Regexp(t, `Scenarios\s+8`, out)
	assert.Regexp(t, `Rated policy\s+decline`, out)
	assert.Contains(t, out, `decision == "APPROVE"`)
	assert.Regexp(t, `API key\s+absent`, out)
	assert.Contains(t, out, "(not found)")
}

func TestStatusCommand_LayeredJSON(t *testing.T) {
	ta := newTestApp(t, map[string]string{
		"ANTHROPIC_API_KEY":         "sk-secret",
		"INSURANCE_AI_RATED_POLICY": "proceed",
		"INSURANCE_AI_BATCH_SIZE":   "2",
	})
	require.NoError(t, os.WriteFile(ta.settings, []byte(`{"log_level": "info"}`), 0o644))
	require.Equal(t, exitOK, ta.exec("status", "--json", "--batch-size", "6"))

	var st statusReport
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &st))
	assert.Equal(t, "offline", st.Mode)
	assert.Equal(t, "proceed", st.RatedPolicy)
	assert.Equal(t, `decision != "DECLINE"`, st.Gate)
	assert.Equal(t, 6, st.BatchSize, "flag beats env")
	assert.Equal(t, "info", st.LogLevel)
	assert.True(t, st.APIKeyPresent)
	assert.True(t, st.SettingsExists)
	assert.NotContains(t, ta.out.String(), "sk-secret")
}

func TestStatusCommand_RejectsArgs(t *testing.T) {
	ta := newTestApp(t, nil)
	assert.Equal(t, exitUsage, ta.exec("status", "base_case"))
}
