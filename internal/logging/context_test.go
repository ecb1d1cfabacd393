package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", ScenarioID(ctx))
	assert.Equal(t, "", Stage(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithScenarioID(ctx, "base_case")
	ctx = WithStage(ctx, "reserve")

	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "base_case", ScenarioID(ctx))
	assert.Equal(t, "reserve", Stage(ctx))
}

func TestWithRun(t *testing.T) {
	ctx := WithRun(context.Background(), "run-1", "001_itm")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "001_itm", ScenarioID(ctx))
	assert.Equal(t, "", Stage(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithStage(WithRun(context.Background(), "run-abc", "declined_case"), "underwriting")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "scenario_id=declined_case")
	assert.Contains(t, output, "stage=underwriting")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "scenario_id")
	assert.NotContains(t, output, "stage=")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithStage(WithRun(context.Background(), "run-auto", "002_otm"), "hedging")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-auto"`)
	assert.Contains(t, output, `"scenario_id":"002_otm"`)
	assert.Contains(t, output, `"stage":"hedging"`)
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(WithRunID(context.Background(), "run-only"), "partial")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-only"`)
	assert.NotContains(t, output, "scenario_id")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}).WithGroup("orchestrator"))

	logger.InfoContext(WithRunID(context.Background(), "run-attr"), "with attrs", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "run-attr")
	assert.Contains(t, output, `"component":"engine"`)
}

func TestNewAndParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))

	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")
	logger.Info("dropped")
	logger.WarnContext(WithRunID(context.Background(), "r1"), "kept")

	output := buf.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, `"msg":"kept"`)
	assert.Contains(t, output, `"run_id":"r1"`)
}
