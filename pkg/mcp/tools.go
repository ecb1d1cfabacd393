package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/diagram"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/report"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// RunResult is the payload of insurance.run. A fatal run still carries its
// state and summary; Error holds the fatal message.
type RunResult struct {
	ScenarioID string                `json:"scenario_id"`
	Summary    *report.Summary       `json:"summary,omitempty"`
	State      *schema.WorkflowState `json:"state,omitempty"`
	Error      string                `json:"error,omitempty"`
	Fatal      bool                  `json:"fatal,omitempty"`
}

// ScenarioInfo is one entry of insurance.scenarios.
type ScenarioInfo struct {
	ID          string `json:"id"`
	PolicyID    string `json:"policy_id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Decision    string `json:"approval_decision"`
}

// handleRun evaluates one scenario.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scenarioID, err := req.RequireString("scenario_id")
	if err != nil {
		return mcp.NewToolResultError("scenario_id is required"), nil
	}
	mode, err := s.modeOf(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.run(ctx, scenarioID, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleBatch evaluates several scenarios.
func (s *Server) handleBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := req.RequireStringSlice("scenario_ids")
	if err != nil || len(ids) == 0 {
		return mcp.NewToolResultError("scenario_ids is required"), nil
	}
	mode, err := s.modeOf(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	batch := s.runner.RunBatch(ctx, ids, mode)
	results := make([]RunResult, 0, len(batch))
	for _, b := range batch {
		r := RunResult{ScenarioID: b.ScenarioID, State: b.State, Error: b.Error, Fatal: schema.IsFatal(b.Err)}
		if b.State != nil {
			sum, sumErr := s.summarizer.Summarize(ctx, b.State)
			if sumErr != nil {
				return mcp.NewToolResultError(fmt.Sprintf("summarize %s: %v", b.ScenarioID, sumErr)), nil
			}
			r.Summary = sum
		}
		results = append(results, r)
	}
	return marshalResult(map[string]any{"results": results})
}

// handleScenarios lists the catalog.
func (s *Server) handleScenarios(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.catalog.List()
	out := make([]ScenarioInfo, 0, len(list))
	for _, sc := range list {
		out = append(out, ScenarioInfo{
			ID:          sc.ID,
			PolicyID:    sc.PolicyID,
			Label:       sc.Label,
			Description: sc.Description,
			Decision:    sc.ApprovalDecision,
		})
	}
	return marshalResult(map[string]any{"scenarios": out})
}

// handleDiagram draws the pipeline, optionally after running a scenario.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var state *schema.WorkflowState
	if scenarioID := req.GetString("scenario_id", ""); scenarioID != "" {
		mode, modeErr := s.modeOf(req)
		if modeErr != nil {
			return mcp.NewToolResultError(modeErr.Error()), nil
		}
		result, runErr := s.run(ctx, scenarioID, mode)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
		}
		state = result.State
	}

	model := diagram.Build(state)
	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// run evaluates one scenario. Only a rejected request is an error; a fatal
// run is reported inside the result.
func (s *Server) run(ctx context.Context, scenarioID string, mode schema.Mode) (*RunResult, error) {
	state, runErr := s.runner.Run(ctx, scenarioID, mode)
	if state == nil {
		return nil, runErr
	}
	sum, err := s.summarizer.Summarize(ctx, state)
	if err != nil {
		return nil, err
	}
	out := &RunResult{ScenarioID: scenarioID, Summary: sum, State: state}
	if runErr != nil {
		out.Error = runErr.Error()
		out.Fatal = schema.IsFatal(runErr)
		s.logger.WarnContext(ctx, "run halted",
			"scenario_id", scenarioID, "error", runErr.Error())
	}
	return out, nil
}

func (s *Server) modeOf(req mcp.CallToolRequest) (schema.Mode, error) {
	raw := req.GetString("mode", "")
	if raw == "" {
		return s.mode, nil
	}
	return schema.ParseMode(raw)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
