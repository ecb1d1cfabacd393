package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/engine"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/fixtures"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/report"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Runner evaluates scenarios. Satisfied by engine.Orchestrator.
type Runner interface {
	Run(ctx context.Context, scenarioID string, mode schema.Mode) (*schema.WorkflowState, error)
	RunBatch(ctx context.Context, scenarioIDs []string, mode schema.Mode) []engine.BatchResult
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner     Runner
	Catalog    *fixtures.Catalog
	Summarizer *report.Summarizer // nil = no contract re-check
	Mode       schema.Mode        // default when a call omits mode
	Version    string
	Logger     *slog.Logger
}

// Server wraps an MCP server with the pipeline tool handlers.
type Server struct {
	runner     Runner
	catalog    *fixtures.Catalog
	summarizer *report.Summarizer
	mode       schema.Mode
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewServer creates a new Server with all 4 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	summarizer := deps.Summarizer
	if summarizer == nil {
		summarizer = report.NewSummarizer(nil)
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = fixtures.Builtin()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	mode := deps.Mode
	if mode == "" {
		mode = schema.ModeOffline
	}

	s := &Server{
		runner:     deps.Runner,
		catalog:    catalog,
		summarizer: summarizer,
		mode:       mode,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"insurance-ai",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Evaluates variable annuity policies through the underwriting, reserve, behavior and hedging pipeline. Use insurance.scenarios to list scenario ids, insurance.run to evaluate one, insurance.batch to evaluate several side by side, and insurance.diagram to draw a run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: batchTool(), Handler: s.handleBatch},
		{Tool: scenariosTool(), Handler: s.handleScenarios},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func modeOption() mcp.ToolOption {
	return mcp.WithString("mode",
		mcp.Enum(string(schema.ModeOffline), string(schema.ModeOnline)),
		mcp.Description("Execution mode (default: server mode, normally offline)"),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("insurance.run",
		mcp.WithDescription("Evaluate one annuity scenario through the four-stage pipeline"),
		mcp.WithString("scenario_id", mcp.Required(), mcp.Description("Scenario to evaluate, see insurance.scenarios")),
		modeOption(),
	)
}

func batchTool() mcp.Tool {
	return mcp.NewTool("insurance.batch",
		mcp.WithDescription("Evaluate several scenarios concurrently and compare them"),
		mcp.WithArray("scenario_ids", mcp.Required(),
			mcp.WithStringItems(),
			mcp.Description("Scenarios to evaluate"),
		),
		modeOption(),
	)
}

func scenariosTool() mcp.Tool {
	return mcp.NewTool("insurance.scenarios",
		mcp.WithDescription("List the scenarios available for evaluation"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("insurance.diagram",
		mcp.WithDescription("Draw the pipeline. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("scenario_id", mcp.Description("Run this scenario and overlay its stage statuses (default: topology only)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
		modeOption(),
	)
}
