// Command insurance-ai evaluates variable annuity policies through the
// underwriting, reserve, behavior and hedging pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Exit codes.
const (
	exitOK    = 0
	exitUsage = 1 // usage or configuration error
	exitFatal = 2 // a run halted at underwriting, or a single stage failed
)

const usageText = `usage: insurance-ai <command> [flags] [args]

commands:
  run <scenario>             evaluate one scenario
  batch [scenario...]        evaluate several scenarios (default: all)
  stage <stage> <scenario>   run one stage (underwriting, reserve, behavior, hedging)
  scenarios                  list available scenarios
  status                     show the effective configuration
  schedule --cron <expr> [scenario...]
                             re-evaluate scenarios on a cron schedule
  serve                      run the MCP server on stdio
  version                    print the version

Run "insurance-ai <command> -h" for command flags.
`

// app carries the process boundary so commands can be driven from tests.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	settings string
	getenv   func(string) string
}

func main() {
	a := &app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		settings: settingsPath(),
		getenv:   os.Getenv,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	if _, ok := a.stderr.(*syncWriter); !ok {
		a.stderr = &syncWriter{w: a.stderr}
	}
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usageText)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return a.cmdRun(ctx, args[1:])
	case "batch":
		return a.cmdBatch(ctx, args[1:])
	case "stage":
		return a.cmdStage(ctx, args[1:])
	case "scenarios":
		return a.cmdScenarios(ctx, args[1:])
	case "status":
		return a.cmdStatus(ctx, args[1:])
	case "schedule":
		return a.cmdSchedule(ctx, args[1:])
	case "serve":
		return a.cmdServe(ctx, args[1:])
	case "version", "--version":
		printVersion(a.stdout)
		return exitOK
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usageText)
		return exitOK
	default:
		fmt.Fprintf(a.stderr, "Error: unknown command %q\n\n%s", args[0], usageText)
		return exitUsage
	}
}

// syncWriter serializes writes. stderr is shared by the logger and the
// --watch event printer, which write from different goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// command is a parsed subcommand: its layered config and positional args.
type command struct {
	fs   *flag.FlagSet
	cfg  Config
	args []string
}

// newCommand loads the layered config and registers the flags every
// subcommand shares. Flag defaults are the layered values, so a flag given
// on the command line wins over everything else.
func (a *app) newCommand(name string) (*command, error) {
	cfg, err := loadConfig(a.settings, a.getenv)
	if err != nil {
		return nil, err
	}
	c := &command{fs: flag.NewFlagSet(name, flag.ContinueOnError), cfg: cfg}
	c.fs.SetOutput(a.stderr)
	c.fs.StringVar(&c.cfg.Mode, "mode", cfg.Mode, "execution mode: offline or online")
	c.fs.StringVar(&c.cfg.FixturesDir, "fixtures", cfg.FixturesDir, "directory of extra scenario fixtures (YAML or JSON)")
	c.fs.StringVar(&c.cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	c.fs.StringVar(&c.cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	c.fs.StringVar(&c.cfg.RatedPolicy, "rated-policy", cfg.RatedPolicy, "gate policy for RATED decisions: decline (default) or proceed")
	c.fs.StringVar(&c.cfg.GateExpr, "gate", cfg.GateExpr, "custom CEL gate expression (must evaluate to bool)")
	c.fs.IntVar(&c.cfg.BatchSize, "batch-size", cfg.BatchSize, "runs a batch executes at once")
	return c, nil
}

// parse accepts flags before, between and after positional arguments, then
// validates the resulting config.
func (c *command) parse(args []string) error {
	for {
		if err := c.fs.Parse(args); err != nil {
			return err
		}
		rest := c.fs.Args()
		if len(rest) == 0 {
			break
		}
		c.args = append(c.args, rest[0])
		args = rest[1:]
	}
	return c.cfg.validate()
}

// usageError reports err and returns the matching exit code. -h is not an
// error.
func (a *app) usageError(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return exitUsage
}
