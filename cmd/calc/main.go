package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/iter"
	"github.com/woxQAQ/wasm-calc/internal/calc"
	"github.com/woxQAQ/wasm-calc/internal/config"
	"github.com/woxQAQ/wasm-calc/internal/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var defaultExpressions = []string{"1+2", "1-2", "1*2", "1/2"}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code. Deferred cleanup
// runs before main exits.
func run(args []string, stdout, stderr io.Writer) int {
	// Parse command-line flags
	fs := flag.NewFlagSet("calc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	moduleDir := fs.String("module", "", "Directory with manifest.yaml for an external module")
	port := fs.Int("port", 0, "TCP port for the HTTP server (0 evaluates and exits)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: calc [flags] [expr ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	applyFlags(cfg, *logLevel, *moduleDir, *port)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Debug("Starting calc",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Create context cancelled on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return 1
	}
	defer srv.Close(context.Background())

	if cfg.Port > 0 {
		if err := srv.ServeTCP(ctx, cfg.Port); err != nil {
			logger.Error("HTTP server error", zap.Error(err))
			return 1
		}
		logger.Info("Server shutdown complete")
		return 0
	}

	exprs := fs.Args()
	if len(exprs) == 0 {
		exprs = defaultExpressions
	}

	calculator, err := srv.Loader().Instantiate(ctx)
	if err != nil {
		logger.Error("Calculator unavailable", zap.Error(err))
		return 1
	}

	if failed := evaluateAll(ctx, calculator, exprs, stdout); failed > 0 {
		return 1
	}
	return 0
}

// applyFlags overrides configuration with flags that were set.
func applyFlags(cfg *config.Config, logLevel, moduleDir string, port int) {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if moduleDir != "" {
		cfg.ModuleDir = moduleDir
	}
	if port > 0 {
		cfg.Port = port
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	// Results go to stdout.
	zcfg.OutputPaths = []string{"stderr"}

	return zcfg.Build()
}

type evaluation struct {
	line string
	err  error
}

// evaluateAll evaluates exprs concurrently and prints one line per
// expression in input order. It returns the number of failures.
func evaluateAll(ctx context.Context, c *calc.Calculator, exprs []string, w io.Writer) int {
	results := iter.Map(exprs, func(raw *string) evaluation {
		expr, err := calc.ParseExpression(*raw)
		if err != nil {
			return evaluation{line: fmt.Sprintf("%s: error: %v", *raw, err), err: err}
		}
		result, err := c.Evaluate(ctx, expr)
		if err != nil {
			return evaluation{line: fmt.Sprintf("%s: error: %v", expr, err), err: err}
		}
		return evaluation{line: fmt.Sprintf("%s: %d", expr, result)}
	})

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
		fmt.Fprintln(w, r.line)
	}
	return failed
}
