// Salesagent is the conversational technical-sales assistant for the
// CT Internacional catalog.
//
// It exposes a streaming chat API with per-session moderation, a
// bounded tool-calling reasoning loop over the product catalog and
// semantic index, and per-exchange usage accounting. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); a .env file in the working directory
// supplies secrets referenced from the YAML via ${VAR} expansion.
//
// Usage:
//
//	salesagent serve         Start the API server
//	salesagent version       Print version and build information
//	salesagent -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/ctonline/salesagent/internal/agent"
	"github.com/ctonline/salesagent/internal/api"
	"github.com/ctonline/salesagent/internal/buildinfo"
	"github.com/ctonline/salesagent/internal/catalog"
	"github.com/ctonline/salesagent/internal/config"
	"github.com/ctonline/salesagent/internal/index"
	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/moderation"
	"github.com/ctonline/salesagent/internal/responder"
	"github.com/ctonline/salesagent/internal/session"
	"github.com/ctonline/salesagent/internal/tools"
	"github.com/ctonline/salesagent/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the salesagent command. OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process (cancelling it triggers graceful shutdown), stdout and
// stderr receive all output, and args is os.Args[1:]. Arguments are
// parsed by hand — the flag package relies on package-level globals
// that interfere with calling run concurrently from tests, and the
// argument surface is small enough that manual parsing is clearer.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Salesagent - CT Internacional sales assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: salesagent [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/salesagent/config.yaml, /etc/salesagent/config.yaml")
	return nil
}

// runServe is the primary operating mode: loads config, opens the
// session and usage databases, connects to the catalog database and
// the index service, wires moderation and the reasoning loop, starts
// the HTTP server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	// Secrets live in .env during development; in production the
	// environment is set by the service manager and the file is absent.
	_ = godotenv.Load()

	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting salesagent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure now that the desired level is known; the initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"agent_model", cfg.Models.Agent,
		"classifier_model", cfg.Models.Classifier,
		"ollama_url", cfg.Models.OllamaURL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Session store ---
	// SQLite-backed conversation transcripts and ban state. Persists
	// across restarts so active bans survive a redeploy.
	sessionsPath := filepath.Join(cfg.DataDir, "sessions.db")
	sessions, err := session.NewStore(sessionsPath, cfg.Session.MaxMessages)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", sessionsPath, err)
	}
	defer sessions.Close()
	logger.Info("session database opened", "path", sessionsPath)

	// --- Usage store ---
	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	audit, err := usage.NewStore(usagePath)
	if err != nil {
		return fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	defer audit.Close()

	// --- Catalog database ---
	// Read-only MySQL source for inventory, promotions, branches, and
	// order status.
	cat, err := catalog.Open(cfg.Catalog.DSN())
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	defer cat.Close()
	if err := cat.Ping(ctx); err != nil {
		logger.Warn("catalog database not reachable yet", "error", err)
	}

	// --- Exchange rate cache ---
	// Loaded once at startup and refreshed on a schedule, so currency
	// conversions during a chat never block on the database.
	fx := catalog.NewFXCache(cat, logger)
	if err := fx.Refresh(ctx); err != nil {
		logger.Warn("initial exchange rate load failed", "error", err)
	}
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(cfg.FXSchedule, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fx.Refresh(refreshCtx); err != nil {
			logger.Error("exchange rate refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid fx_schedule %q: %w", cfg.FXSchedule, err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	// --- Semantic index ---
	idx := index.NewClient(cfg.Index.URL, cfg.Index.TopK)

	// --- LLM client ---
	// One Ollama-compatible client serves both roles: the tool-calling
	// agent model and the cheap classifier model.
	llmClient := llm.NewOllamaClient(cfg.Models.OllamaURL)
	if err := llmClient.Ping(ctx); err != nil {
		logger.Warn("model service not reachable yet", "url", cfg.Models.OllamaURL, "error", err)
	}

	// --- Tools ---
	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Agent.Timezone, err)
	}
	registry := tools.NewRegistry(idx, cat, fx, loc, logger)

	// --- Reasoning loop ---
	runner := agent.New(llmClient, registry, sessions, audit, agent.Options{
		Model:         cfg.Models.Agent,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryBudget: cfg.Session.HistoryBudgetWords,
		Pricing:       cfg.Pricing,
	}, logger)

	// --- Moderation ---
	moderator := moderation.New(llmClient, cfg.Models.Classifier, sessions, logger)

	// --- Responder ---
	resp := responder.New(sessions, moderator, runner, audit, logger)

	// --- HTTP server ---
	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, resp, sessions, cat, idx, logger)

	// Shutdown on SIGINT or SIGTERM: drain in-flight requests, then let
	// the defers close the stores and stop the cron runner.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("salesagent stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. All log output goes through slog; this helper standardizes the
// handler configuration.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
