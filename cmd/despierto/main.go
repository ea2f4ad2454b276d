// Despierto is a Telegram wake-up bot.
//
// Users register daily alarms in chat; at the scheduled time the bot
// opens a short conversation that keeps nudging until the user confirms
// they are awake. Replies are generated by a local Ollama model with a
// fixed catalog of Spanish fallbacks. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	despierto serve      Start the bot
//	despierto init [dir] Initialize a working directory with defaults
//	despierto version    Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fmarino/despierto/internal/alarm"
	"github.com/fmarino/despierto/internal/buildinfo"
	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/clock"
	"github.com/fmarino/despierto/internal/config"
	"github.com/fmarino/despierto/internal/conversation"
	"github.com/fmarino/despierto/internal/events"
	"github.com/fmarino/despierto/internal/llm"
	"github.com/fmarino/despierto/internal/ops"
	"github.com/fmarino/despierto/internal/telegram"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the despierto command. All OS-level
// dependencies are injected as parameters: ctx controls process
// lifetime, stdout/stderr receive output, and args is os.Args[1:].
// Arguments are parsed by hand — the flag package relies on
// package-level globals that interfere with calling run() from tests,
// and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve", "":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
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

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Despierto - Telegram wake-up bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: despierto [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bot (default)")
	fmt.Fprintln(w, "  init [dir]   Initialize a working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runServe boots the bot and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Despierto", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	// Best-effort .env load so TELEGRAM_BOT_TOKEN can live in a local
	// dotenv file during development. Absence is not an error.
	_ = godotenv.Load()

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Warn("unknown log level, keeping info", "log_level", cfg.LogLevel)
		} else {
			logger = newLogger(stdout, level)
		}
	}
	logger.Info("config loaded", "path", cfgPath, "timezone", cfg.Timezone, "llm_enabled", cfg.LLM.Enabled)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	// --- Message catalog and persona ---
	msgs, err := catalog.Load(cfg.MessagesFile)
	if err != nil {
		return fmt.Errorf("load messages %s: %w", cfg.MessagesFile, err)
	}
	persona := msgs.Persona
	if cfg.PersonaFile != "" {
		data, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			return fmt.Errorf("load persona %s: %w", cfg.PersonaFile, err)
		}
		persona = strings.TrimSpace(string(data))
	}

	// --- Event bus ---
	bus := events.New()

	// --- Generation backend ---
	// Optional. Without it every wake-up message comes from the catalog.
	var gen llm.Client
	if cfg.LLM.Enabled {
		client := llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.GenerateTimeout())
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Ping(pingCtx); err != nil {
			logger.Warn("generation backend unreachable, starting anyway", "url", cfg.LLM.BaseURL, "error", err)
		} else {
			logger.Info("generation backend ready", "url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
		}
		cancel()
		gen = client
	} else {
		logger.Info("generation disabled, using catalog fallbacks only")
	}

	// --- Conversation engine ---
	engine := conversation.NewEngine(conversation.EngineConfig{
		Gen:           gen,
		Msgs:          msgs,
		Persona:       persona,
		HistoryWindow: cfg.Conversation.HistoryWindow,
		MaxTurns:      cfg.Conversation.MaxTurns,
		Bus:           bus,
		Logger:        logger,
	})

	// --- Telegram client ---
	tg := telegram.NewClient(cfg.Telegram.Token, logger)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	username := cfg.Telegram.Username
	if username == "" {
		username = me.Username
	}
	logger.Info("bot authenticated", "username", username, "id", me.ID)

	// --- Scheduler and alarm registry ---
	// The fire callback closes over bot, which is constructed right
	// after the registry. A fire cannot arrive before Run starts, so the
	// late binding is safe.
	sched := clock.New(loc, logger)
	defer sched.Stop()

	var bot *telegram.Bot
	registry := alarm.New(
		alarm.NewDailyScheduler(sched),
		func(jc clock.JobContext) { bot.FireAlarm(jc) },
		msgs,
		bus,
		logger,
	)

	bot = telegram.NewBot(telegram.BotConfig{
		API:            tg,
		Registry:       registry,
		Engine:         engine,
		Msgs:           msgs,
		Bus:            bus,
		Logger:         logger,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
	})

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Ops server ---
	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(ops.ServerConfig{
			Address:     cfg.Ops.Address,
			Port:        cfg.Ops.Port,
			Registry:    registry,
			Engine:      engine,
			Scheduler:   sched,
			Bus:         bus,
			Msgs:        msgs,
			BotUsername: username,
			Logger:      logger,
		})
		go func() {
			if err := opsServer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		if opsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = opsServer.Shutdown(shutdownCtx)
		}
	}()

	// The dispatcher blocks until ctx is cancelled.
	bot.Run(ctx)

	logger.Info("Despierto stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
