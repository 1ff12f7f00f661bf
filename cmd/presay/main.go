// Command presay is the streaming TTS prefetch proxy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/presay/internal/app"
	"github.com/MrWong99/presay/internal/config"
	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "presay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("presay starting",
		"version", server.Version,
		"config", *configPath,
		"from_file", fromFile,
		"addr", cfg.Addr(),
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "presay",
		ServiceVersion: server.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; everything else logs a restart warning.
	if fromFile {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(logLevel, config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the YAML file at path. A missing file is tolerated when
// the operator did not name one explicitly; configuration then comes from the
// environment alone. The fromFile result reports which path was taken.
func loadConfig(path string, explicit bool) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg, err = config.FromEnv()
		return cfg, false, err
	default:
		return nil, false, err
	}
}

// applyConfigChange applies the hot-reloadable parts of a config diff and
// warns about the rest.
func applyConfigChange(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, key := range d.RestartRequired {
		slog.Warn("config change needs a restart to take effect", "key", key)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        presay — startup summary        ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Listen addr", cfg.Addr())
	printRow("Upstream", cfg.NewAPIBaseURL)
	printRow("TTS endpoints", strconv.Itoa(len(cfg.Endpoints())))
	printRow("Default model", cfg.TTSDefaultModel)
	printRow("Concurrency cap", strconv.Itoa(cfg.TTSMaxConcurrentPerEndpoint))
	printRow("Cache entries", strconv.Itoa(cfg.CacheMaxSize))
	printRow("Cache TTL", (time.Duration(cfg.CacheTTL) * time.Second).String())
	if cfg.TTSHealthCheckInterval > 0 {
		printRow("Health checks", (time.Duration(cfg.TTSHealthCheckInterval) * time.Second).String())
	} else {
		printRow("Health checks", "(disabled)")
	}
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
