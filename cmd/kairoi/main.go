// Command kairoi runs the standalone time-based job scheduler: the
// Database Engine, Processor, Runner Pool, Controller Front, and the
// optional Notifier and Admin HTTP surfaces, wired together and brought
// down together on SIGTERM/SIGINT.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/emerick42/kairoi/config"
	"github.com/emerick42/kairoi/internal/adminhttp"
	"github.com/emerick42/kairoi/internal/controller"
	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/engine"
	"github.com/emerick42/kairoi/internal/exitcode"
	"github.com/emerick42/kairoi/internal/health"
	ctxlog "github.com/emerick42/kairoi/internal/log"
	"github.com/emerick42/kairoi/internal/metrics"
	"github.com/emerick42/kairoi/internal/notify"
	"github.com/emerick42/kairoi/internal/processor"
	"github.com/emerick42/kairoi/internal/runner"
)

func main() {
	configPath := flag.String("config", "kairoi.toml", "path to the TOML configuration file")
	flag.Parse()

	// No config is loaded yet, so this bootstrap logger is only ever
	// used for the ConfigInvalid exit path below; every other fatal
	// path uses the fully configured logger.
	bootstrapLogger := slog.New(ctxlog.NewContextHandler(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitcode.Fatal(bootstrapLogger, exitcode.ConfigInvalid, "config", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	eng, err := engine.Open(engine.Config{
		JournalPath:    cfg.Database.JournalPath,
		FsyncOnPersist: cfg.Database.FsyncOnPersist,
		Framerate:      cfg.Database.Framerate,
	}, logger)
	if err != nil {
		exitcode.Fatal(logger, exitcode.JournalCorrupt, "engine", err)
	}

	proc := processor.New(logger, eng.Pairs(), eng.RuleSnapshots(), eng, 256)

	backends := make(map[domain.RunnerKind]runner.Backend)
	enabledKinds := make(map[domain.RunnerKind]bool)
	if cfg.Runner.ShellEnabled {
		backends[domain.RunnerShell] = runner.NewShellBackend(logger)
		enabledKinds[domain.RunnerShell] = true
	}
	if cfg.Runner.AMQPEnabled {
		backends[domain.RunnerAMQP] = runner.NewAMQPBackend(logger)
		enabledKinds[domain.RunnerAMQP] = true
	}

	notifier := notify.New(notify.Config{
		Enabled:     cfg.Notify.Enabled,
		Env:         cfg.Env,
		ResendKey:   cfg.Notify.ResendAPIKey,
		ResendFrom:  cfg.Notify.ResendFrom,
		To:          cfg.Notify.To,
		MinInterval: time.Duration(cfg.Notify.MinIntervalSeconds) * time.Second,
	}, logger)

	pool := runner.New(logger, proc.Execute(), eng, notifier, backends)

	checker := health.NewChecker(eng, eng, logger, prometheus.DefaultRegisterer)
	front := controller.New(cfg.Controller.Listen, eng, enabledKinds, logger)

	go eng.Run(ctx)
	go proc.Run(ctx)
	go pool.Run(ctx)

	go func() {
		if err := front.Run(ctx); err != nil {
			exitcode.Fatal(logger, exitcode.BindFailure, "controller front", err)
		}
	}()

	if cfg.AdminHTTP.Enabled {
		admin := adminhttp.New(cfg.AdminHTTP.Listen, eng, checker, logger)
		go func() {
			if err := admin.Run(ctx); err != nil {
				exitcode.Fatal(logger, exitcode.BindFailure, "admin http", err)
			}
		}()
	}

	logger.Info("kairoi started", "controller_listen", cfg.Controller.Listen, "framerate", cfg.Database.Framerate)

	<-ctx.Done()
	logger.Info("shutting down")

	// The Engine closes its journal on ctx cancellation inside Run; give
	// it a moment to finish before the process exits. There is no
	// contractual shutdown deadline (spec §5), so this is generous.
	time.Sleep(250 * time.Millisecond)
	logger.Info("kairoi shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
