package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"comet-auto/internal/adapter/api"
	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/infra/config"
	"comet-auto/internal/infra/logger"
	"comet-auto/internal/infra/tracer"
	"comet-auto/internal/usecase"
)

// runServe starts the local HTTP API over one browser connection and blocks
// until SIGINT/SIGTERM.
func runServe(args []string) error {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	remote, err := browser.Connect(ctx, cfg.Browser, log)
	if err != nil {
		return err
	}
	defer remote.Close()

	locator := browser.NewLocator(remote, log)
	session := usecase.NewSession(remote, locator, usecase.NewClock(), cfg.Engine, cfg.Browser.PageURL, io.Discard, log)

	prober := func(ctx context.Context) error {
		_, err := browser.Probe(ctx, cfg.Browser.Endpoint(), cfg.Browser.ConnectTimeout)
		return err
	}

	// Watchdog: a periodic endpoint ping so a vanished browser shows up in
	// the logs before the next ask trips over it.
	watchdog := cron.New()
	if _, err := watchdog.AddFunc("@every 1m", func() {
		if err := prober(ctx); err != nil {
			log.Warn("browser endpoint unreachable", "error", err)
		}
	}); err != nil {
		return err
	}
	watchdog.Start()
	defer watchdog.Stop()

	server := api.NewServer(session, prober, cfg.API, log)
	return server.Start(ctx)
}
