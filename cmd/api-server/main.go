package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Bool("sweeper", cfg.SweeperEnabled).
		Dur("auto_cancel_after", cfg.AutoCancelAfter).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{
		Name:    "api-server",
		Version: version,
		HTTP:    true,
		Sweep:   cfg.SweeperEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	if err := a.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
}
