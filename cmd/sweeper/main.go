package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
)

// Runs the reclamation sweep outside the API process. With -once it sweeps
// a single time and exits, which suits a cron schedule.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Dur("auto_cancel_after", cfg.AutoCancelAfter).
		Msg("sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{Name: "sweeper", Sweep: true})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	if *once {
		n, runErr := a.Sweeper().RunOnce(rootCtx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
		if runErr != nil {
			log.Error().Err(runErr).Msg("sweep failed")
			os.Exit(1)
		}
		log.Info().Int("reclaimed", n).Msg("sweep complete")
		return
	}

	if err := a.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("sweeper stopped with error")
		os.Exit(1)
	}
}
