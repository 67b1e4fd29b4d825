// Package app owns the long-lived resources of a process: the pgx pool,
// the redis client, the notification dispatcher, the sweeper task and the
// HTTP server. Everything is created in New and released in Shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/notify"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/sweeper"
)

type Options struct {
	// Name is reported to Postgres as application_name and used in logs.
	Name    string
	Version string
	// HTTP serves the API on cfg.HTTPPort.
	HTTP bool
	// Sweep runs the reclamation task in this process.
	Sweep bool
}

type App struct {
	cfg  config.Config
	opts Options
	log  zerolog.Logger

	pool       *pgxpool.Pool
	redis      *redis.Client
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	service    *appointment.Service
	sweeper    *sweeper.Sweeper
	server     *http.Server

	stopSweep context.CancelFunc
	sweepWG   sync.WaitGroup
}

// New connects to Postgres and Redis and wires the service graph. On error
// every resource opened so far is closed again.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (_ *App, err error) {
	a := &App{
		cfg:  cfg,
		opts: opts,
		log:  log.With().Str("app", opts.Name).Logger(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	a.pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: opts.Name})
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.log.Info().Msg("connected to Postgres")

	a.redis, err = redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	sender, err := notify.NewSender(ctx, cfg.Notify, a.log)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}

	a.metrics = metrics.New(nil)
	a.dispatcher = notify.NewDispatcher(sender, a.log, a.metrics)
	a.service = appointment.NewService(appointment.NewPgRepository(a.pool), a.dispatcher, cfg, a.log, a.metrics)

	if opts.Sweep {
		a.sweeper = sweeper.New(a.service, sweeper.Options{
			Interval: cfg.SweepInterval,
			Locker:   redisclient.NewRedisLocker(a.redis, "clinic:lock", cfg.SweepLockTTL),
		}, a.log, a.metrics)
	}

	if opts.HTTP {
		a.server = &http.Server{
			Addr: ":" + cfg.HTTPPort,
			Handler: api.NewRouter(api.RouterConfig{
				Service:   a.service,
				Pinger:    a.pool,
				Redis:     a.redis,
				JWTSecret: cfg.JWTSecret,
				Logger:    a.log,
				Metrics:   a.metrics,
				Limiter:   api.NewClientLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute),
				Env:       cfg.Env,
				Version:   opts.Version,
			}),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return a, nil
}

// Run starts the configured tasks and blocks until ctx is cancelled or the
// HTTP server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.sweeper != nil {
		sweepCtx, stop := context.WithCancel(ctx)
		a.stopSweep = stop
		a.sweepWG.Add(1)
		go func() {
			defer a.sweepWG.Done()
			a.sweeper.Run(sweepCtx)
		}()
	}

	serveErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
		a.log.Error().Err(runErr).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, stops the sweeper, drains pending
// notifications and closes the connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if a.stopSweep != nil {
		a.stopSweep()
	}
	a.sweepWG.Wait()

	if a.dispatcher != nil {
		drained := make(chan struct{})
		go func() {
			a.dispatcher.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			errs = append(errs, errors.New("notifications still in flight at shutdown"))
		}
	}

	a.close()
	a.log.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// Service exposes the booking service for one-shot commands.
func (a *App) Service() *appointment.Service { return a.service }

// Sweeper is nil unless Options.Sweep was set.
func (a *App) Sweeper() *sweeper.Sweeper { return a.sweeper }

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("error closing redis")
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
