package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const lockName = "reclaim-expired"

// Reclaimer is the one pass the sweeper drives.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context) ([]appointment.Reclaimed, error)
}

type Options struct {
	Interval   time.Duration
	RunTimeout time.Duration
	// Locker, when set, keeps two processes from sweeping at the same time.
	Locker redisclient.Locker
}

type Sweeper struct {
	reclaimer Reclaimer
	opts      Options
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func New(r Reclaimer, opts Options, log zerolog.Logger, m *metrics.Metrics) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	return &Sweeper{
		reclaimer: r,
		opts:      opts,
		log:       log.With().Str("component", "sweeper").Logger(),
		metrics:   m,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.opts.Interval).Msg("sweeper started")

	s.tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("sweep failed")
	}
}

// RunOnce performs a single sweep and reports how many appointments it
// cancelled. Losing the lock to another process is not an error.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	start := time.Now()
	var reclaimed []appointment.Reclaimed

	sweep := func(ctx context.Context) error {
		var err error
		reclaimed, err = s.reclaimer.ReclaimExpired(ctx)
		return err
	}

	var err error
	if s.opts.Locker != nil {
		err = s.opts.Locker.WithLock(runCtx, lockName, sweep)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.log.Debug().Msg("sweep skipped, another process holds the lock")
			return 0, nil
		}
	} else {
		err = sweep(runCtx)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveSweep(len(reclaimed), elapsed.Seconds(), err)

	promoted := 0
	for _, r := range reclaimed {
		if r.Promotion != nil {
			promoted++
		}
	}
	if len(reclaimed) > 0 || err != nil {
		s.log.Info().
			Int("reclaimed", len(reclaimed)).
			Int("promoted", promoted).
			Dur("took", elapsed).
			Msg("sweep complete")
	}

	return len(reclaimed), err
}
