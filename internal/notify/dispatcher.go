package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher sends messages in the background. Delivery failures are logged
// and counted, never returned to the caller.
type Dispatcher struct {
	sender  Sender
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(sender Sender, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		log:     log.With().Str("component", "dispatcher").Logger(),
		metrics: m,
		timeout: defaultSendTimeout,
	}
}

// Notify queues msg and returns immediately. The send outlives ctx's
// cancellation so a finished HTTP request does not abort it.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	if msg.To == "" {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.sender.Send(sendCtx, msg)
		d.metrics.ObserveNotification(err)
		if err != nil {
			d.log.Warn().Err(err).
				Str("to", msg.To).
				Str("subject", msg.Subject).
				Msg("notification failed")
		}
	}()
}

// Wait blocks until every queued send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
