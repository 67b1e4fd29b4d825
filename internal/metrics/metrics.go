package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the booking service collectors. A nil *Metrics is valid and
// records nothing, so tests and tools can skip registration.
type Metrics struct {
	bookings      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	promotions    prometheus.Counter
	reclaimed     prometheus.Counter
	sweepDuration *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"to", "actor"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "waitlist",
			Name:      "promotions_total",
			Help:      "Waitlist entries promoted into appointments",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sweeper",
			Name:      "reclaimed_total",
			Help:      "Pending appointments auto-cancelled by the sweeper",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of sweeper runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notification deliveries by result",
		}, []string{"result"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookings,
		m.transitions,
		m.promotions,
		m.reclaimed,
		m.sweepDuration,
		m.notifications,
		m.httpLatency,
	)
	return m
}

// ObserveBooking records one booking attempt. outcome is one of booked,
// unavailable or race_lost.
func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(to, actor string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, actor).Inc()
}

func (m *Metrics) ObservePromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *Metrics) ObserveSweep(reclaimed int, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reclaimed.Add(float64(reclaimed))
	m.sweepDuration.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, status).Observe(seconds)
}
