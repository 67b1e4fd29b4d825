package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/metrics"
)

// BookingService is what the handlers need from *appointment.Service.
type BookingService interface {
	CreateSlot(ctx context.Context, caller appointment.Caller, in appointment.SlotInput) (*appointment.Slot, error)
	ListSlots(ctx context.Context, caller appointment.Caller, q appointment.SlotQuery) ([]appointment.Slot, error)
	UpdateSlot(ctx context.Context, caller appointment.Caller, id uuid.UUID, patch appointment.SlotPatch) (*appointment.Slot, error)
	DeleteSlot(ctx context.Context, caller appointment.Caller, id uuid.UUID) error

	Book(ctx context.Context, caller appointment.Caller, slotID uuid.UUID, notes *string) (*appointment.Appointment, error)
	Confirm(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, caller appointment.Caller, id, newSlotID uuid.UUID) (*appointment.Appointment, *appointment.Promotion, error)
	Cancel(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, *appointment.Promotion, error)
	ListAppointments(ctx context.Context, caller appointment.Caller) ([]appointment.Appointment, error)
	ListAllAppointments(ctx context.Context) ([]appointment.Appointment, error)
	Timeline(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Timeline, error)

	JoinWaitlist(ctx context.Context, caller appointment.Caller, slotID uuid.UUID) (*appointment.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, caller appointment.Caller, entryID uuid.UUID) error
	ListWaitlist(ctx context.Context, caller appointment.Caller) ([]appointment.WaitlistEntry, error)

	EstimateWait(ctx context.Context, providerID uuid.UUID) (*appointment.WaitEstimate, error)
}

type RouterConfig struct {
	Service   BookingService
	Pinger    Pinger
	Redis     *redis.Client
	JWTSecret string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// Limiter throttles write requests per client; nil disables limiting.
	Limiter *ClientLimiter
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Pinger != nil {
		health := NewHealthHandler(cfg.Pinger, cfg.Redis, cfg.Env, cfg.Version)
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	svc := cfg.Service
	user := string(appointment.RoleUser)
	provider := string(appointment.RoleProvider)
	admin := string(appointment.RoleAdmin)

	// Public endpoints. A provider token on /slots unlocks ?all=true.
	r.With(auth.OptionalMiddleware(cfg.JWTSecret)).Get("/slots", listSlotsHandler(svc))
	r.Get("/wait-time/{providerId}", waitTimeHandler(svc))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret))
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter))
		}

		// Slot endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(provider))
			r.Post("/slots", createSlotHandler(svc))
			r.Put("/slots/{id}", updateSlotHandler(svc))
			r.Delete("/slots/{id}", deleteSlotHandler(svc))
		})

		// Appointment endpoints
		r.Get("/appointments", listAppointmentsHandler(svc))
		r.With(auth.RequireRole(admin)).Get("/appointments/all", listAllAppointmentsHandler(svc))
		r.With(auth.RequireRole(provider)).Patch("/appointments/{id}/confirm", confirmAppointmentHandler(svc))
		r.With(auth.RequireRole(provider)).Patch("/appointments/{id}/complete", completeAppointmentHandler(svc))
		r.Get("/appointments/{id}/timeline", timelineHandler(svc))

		// Waitlist endpoints
		r.Get("/waitlist", listWaitlistHandler(svc))

		// Patient-only writes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(user))
			r.Post("/appointments", bookAppointmentHandler(svc))
			r.Put("/appointments/{id}", rescheduleAppointmentHandler(svc))
			r.Delete("/appointments/{id}", cancelAppointmentHandler(svc))
			r.Post("/waitlist", joinWaitlistHandler(svc))
			r.Delete("/waitlist/{id}", leaveWaitlistHandler(svc))
		})
	})

	return r
}
