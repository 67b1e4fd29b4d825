package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/notify"
)

const (
	reasonPromoted            = "Promoted from waitlist"
	reasonPromotedAfterSweep  = "Promoted from waitlist after auto-cancel"
	notesPromoted             = "Auto-booked from waitlist"
	notesPromotedAfterSweep   = "Auto-booked from waitlist (after auto-cancel)"
	reasonCancelledByUser     = "Cancelled by user"
	reasonRescheduledByUser   = "Rescheduled by user"
	defaultProviderCacheTTL   = 5 * time.Minute
	providerCacheCleanupEvery = 10 * time.Minute
)

// Notifier delivers user facing messages. Calls must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message)
}

type Service struct {
	repo      Repository
	notifier  Notifier
	cfg       config.Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	providers *cache.Cache
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(repo Repository, notifier Notifier, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) *Service {
	ttl := cfg.ProviderCacheTTL
	if ttl <= 0 {
		ttl = defaultProviderCacheTTL
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "appointment").Logger(),
		metrics:   m,
		providers: cache.New(ttl, providerCacheCleanupEvery),
		tracer:    otel.Tracer("github.com/hackgods/clinic-booking/internal/appointment"),
		now:       time.Now,
	}
}

// Book claims an available slot for the caller and creates a pending
// appointment. The claim is a single conditional write, so of several
// concurrent bookers exactly one wins; the rest get ErrSlotUnavailable
// (seen before the claim) or ErrSlotRaceLost (lost the claim).
func (s *Service) Book(ctx context.Context, caller Caller, slotID uuid.UUID, notes *string) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Book", attribute.String("slot_id", slotID.String()))
	defer func() { endSpan(span, err) }()

	status, err := Transition("", EventBook)
	if err != nil {
		return nil, err
	}

	var slot *Slot
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		sl, err := tx.GetSlotByID(ctx, slotID)
		if err != nil {
			return err
		}
		if !sl.IsAvailable {
			return ErrSlotUnavailable
		}

		claimed, err := tx.ClaimSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrSlotRaceLost
		}

		created, err := tx.InsertAppointment(ctx, Appointment{
			ID:         uuid.New(),
			UserID:     caller.UserID,
			SlotID:     sl.ID,
			ProviderID: sl.ProviderID,
			Status:     status,
			Notes:      notes,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		if err := s.recordTransition(ctx, tx, created.ID, nil, status, ActorUser, nil); err != nil {
			return err
		}

		appt, slot = created, sl
		return nil
	})

	switch {
	case errors.Is(err, ErrSlotUnavailable):
		s.metrics.ObserveBooking("unavailable")
		return nil, err
	case errors.Is(err, ErrSlotRaceLost):
		s.metrics.ObserveBooking("race_lost")
		s.log.Info().Str("slot_id", slotID.String()).Msg("slot claim lost")
		return nil, err
	case err != nil:
		return nil, err
	}

	s.metrics.ObserveBooking("booked")
	s.metrics.ObserveTransition(string(status), string(ActorUser))
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slotID.String()).
		Str("user_id", caller.UserID.String()).
		Msg("appointment booked")

	s.notifyUser(ctx, appt.UserID, func(to string) notify.Message {
		return notify.Booked(to, s.slotInfo(ctx, *slot))
	})

	return appt, nil
}

// Confirm moves a pending appointment assigned to the caller's provider
// profile to confirmed.
func (s *Service) Confirm(ctx context.Context, caller Caller, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Confirm", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	appt, err = s.providerTransition(ctx, caller, id, EventConfirm)
	if err != nil {
		return nil, err
	}

	s.notifyUser(ctx, appt.UserID, func(to string) notify.Message {
		slot, err := s.repo.GetSlotByID(ctx, appt.SlotID)
		if err != nil {
			return notify.Confirmed(to, notify.SlotInfo{})
		}
		return notify.Confirmed(to, s.slotInfo(ctx, *slot))
	})
	return appt, nil
}

// Complete moves a confirmed appointment assigned to the caller's provider
// profile to completed.
func (s *Service) Complete(ctx context.Context, caller Caller, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Complete", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	return s.providerTransition(ctx, caller, id, EventComplete)
}

// providerTransition applies ev for the provider that owns the appointment.
// An appointment outside the provider's profile or in the wrong state is
// reported as not found.
func (s *Service) providerTransition(ctx context.Context, caller Caller, id uuid.UUID, ev Event) (*Appointment, error) {
	provider, err := s.providerForUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.ProviderID != provider.ID {
			return ErrAppointmentNotFound
		}

		to, err := Transition(appt.Status, ev)
		if err != nil {
			return ErrAppointmentNotFound
		}

		updated, err = tx.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:   appt.ID,
			From: sourceStates(ev),
			To:   to,
			At:   s.now(),
		})
		if errors.Is(err, ErrStatusConflict) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return err
		}

		from := appt.Status
		return s.recordTransition(ctx, tx, appt.ID, &from, to, ActorProvider, nil)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(updated.Status), string(ActorProvider))
	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("status", string(updated.Status)).
		Msg("appointment updated by provider")

	return updated, nil
}

// Reschedule moves the caller's appointment to newSlotID. The new slot is
// claimed first; if that fails nothing changes. The old slot is then
// released, which hands it to the head of its waitlist when there is one.
func (s *Service) Reschedule(ctx context.Context, caller Caller, id, newSlotID uuid.UUID) (appt *Appointment, promo *Promotion, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Reschedule",
		attribute.String("appointment_id", id.String()),
		attribute.String("new_slot_id", newSlotID.String()))
	defer func() { endSpan(span, err) }()

	var oldSlot, newSlot *Slot
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if current.UserID != caller.UserID {
			return ErrAppointmentNotFound
		}
		if current.Status.IsTerminal() {
			return &TerminalError{Status: current.Status, Action: "reschedule"}
		}
		to, err := Transition(current.Status, EventReschedule)
		if err != nil {
			return err
		}

		target, err := tx.GetSlotByID(ctx, newSlotID)
		if err != nil {
			return err
		}
		if !target.IsAvailable {
			return ErrSlotUnavailable
		}
		claimed, err := tx.ClaimSlot(ctx, newSlotID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrSlotRaceLost
		}

		moved, err := tx.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:         current.ID,
			From:       sourceStates(EventReschedule),
			To:         to,
			At:         s.now(),
			SlotID:     &target.ID,
			ProviderID: &target.ProviderID,
		})
		if err != nil {
			return err
		}

		from := current.Status
		reason := reasonRescheduledByUser
		if err := s.recordTransition(ctx, tx, current.ID, &from, to, ActorUser, &reason); err != nil {
			return err
		}

		released, p, err := s.releaseAndPromote(ctx, tx, current.SlotID, reasonPromoted, notesPromoted)
		if err != nil {
			return fmt.Errorf("release old slot: %w", err)
		}

		appt, promo, oldSlot, newSlot = moved, p, released, target
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.ObserveTransition(string(appt.Status), string(ActorUser))
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("old_slot_id", oldSlot.ID.String()).
		Str("new_slot_id", newSlot.ID.String()).
		Bool("promoted", promo != nil).
		Msg("appointment rescheduled")

	s.notifyUser(ctx, appt.UserID, func(to string) notify.Message {
		return notify.Rescheduled(to, s.slotInfo(ctx, *oldSlot), s.slotInfo(ctx, *newSlot))
	})
	s.announcePromotion(ctx, *oldSlot, promo)

	return appt, promo, nil
}

// Cancel cancels the caller's appointment and frees its slot, promoting the
// head of the slot's waitlist when there is one.
func (s *Service) Cancel(ctx context.Context, caller Caller, id uuid.UUID) (appt *Appointment, promo *Promotion, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Cancel", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	var slot *Slot
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if current.UserID != caller.UserID {
			return ErrAppointmentNotFound
		}
		switch current.Status {
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusCompleted:
			return &TerminalError{Status: current.Status, Action: "cancel"}
		}
		to, err := Transition(current.Status, EventCancel)
		if err != nil {
			return err
		}

		cancelled, err := tx.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:   current.ID,
			From: sourceStates(EventCancel),
			To:   to,
			At:   s.now(),
		})
		if err != nil {
			return err
		}

		from := current.Status
		reason := reasonCancelledByUser
		if err := s.recordTransition(ctx, tx, current.ID, &from, to, ActorUser, &reason); err != nil {
			return err
		}

		released, p, err := s.releaseAndPromote(ctx, tx, current.SlotID, reasonPromoted, notesPromoted)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		appt, promo, slot = cancelled, p, released
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.ObserveTransition(string(appt.Status), string(ActorUser))
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slot.ID.String()).
		Bool("promoted", promo != nil).
		Msg("appointment cancelled")

	s.notifyUser(ctx, appt.UserID, func(to string) notify.Message {
		return notify.Cancelled(to, s.slotInfo(ctx, *slot))
	})
	s.announcePromotion(ctx, *slot, promo)

	return appt, promo, nil
}

// releaseAndPromote is the only way a claimed slot is given back. With an
// empty waitlist the slot becomes available again; otherwise the head of
// the queue gets a pending appointment on the same slot and the slot never
// becomes publicly bookable.
func (s *Service) releaseAndPromote(ctx context.Context, tx Repository, slotID uuid.UUID, reason, notes string) (*Slot, *Promotion, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}

	entry, err := tx.NextWaiting(ctx, slotID)
	if errors.Is(err, ErrWaitlistEntryNotFound) {
		if err := tx.ReleaseSlot(ctx, slotID); err != nil {
			return nil, nil, err
		}
		slot.IsAvailable = true
		return slot, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("next waitlist entry: %w", err)
	}

	appt, err := tx.InsertAppointment(ctx, Appointment{
		ID:         uuid.New(),
		UserID:     entry.UserID,
		SlotID:     slot.ID,
		ProviderID: slot.ProviderID,
		Status:     StatusPending,
		Notes:      &notes,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create promoted appointment: %w", err)
	}

	if err := s.recordTransition(ctx, tx, appt.ID, nil, StatusPending, ActorSystem, &reason); err != nil {
		return nil, nil, err
	}

	promoted, err := tx.UpdateWaitlistStatus(ctx, entry.ID, WaitlistWaiting, WaitlistPromoted)
	if err != nil {
		return nil, nil, fmt.Errorf("mark waitlist entry promoted: %w", err)
	}

	promo := &Promotion{Entry: *promoted, Appointment: *appt}
	user, err := tx.GetUserByID(ctx, entry.UserID)
	switch {
	case err == nil:
		promo.UserName = user.Name
	case !errors.Is(err, ErrUserNotFound):
		return nil, nil, err
	}

	slot.IsAvailable = false
	return slot, promo, nil
}

func (s *Service) recordTransition(ctx context.Context, tx Repository, id uuid.UUID, from *Status, to Status, by Actor, reason *string) error {
	_, err := tx.InsertHistory(ctx, StatusHistory{
		AppointmentID: id,
		FromStatus:    from,
		ToStatus:      to,
		ChangedBy:     by,
		Reason:        reason,
		CreatedAt:     s.now(),
	})
	return err
}

// ListAppointments returns the caller's own appointments, newest first.
// Providers see the appointments assigned to their profile and admins see
// everything.
func (s *Service) ListAppointments(ctx context.Context, caller Caller) ([]Appointment, error) {
	switch caller.Role {
	case RoleAdmin:
		return s.ListAllAppointments(ctx)
	case RoleProvider:
		provider, err := s.providerForUser(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		return s.repo.ListAppointments(ctx, AppointmentFilter{ProviderID: &provider.ID})
	default:
		return s.repo.ListAppointments(ctx, AppointmentFilter{UserID: &caller.UserID})
	}
}

func (s *Service) ListAllAppointments(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListAppointments(ctx, AppointmentFilter{})
}

// Timeline returns an appointment with its history, oldest first. Callers
// with no stake in the appointment get ErrAppointmentNotFound.
func (s *Service) Timeline(ctx context.Context, caller Caller, id uuid.UUID) (*Timeline, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.canView(ctx, caller, appt) {
		return nil, ErrAppointmentNotFound
	}

	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return &Timeline{Appointment: *appt, History: history}, nil
}

func (s *Service) canView(ctx context.Context, caller Caller, appt *Appointment) bool {
	switch {
	case caller.Role == RoleAdmin:
		return true
	case appt.UserID == caller.UserID:
		return true
	case caller.Role == RoleProvider:
		provider, err := s.providerForUser(ctx, caller.UserID)
		return err == nil && provider.ID == appt.ProviderID
	}
	return false
}

// Provider profiles change rarely and are read on every provider request,
// so they are cached by user id and by provider id.

func (s *Service) providerForUser(ctx context.Context, userID uuid.UUID) (*Provider, error) {
	key := "user:" + userID.String()
	if v, ok := s.providers.Get(key); ok {
		return v.(*Provider), nil
	}

	p, err := s.repo.GetProviderByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheProvider(p)
	return p, nil
}

func (s *Service) providerByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	key := "id:" + id.String()
	if v, ok := s.providers.Get(key); ok {
		return v.(*Provider), nil
	}

	p, err := s.repo.GetProviderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheProvider(p)
	return p, nil
}

func (s *Service) cacheProvider(p *Provider) {
	s.providers.SetDefault("user:"+p.UserID.String(), p)
	s.providers.SetDefault("id:"+p.ID.String(), p)
}

// Notifications are sent after commit and never fail the operation.

func (s *Service) slotInfo(ctx context.Context, slot Slot) notify.SlotInfo {
	info := notify.SlotInfo{Date: slot.Date, Time: slot.StartTime}
	p, err := s.providerByID(ctx, slot.ProviderID)
	if err != nil {
		s.log.Warn().Err(err).Str("provider_id", slot.ProviderID.String()).Msg("provider lookup for notification failed")
		return info
	}
	info.ProviderName = p.Name
	return info
}

func (s *Service) notifyUser(ctx context.Context, userID uuid.UUID, build func(to string) notify.Message) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("recipient lookup failed, notification skipped")
		return
	}

	msg := build(user.Email)
	msg.ToName = user.Name
	s.notifier.Notify(ctx, msg)
}

func (s *Service) announcePromotion(ctx context.Context, slot Slot, promo *Promotion) {
	if promo == nil {
		return
	}

	s.metrics.ObservePromotion()
	s.metrics.ObserveTransition(string(StatusPending), string(ActorSystem))
	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("user_id", promo.Entry.UserID.String()).
		Int("position", promo.Entry.Position).
		Msg("waitlist entry promoted")

	s.notifyUser(ctx, promo.Entry.UserID, func(to string) notify.Message {
		return notify.WaitlistPromoted(to, s.slotInfo(ctx, slot))
	})
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
