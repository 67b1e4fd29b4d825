package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking/internal/notify"
)

// ReclaimExpired cancels every pending appointment older than the
// auto-cancel threshold and hands each freed slot to its waitlist. Each
// appointment is handled in its own transaction; failures are collected and
// do not stop the pass. An appointment that is no longer pending when its
// turn comes was handled by someone else and is skipped, which makes
// overlapping passes safe.
func (s *Service) ReclaimExpired(ctx context.Context) (reclaimed []Reclaimed, err error) {
	ctx, span := s.startSpan(ctx, "appointment.ReclaimExpired")
	defer func() { endSpan(span, err) }()

	cutoff := s.now().Add(-s.cfg.AutoCancelAfter)
	expired, err := s.repo.ListExpiredPending(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))

	reason := autoCancelReason(s.cfg.AutoCancelAfter)

	var errs []error
	for _, appt := range expired {
		r, slot, err := s.reclaimOne(ctx, appt, reason)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reclaim %s: %w", appt.ID, err))
			continue
		}

		reclaimed = append(reclaimed, *r)
		s.metrics.ObserveTransition(string(StatusCancelled), string(ActorSystem))
		s.log.Info().
			Str("appointment_id", appt.ID.String()).
			Str("slot_id", slot.ID.String()).
			Bool("promoted", r.Promotion != nil).
			Msg("auto-cancelled appointment")

		s.notifyUser(ctx, appt.UserID, func(to string) notify.Message {
			return notify.AutoCancelled(to, s.slotInfo(ctx, *slot))
		})
		s.announcePromotion(ctx, *slot, r.Promotion)
	}

	return reclaimed, errors.Join(errs...)
}

func (s *Service) reclaimOne(ctx context.Context, appt Appointment, reason string) (*Reclaimed, *Slot, error) {
	var (
		result *Reclaimed
		slot   *Slot
	)
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		to, err := Transition(appt.Status, EventAutoCancel)
		if err != nil {
			return ErrStatusConflict
		}

		cancelled, err := tx.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:   appt.ID,
			From: sourceStates(EventAutoCancel),
			To:   to,
			At:   s.now(),
		})
		if err != nil {
			return err
		}

		from := StatusPending
		if err := s.recordTransition(ctx, tx, appt.ID, &from, to, ActorSystem, &reason); err != nil {
			return err
		}

		released, promo, err := s.releaseAndPromote(ctx, tx, appt.SlotID, reasonPromotedAfterSweep, notesPromotedAfterSweep)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		result = &Reclaimed{Appointment: *cancelled, Promotion: promo}
		slot = released
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, slot, nil
}

func autoCancelReason(after time.Duration) string {
	if after > 0 && after%time.Hour == 0 {
		return fmt.Sprintf("Auto-cancelled: not confirmed within %d hours", int(after/time.Hour))
	}
	return fmt.Sprintf("Auto-cancelled: not confirmed within %s", after)
}
