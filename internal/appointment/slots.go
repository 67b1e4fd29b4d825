package appointment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

type SlotInput struct {
	Date      string
	StartTime string
	EndTime   string
}

// SlotPatch holds the fields of a slot update; nil means unchanged.
type SlotPatch struct {
	Date      *string
	StartTime *string
	EndTime   *string
}

type SlotQuery struct {
	Date       string
	ProviderID *uuid.UUID
	// All asks for every slot of the calling provider, booked or not.
	All bool
}

// ValidateSlotTimes checks the wire format of a slot window and that it is
// not empty or inverted.
func ValidateSlotTimes(date, start, end string) error {
	if !datePattern.MatchString(date) || !timePattern.MatchString(start) || !timePattern.MatchString(end) {
		return ErrInvalidSlotTime
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return ErrInvalidSlotTime
	}
	if start >= end {
		return ErrInvalidTimeRange
	}
	return nil
}

// CreateSlot adds a bookable window for the caller's provider profile. A
// window overlapping any live slot of the same provider on the same date
// fails with *SlotOverlapError.
func (s *Service) CreateSlot(ctx context.Context, caller Caller, in SlotInput) (slot *Slot, err error) {
	ctx, span := s.startSpan(ctx, "appointment.CreateSlot", attribute.String("date", in.Date))
	defer func() { endSpan(span, err) }()

	if err := ValidateSlotTimes(in.Date, in.StartTime, in.EndTime); err != nil {
		return nil, err
	}

	provider, err := s.providerForUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		if err := tx.LockProvider(ctx, provider.ID); err != nil {
			return err
		}
		if err := checkOverlap(ctx, tx, provider.ID, in.Date, in.StartTime, in.EndTime, uuid.Nil); err != nil {
			return err
		}

		now := s.now()
		created, err := tx.InsertSlot(ctx, Slot{
			ID:          uuid.New(),
			ProviderID:  provider.ID,
			Date:        in.Date,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			IsAvailable: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		slot = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("provider_id", provider.ID.String()).
		Str("date", slot.Date).
		Str("start", slot.StartTime).
		Msg("slot created")

	return slot, nil
}

func checkOverlap(ctx context.Context, tx Repository, providerID uuid.UUID, date, start, end string, exclude uuid.UUID) error {
	existing, err := tx.FindOverlappingSlot(ctx, providerID, date, start, end, exclude)
	switch {
	case errors.Is(err, ErrSlotNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check overlap: %w", err)
	}
	return &SlotOverlapError{Existing: *existing}
}

// ListSlots returns available slots ordered by date and start time. A
// provider passing All sees every one of their own live slots instead.
func (s *Service) ListSlots(ctx context.Context, caller Caller, q SlotQuery) ([]Slot, error) {
	filter := SlotFilter{Date: q.Date, ProviderID: q.ProviderID, OnlyAvailable: true}

	if q.All && caller.Role == RoleProvider {
		provider, err := s.providerForUser(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		filter.ProviderID = &provider.ID
		filter.OnlyAvailable = false
	}

	return s.repo.ListSlots(ctx, filter)
}

// UpdateSlot changes the window of one of the caller's slots. Booked slots
// cannot be changed and availability is never touched here.
func (s *Service) UpdateSlot(ctx context.Context, caller Caller, id uuid.UUID, patch SlotPatch) (slot *Slot, err error) {
	ctx, span := s.startSpan(ctx, "appointment.UpdateSlot", attribute.String("slot_id", id.String()))
	defer func() { endSpan(span, err) }()

	provider, err := s.providerForUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		if err := tx.LockProvider(ctx, provider.ID); err != nil {
			return err
		}

		current, err := tx.GetSlotByID(ctx, id)
		if err != nil {
			return err
		}
		if current.ProviderID != provider.ID {
			return ErrSlotNotFound
		}
		if !current.IsAvailable {
			return ErrSlotBooked
		}

		next := *current
		if patch.Date != nil {
			next.Date = *patch.Date
		}
		if patch.StartTime != nil {
			next.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			next.EndTime = *patch.EndTime
		}
		if err := ValidateSlotTimes(next.Date, next.StartTime, next.EndTime); err != nil {
			return err
		}
		if err := checkOverlap(ctx, tx, provider.ID, next.Date, next.StartTime, next.EndTime, next.ID); err != nil {
			return err
		}

		next.UpdatedAt = s.now()
		slot, err = tx.UpdateSlotTimes(ctx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// DeleteSlot soft deletes one of the caller's unbooked slots.
func (s *Service) DeleteSlot(ctx context.Context, caller Caller, id uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "appointment.DeleteSlot", attribute.String("slot_id", id.String()))
	defer func() { endSpan(span, err) }()

	provider, err := s.providerForUser(ctx, caller.UserID)
	if err != nil {
		return err
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.LockSlot(ctx, id)
		if err != nil {
			return err
		}
		if current.ProviderID != provider.ID {
			return ErrSlotNotFound
		}
		if !current.IsAvailable {
			return ErrSlotBooked
		}
		return tx.SoftDeleteSlot(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("slot_id", id.String()).Msg("slot deleted")
	return nil
}
