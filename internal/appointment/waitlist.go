package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking/internal/notify"
)

// JoinWaitlist queues the caller for a slot that is currently taken.
//
// The slot row is locked for the whole join so a concurrent release either
// sees the new entry or runs before it, in which case the slot is available
// again and the join is refused.
func (s *Service) JoinWaitlist(ctx context.Context, caller Caller, slotID uuid.UUID) (entry *WaitlistEntry, err error) {
	ctx, span := s.startSpan(ctx, "waitlist.Join", attribute.String("slot_id", slotID.String()))
	defer func() { endSpan(span, err) }()

	var slot *Slot
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		locked, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if locked.IsAvailable {
			return ErrSlotAvailable
		}

		existing, err := tx.GetWaitingEntry(ctx, slotID, caller.UserID)
		switch {
		case err == nil:
			return &WaitlistConflictError{Position: existing.Position}
		case !errors.Is(err, ErrWaitlistEntryNotFound):
			return fmt.Errorf("check waitlist: %w", err)
		}

		position, err := tx.NextWaitlistPosition(ctx, slotID)
		if err != nil {
			return err
		}

		created, err := tx.InsertWaitlistEntry(ctx, WaitlistEntry{
			ID:        uuid.New(),
			UserID:    caller.UserID,
			SlotID:    slotID,
			Position:  position,
			Status:    WaitlistWaiting,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}

		entry, slot = created, locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("slot_id", slotID.String()).
		Str("user_id", caller.UserID.String()).
		Int("position", entry.Position).
		Msg("joined waitlist")

	s.notifyUser(ctx, caller.UserID, func(to string) notify.Message {
		return notify.WaitlistJoined(to, s.slotInfo(ctx, *slot), entry.Position)
	})

	return entry, nil
}

// LeaveWaitlist withdraws one of the caller's waiting entries. Later
// entries keep their positions.
func (s *Service) LeaveWaitlist(ctx context.Context, caller Caller, entryID uuid.UUID) error {
	entry, err := s.repo.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.UserID != caller.UserID || entry.Status != WaitlistWaiting {
		return ErrWaitlistEntryNotFound
	}

	if _, err := s.repo.UpdateWaitlistStatus(ctx, entryID, WaitlistWaiting, WaitlistExpired); err != nil {
		return err
	}

	s.log.Info().
		Str("entry_id", entryID.String()).
		Str("slot_id", entry.SlotID.String()).
		Msg("left waitlist")
	return nil
}

// ListWaitlist returns the caller's entries, newest first.
func (s *Service) ListWaitlist(ctx context.Context, caller Caller) ([]WaitlistEntry, error) {
	return s.repo.ListWaitlistByUser(ctx, caller.UserID)
}
