package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSlotMinutes is assumed for providers that have no live slots.
const DefaultSlotMinutes = 30

// WaitStats is the raw load of one provider from a date onward.
type WaitStats struct {
	// Ahead counts pending and confirmed appointments on slots dated on or
	// after the date.
	Ahead int
	// AvgSlotMinutes is nil when the provider has no live slots.
	AvgSlotMinutes *int
	// NextAvailable is the earliest open slot on or after the date.
	NextAvailable *Slot
}

type WaitEstimate struct {
	ProviderID           uuid.UUID
	AppointmentsAhead    int
	AvgSlotMinutes       int
	EstimatedWaitMinutes int
	NextAvailable        *Slot
}

// Summary renders the estimate for people, e.g. "~45 minutes" or "~2h 15m".
func (e WaitEstimate) Summary() string {
	m := e.EstimatedWaitMinutes
	switch {
	case m == 0:
		return "No wait, slots available"
	case m < 60:
		return fmt.Sprintf("~%d minutes", m)
	default:
		return fmt.Sprintf("~%dh %dm", m/60, m%60)
	}
}

// EstimateWait predicts how long a new patient of providerID would wait:
// the live bookings from today onward times the provider's average slot
// length. Unknown providers fail with ErrProviderNotFound.
func (s *Service) EstimateWait(ctx context.Context, providerID uuid.UUID) (est *WaitEstimate, err error) {
	ctx, span := s.startSpan(ctx, "appointment.EstimateWait", attribute.String("provider_id", providerID.String()))
	defer func() { endSpan(span, err) }()

	if _, err := s.providerByID(ctx, providerID); err != nil {
		return nil, err
	}

	today := s.now().UTC().Format("2006-01-02")
	stats, err := s.repo.ProviderWaitStats(ctx, providerID, today)
	if err != nil {
		return nil, fmt.Errorf("wait stats: %w", err)
	}

	avg := DefaultSlotMinutes
	if stats.AvgSlotMinutes != nil {
		avg = *stats.AvgSlotMinutes
	}

	return &WaitEstimate{
		ProviderID:           providerID,
		AppointmentsAhead:    stats.Ahead,
		AvgSlotMinutes:       avg,
		EstimatedWaitMinutes: avg * stats.Ahead,
		NextAvailable:        stats.NextAvailable,
	}, nil
}
