package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// WithinTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error

	// Directory lookups, owned by the auth layer
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetProviderByUserID(ctx context.Context, userID uuid.UUID) (*Provider, error)
	LockProvider(ctx context.Context, id uuid.UUID) error

	// Slots
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)
	FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, date, start, end string, exclude uuid.UUID) (*Slot, error)
	InsertSlot(ctx context.Context, s Slot) (*Slot, error)
	UpdateSlotTimes(ctx context.Context, s Slot) (*Slot, error)
	SoftDeleteSlot(ctx context.Context, id uuid.UUID) error

	// Slot arbitration. ClaimSlot is the compare-and-swap that flips an
	// available slot to unavailable; it reports false when it lost.
	ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, id uuid.UUID) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// ProviderWaitStats feeds the wait estimate. from is a YYYY-MM-DD date.
	ProviderWaitStats(ctx context.Context, providerID uuid.UUID, from string) (*WaitStats, error)

	// Reclamation sweep
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Waitlist
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	GetWaitingEntry(ctx context.Context, slotID, userID uuid.UUID) (*WaitlistEntry, error)
	NextWaiting(ctx context.Context, slotID uuid.UUID) (*WaitlistEntry, error)
	NextWaitlistPosition(ctx context.Context, slotID uuid.UUID) (int, error)
	InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error)
	UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus) (*WaitlistEntry, error)
	ListWaitlistByUser(ctx context.Context, userID uuid.UUID) ([]WaitlistEntry, error)

	// Status history
	InsertHistory(ctx context.Context, h StatusHistory) (*StatusHistory, error)
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistory, error)
}
