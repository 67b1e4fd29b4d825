package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistPromoted WaitlistStatus = "promoted"
	WaitlistExpired  WaitlistStatus = "expired"
)

// Actor records who caused a status change.
type Actor string

const (
	ActorUser     Actor = "user"
	ActorProvider Actor = "provider"
	ActorSystem   Actor = "system"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Caller is the authenticated identity a request acts as.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Name           string
	Email          string
	Specialization string
	Phone          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Slot is a bookable window. Date is YYYY-MM-DD, times are zero padded
// HH:MM so string comparison orders them correctly.
type Slot struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Date        string
	StartTime   string
	EndTime     string
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	SlotID      uuid.UUID
	ProviderID  uuid.UUID
	Status      Status
	Notes       *string
	ConfirmedAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WaitlistEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SlotID    uuid.UUID
	Position  int
	Status    WaitlistStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusHistory is one append-only row per transition. FromStatus is nil
// for the row written when the appointment is created.
type StatusHistory struct {
	ID            int64
	AppointmentID uuid.UUID
	FromStatus    *Status
	ToStatus      Status
	ChangedBy     Actor
	Reason        *string
	CreatedAt     time.Time
}

type SlotFilter struct {
	Date          string
	ProviderID    *uuid.UUID
	OnlyAvailable bool
}

type AppointmentFilter struct {
	UserID     *uuid.UUID
	ProviderID *uuid.UUID
}

// StatusUpdate is a conditional status write: it only applies while the
// appointment is still in one of From.
type StatusUpdate struct {
	ID         uuid.UUID
	From       []Status
	To         Status
	At         time.Time
	SlotID     *uuid.UUID
	ProviderID *uuid.UUID
}

// Promotion describes a waitlist entry that was turned into a pending
// appointment when its slot was freed.
type Promotion struct {
	Entry       WaitlistEntry
	Appointment Appointment
	UserName    string
}

type Timeline struct {
	Appointment Appointment
	History     []StatusHistory
}

// Reclaimed is one appointment cancelled by the reclamation sweep.
type Reclaimed struct {
	Appointment Appointment
	Promotion   *Promotion
}
