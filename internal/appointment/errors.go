package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrProviderNotFound      = errors.New("provider profile not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
)

var (
	ErrSlotUnavailable   = errors.New("slot is already booked")
	ErrSlotRaceLost      = errors.New("slot was just booked by someone else")
	ErrSlotBooked        = errors.New("slot has a live booking and cannot be changed")
	ErrSlotOverlap       = errors.New("overlapping slot exists")
	ErrAlreadyWaitlisted = errors.New("already on the waitlist for this slot")
	ErrStatusConflict    = errors.New("appointment status changed concurrently")
)

var (
	ErrInvalidTimeRange    = errors.New("end time must be after start time")
	ErrInvalidSlotTime     = errors.New("date must be YYYY-MM-DD and times HH:MM")
	ErrSlotAvailable       = errors.New("slot is available, book it directly")
	ErrAlreadyCancelled    = errors.New("appointment is already cancelled")
	ErrAppointmentTerminal = errors.New("appointment can no longer be changed")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// SlotOverlapError carries the existing slot that blocks a create/update.
type SlotOverlapError struct {
	Existing Slot
}

func (e *SlotOverlapError) Error() string {
	return fmt.Sprintf("overlapping slot exists: %s - %s on %s",
		e.Existing.StartTime, e.Existing.EndTime, e.Existing.Date)
}

func (e *SlotOverlapError) Unwrap() error { return ErrSlotOverlap }

// WaitlistConflictError reports the position the caller already holds.
type WaitlistConflictError struct {
	Position int
}

func (e *WaitlistConflictError) Error() string {
	return fmt.Sprintf("already on the waitlist at position #%d", e.Position)
}

func (e *WaitlistConflictError) Unwrap() error { return ErrAlreadyWaitlisted }

// TerminalError reports the status that blocks a change.
type TerminalError struct {
	Status Status
	Action string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("cannot %s a %s appointment", e.Action, e.Status)
}

func (e *TerminalError) Unwrap() error { return ErrAppointmentTerminal }
