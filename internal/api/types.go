package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// Requests

type BookRequest struct {
	SlotID string  `json:"slotId" validate:"required,uuid"`
	Notes  *string `json:"notes" validate:"omitempty,max=500"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"newSlotId" validate:"required,uuid"`
}

type JoinWaitlistRequest struct {
	SlotID string `json:"slotId" validate:"required,uuid"`
}

type CreateSlotRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"startTime" validate:"required,hhmm"`
	EndTime   string `json:"endTime" validate:"required,hhmm"`
}

type UpdateSlotRequest struct {
	Date      *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime *string `json:"startTime" validate:"omitempty,hhmm"`
	EndTime   *string `json:"endTime" validate:"omitempty,hhmm"`
}

// Responses

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	SlotID      uuid.UUID  `json:"slotId"`
	ProviderID  uuid.UUID  `json:"providerId"`
	Status      string     `json:"status"`
	Notes       *string    `json:"notes"`
	ConfirmedAt *time.Time `json:"confirmedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CancelledAt *time.Time `json:"cancelledAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"providerId"`
	Date        string    `json:"date"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	IsAvailable bool      `json:"isAvailable"`
}

type WaitlistEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	SlotID    uuid.UUID `json:"slotId"`
	Position  int       `json:"position"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type HistoryResponse struct {
	ID         int64     `json:"id"`
	FromStatus *string   `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ChangedBy  string    `json:"changedBy"`
	Reason     *string   `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

type TimelineResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	History     []HistoryResponse   `json:"history"`
}

type NextSlotResponse struct {
	SlotID uuid.UUID `json:"slotId"`
	Date   string    `json:"date"`
	Time   string    `json:"time"`
}

type WaitTimeResponse struct {
	ProviderID                 uuid.UUID `json:"providerId"`
	AverageAppointmentDuration string    `json:"averageAppointmentDuration"`
	AverageAppointmentMinutes  int       `json:"averageAppointmentMinutes"`
	AppointmentsAhead          int       `json:"appointmentsAhead"`
	EstimatedWaitTime          string    `json:"estimatedWaitTime"`
	EstimatedWaitMinutes       int       `json:"estimatedWaitMinutes"`
	// NextAvailableSlot is null when the provider has no open slot ahead.
	NextAvailableSlot *NextSlotResponse `json:"nextAvailableSlot"`
}

// DataResponse wraps every successful body.
type DataResponse struct {
	Message           string  `json:"message,omitempty"`
	Count             *int    `json:"count,omitempty"`
	Data              any     `json:"data,omitempty"`
	WaitlistPromotion *string `json:"waitlistPromotion,omitempty"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Hint     string            `json:"hint,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Conflict *SlotResponse     `json:"conflict,omitempty"`
	Position int               `json:"position,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		SlotID:      a.SlotID,
		ProviderID:  a.ProviderID,
		Status:      string(a.Status),
		Notes:       a.Notes,
		ConfirmedAt: a.ConfirmedAt,
		CompletedAt: a.CompletedAt,
		CancelledAt: a.CancelledAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toAppointmentResponses(in []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for _, a := range in {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsAvailable: s.IsAvailable,
	}
}

func toSlotResponses(in []appointment.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toWaitlistEntryResponse(e appointment.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:        e.ID,
		UserID:    e.UserID,
		SlotID:    e.SlotID,
		Position:  e.Position,
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt,
	}
}

func toTimelineResponse(tl appointment.Timeline) TimelineResponse {
	history := make([]HistoryResponse, 0, len(tl.History))
	for _, h := range tl.History {
		var from *string
		if h.FromStatus != nil {
			s := string(*h.FromStatus)
			from = &s
		}
		history = append(history, HistoryResponse{
			ID:         h.ID,
			FromStatus: from,
			ToStatus:   string(h.ToStatus),
			ChangedBy:  string(h.ChangedBy),
			Reason:     h.Reason,
			CreatedAt:  h.CreatedAt,
		})
	}
	return TimelineResponse{Appointment: toAppointmentResponse(tl.Appointment), History: history}
}

// promotionNote is the human readable waitlist note attached to cancel and
// reschedule responses.
func promotionNote(p *appointment.Promotion) *string {
	if p == nil {
		return nil
	}
	name := p.UserName
	if name == "" {
		name = "The next user in line"
	}
	note := name + " was auto-booked from waitlist"
	return &note
}

func toWaitTimeResponse(e appointment.WaitEstimate) WaitTimeResponse {
	out := WaitTimeResponse{
		ProviderID:                 e.ProviderID,
		AverageAppointmentDuration: fmt.Sprintf("%d minutes", e.AvgSlotMinutes),
		AverageAppointmentMinutes:  e.AvgSlotMinutes,
		AppointmentsAhead:          e.AppointmentsAhead,
		EstimatedWaitTime:          e.Summary(),
		EstimatedWaitMinutes:       e.EstimatedWaitMinutes,
	}
	if s := e.NextAvailable; s != nil {
		out.NextAvailableSlot = &NextSlotResponse{
			SlotID: s.ID,
			Date:   s.Date,
			Time:   s.StartTime + " - " + s.EndTime,
		}
	}
	return out
}
