package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_failed",
		Details: "request has invalid fields",
		Fields:  fields,
	})
}

// handleError maps service errors onto the HTTP taxonomy: not found 404,
// conflicts 409, rule violations 400, anything else 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		overlap  *appointment.SlotOverlapError
		dup      *appointment.WaitlistConflictError
		terminal *appointment.TerminalError
	)

	switch {
	case errors.As(err, &overlap):
		conflict := toSlotResponse(overlap.Existing)
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "slot_overlap",
			Details:  "Overlapping slot exists: " + overlap.Existing.StartTime + " - " + overlap.Existing.EndTime,
			Conflict: &conflict,
		})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "already_waitlisted",
			Details:  dup.Error(),
			Position: dup.Position,
		})
	case errors.As(err, &terminal):
		writeError(w, http.StatusBadRequest, "appointment_terminal", terminal.Error())

	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "slot_unavailable",
			Details: "This slot is already booked. You can join the waitlist instead.",
			Hint:    `POST /waitlist with {"slotId": "<slot id>"}`,
		})
	case errors.Is(err, appointment.ErrSlotRaceLost):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "slot_race_lost",
			Details: "This slot was just booked by someone else. You can join the waitlist.",
			Hint:    `POST /waitlist with {"slotId": "<slot id>"}`,
		})
	case errors.Is(err, appointment.ErrSlotBooked):
		writeError(w, http.StatusConflict, "slot_booked", "Cannot change a slot that has been booked.")
	case errors.Is(err, appointment.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", "Appointment was changed by another request, reload and retry.")
	case errors.Is(err, appointment.ErrAlreadyWaitlisted):
		writeError(w, http.StatusConflict, "already_waitlisted", "You are already on the waitlist for this slot.")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, appointment.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", "End time must be after start time")
	case errors.Is(err, appointment.ErrInvalidSlotTime):
		writeError(w, http.StatusBadRequest, "invalid_slot_time", "Date must be YYYY-MM-DD and times HH:MM.")
	case errors.Is(err, appointment.ErrSlotAvailable):
		writeError(w, http.StatusBadRequest, "slot_available", "Slot is available. Book it directly instead of joining the waitlist.")
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusBadRequest, "already_cancelled", "Appointment is already cancelled.")

	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", "Slot not found.")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "Appointment not found or unauthorized.")
	case errors.Is(err, appointment.ErrWaitlistEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", "Waitlist entry not found.")
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", "Provider profile not found.")
	case errors.Is(err, appointment.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "User not found.")

	default:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
