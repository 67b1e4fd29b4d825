package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
)

func callerFrom(r *http.Request) (appointment.Caller, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return appointment.Caller{}, false
	}
	return appointment.Caller{UserID: id.UserID, Role: appointment.Role(id.Role)}, true
}

// withCaller resolves the authenticated caller or answers 401.
func withCaller(h func(w http.ResponseWriter, r *http.Request, caller appointment.Caller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
			return
		}
		h(w, r, caller)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeRequest runs decodeAndValidate and writes the 400 itself.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	fields, err := decodeAndValidate(w, r, dst)
	switch {
	case errors.Is(err, errInvalidBody):
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	case err != nil:
		handleError(w, r, err)
		return false
	case fields != nil:
		writeValidationError(w, fields)
		return false
	}
	return true
}

func count(n int) *int { return &n }

// Slots

// listSlotsHandler serves anonymous callers too; they see open slots only.
func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFrom(r)
		q := appointment.SlotQuery{
			Date: r.URL.Query().Get("date"),
			All:  r.URL.Query().Get("all") == "true",
		}
		if q.Date != "" && !datePattern.MatchString(q.Date) {
			writeValidationError(w, map[string]string{"date": "must be a date in YYYY-MM-DD format"})
			return
		}
		if raw := r.URL.Query().Get("providerId"); raw != "" {
			pid, err := uuid.Parse(raw)
			if err != nil {
				writeValidationError(w, map[string]string{"providerId": "must be a valid UUID"})
				return
			}
			q.ProviderID = &pid
		}

		slots, err := svc.ListSlots(r.Context(), caller, q)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Count: count(len(slots)), Data: toSlotResponses(slots)})
	}
}

func createSlotHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		var req CreateSlotRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		slot, err := svc.CreateSlot(r.Context(), caller, appointment.SlotInput{
			Date:      req.Date,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, DataResponse{Message: "Slot created", Data: toSlotResponse(*slot)})
	})
}

func updateSlotHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req UpdateSlotRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		slot, err := svc.UpdateSlot(r.Context(), caller, id, appointment.SlotPatch{
			Date:      req.Date,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Message: "Slot updated", Data: toSlotResponse(*slot)})
	})
}

func deleteSlotHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteSlot(r.Context(), caller, id); err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Message: "Slot deleted"})
	})
}

// Appointments

func bookAppointmentHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		var req BookRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		slotID := uuid.MustParse(req.SlotID)

		appt, err := svc.Book(r.Context(), caller, slotID, req.Notes)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, DataResponse{Message: "Appointment booked", Data: toAppointmentResponse(*appt)})
	})
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		appts, err := svc.ListAppointments(r.Context(), caller)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Count: count(len(appts)), Data: toAppointmentResponses(appts)})
	})
}

func listAllAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListAllAppointments(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Count: count(len(appts)), Data: toAppointmentResponses(appts)})
	}
}

func confirmAppointmentHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Message: "Appointment confirmed", Data: toAppointmentResponse(*appt)})
	})
}

func completeAppointmentHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Message: "Appointment completed", Data: toAppointmentResponse(*appt)})
	})
}

func rescheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		appt, promo, err := svc.Reschedule(r.Context(), caller, id, uuid.MustParse(req.NewSlotID))
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{
			Message:           "Appointment rescheduled",
			Data:              toAppointmentResponse(*appt),
			WaitlistPromotion: promotionNote(promo),
		})
	})
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, promo, err := svc.Cancel(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{
			Message:           "Appointment cancelled",
			Data:              toAppointmentResponse(*appt),
			WaitlistPromotion: promotionNote(promo),
		})
	})
}

func timelineHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		tl, err := svc.Timeline(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Data: toTimelineResponse(*tl)})
	})
}

// Waitlist

func joinWaitlistHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		var req JoinWaitlistRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		entry, err := svc.JoinWaitlist(r.Context(), caller, uuid.MustParse(req.SlotID))
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, DataResponse{
			Message: fmt.Sprintf("Added to waitlist at position #%d", entry.Position),
			Data:    toWaitlistEntryResponse(*entry),
		})
	})
}

func listWaitlistHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		entries, err := svc.ListWaitlist(r.Context(), caller)
		if err != nil {
			handleError(w, r, err)
			return
		}

		out := make([]WaitlistEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toWaitlistEntryResponse(e))
		}
		writeJSON(w, http.StatusOK, DataResponse{Count: count(len(out)), Data: out})
	})
}

func leaveWaitlistHandler(svc BookingService) http.HandlerFunc {
	return withCaller(func(w http.ResponseWriter, r *http.Request, caller appointment.Caller) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.LeaveWaitlist(r.Context(), caller, id); err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Message: "Left waitlist"})
	})
}

// Wait time

func waitTimeHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "providerId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "providerId must be a valid UUID")
			return
		}

		est, err := svc.EstimateWait(r.Context(), providerID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DataResponse{Data: toWaitTimeResponse(*est)})
	}
}
