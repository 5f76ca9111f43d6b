package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling-engine/internal/booking"
	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/ledger"
	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

// Coordinator is the write surface the handlers call.
type Coordinator interface {
	Book(ctx context.Context, req booking.BookRequest) (*ledger.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*ledger.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newDate, newStart string) (*ledger.Appointment, error)
}

// Queries is the read surface the handlers call.
type Queries interface {
	ListUpcoming(ctx context.Context, patientID uuid.UUID) ([]ledger.Appointment, error)
	ListPast(ctx context.Context, patientID uuid.UUID) ([]ledger.Appointment, error)
	NextAppointment(ctx context.Context, patientID uuid.UUID) (*ledger.Appointment, error)
	ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]calendar.Slot, error)
	ListDoctors(ctx context.Context) ([]roster.Doctor, error)
}

func bookHandler(coord Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID := uuid.Nil
		if req.DoctorID != "" {
			doctorID, err = uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
		}

		if req.Date != "" {
			if _, err := calendar.ParseDate(req.Date); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}
		if req.Time != "" {
			if _, err := calendar.ParseTimeOfDay(req.Time); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
				return
			}
		}

		appt, err := callWithRetry(r.Context(), func(ctx context.Context) (*ledger.Appointment, error) {
			return coord.Book(ctx, booking.BookRequest{
				PatientID:  patientID,
				DoctorID:   doctorID,
				DoctorName: req.DoctorName,
				Date:       req.Date,
				Time:       req.Time,
				Purpose:    req.Purpose,
			})
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelHandler(coord Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := callWithRetry(r.Context(), func(ctx context.Context) (*ledger.Appointment, error) {
			return coord.Cancel(ctx, id)
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(coord Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if _, err := calendar.ParseDate(req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if _, err := calendar.ParseTimeOfDay(req.Time); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		appt, err := callWithRetry(r.Context(), func(ctx context.Context) (*ledger.Appointment, error) {
			return coord.Reschedule(ctx, id, req.Date, req.Time)
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(q Queries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parsePatientParam(w, r)
		if !ok {
			return
		}

		when := r.URL.Query().Get("when")
		if when == "" {
			when = "upcoming"
		}

		var (
			appts []ledger.Appointment
			err   error
		)
		switch when {
		case "upcoming":
			appts, err = q.ListUpcoming(r.Context(), patientID)
		case "past":
			appts, err = q.ListPast(r.Context(), patientID)
		default:
			writeError(w, http.StatusBadRequest, "invalid_when", "when must be upcoming or past")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func nextAppointmentHandler(q Queries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parsePatientParam(w, r)
		if !ok {
			return
		}

		appt, err := q.NextAppointment(r.Context(), patientID)
		if err != nil {
			if errors.Is(err, ledger.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "no_upcoming_appointment", "patient has no upcoming appointments")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listDoctorsHandler(q Queries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := q.ListDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponses(doctors))
	}
}

func listDoctorSlotsHandler(q Queries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "id")
		doctorID, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date := r.URL.Query().Get("date")
		if _, err := calendar.ParseDate(date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := q.ListFreeSlots(r.Context(), doctorID, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parsePatientParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// callWithRetry retries exactly once when the coordinator reports a
// storage-level failure. Typed domain outcomes are never retried.
func callWithRetry(ctx context.Context, fn func(ctx context.Context) (*ledger.Appointment, error)) (*ledger.Appointment, error) {
	appt, err := fn(ctx)
	if err != nil && !isDomainError(err) && ctx.Err() == nil {
		return fn(ctx)
	}
	return appt, err
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		booking.ErrSlotUnavailable,
		booking.ErrSlotContended,
		booking.ErrAlreadyFinal,
		booking.ErrNoDoctorAvailable,
		booking.ErrDateRequired,
		booking.ErrTimeRequired,
		roster.ErrPatientNotFound,
		roster.ErrDoctorNotFound,
		ledger.ErrAppointmentNotFound,
		ledger.ErrInvalidTransition,
		calendar.ErrSlotNotFound,
		calendar.ErrSlotAlreadyBooked,
		redisclient.ErrLockNotAcquired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roster.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, roster.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, ledger.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrAlreadyFinal):
		writeError(w, http.StatusConflict, "appointment_already_final", err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrNoDoctorAvailable):
		writeError(w, http.StatusConflict, "no_doctor_available", err.Error())
	case errors.Is(err, booking.ErrDateRequired):
		writeError(w, http.StatusBadRequest, "date_required", err.Error())
	case errors.Is(err, booking.ErrTimeRequired):
		writeError(w, http.StatusBadRequest, "time_required", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
