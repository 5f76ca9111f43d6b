package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// TimelineFilter selects which half of a patient's history to read.
type TimelineFilter string

const (
	FilterUpcoming TimelineFilter = "upcoming"
	FilterPast     TimelineFilter = "past"
)

// Repository contains all DB interactions needed by the ledger.
type Repository interface {
	Insert(ctx context.Context, appt Appointment) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus applies id: from -> to and fails with
	// ErrAppointmentNotFound when no row matches both the id and the
	// expected current status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// UpdateSchedule rewrites date and times in place. Like UpdateStatus
	// it is a compare-and-swap: the row must still be Scheduled and
	// still sit at (fromDate, fromStart), otherwise it fails with
	// ErrAppointmentNotFound so a raced caller can compensate.
	UpdateSchedule(ctx context.Context, id uuid.UUID, fromDate, fromStart, date, start, end string) (*Appointment, error)

	// ListByPatient returns the patient's timeline relative to today:
	// upcoming = Scheduled with date >= today, ascending (date, start);
	// past = date < today or a terminal status, descending by date.
	ListByPatient(ctx context.Context, patientID uuid.UUID, today string, filter TimelineFilter) ([]Appointment, error)

	// NextForPatient returns the earliest upcoming appointment, or
	// ErrAppointmentNotFound if there is none.
	NextForPatient(ctx context.Context, patientID uuid.UUID, today string) (*Appointment, error)
}
