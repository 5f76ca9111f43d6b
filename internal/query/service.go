package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/ledger"
	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

// Ledger is the read slice of the appointment ledger.
type Ledger interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, filter ledger.TimelineFilter) ([]ledger.Appointment, error)
	Next(ctx context.Context, patientID uuid.UUID) (*ledger.Appointment, error)
}

// Calendar is the read slice of the slot calendar.
type Calendar interface {
	ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]calendar.Slot, error)
}

// Roster is the read slice of the clinic roster.
type Roster interface {
	ListDoctors(ctx context.Context) ([]roster.Doctor, error)
}

// Service serves read-only projections over the ledger and calendar.
// Every method is a single read, so a caller can never observe a
// half-applied coordinator operation.
type Service struct {
	ledger Ledger
	cal    Calendar
	roster Roster
}

func NewService(led Ledger, cal Calendar, ros Roster) *Service {
	return &Service{ledger: led, cal: cal, roster: ros}
}

// ListUpcoming returns the patient's Scheduled appointments from today
// forward, ascending by date and start time.
func (s *Service) ListUpcoming(ctx context.Context, patientID uuid.UUID) ([]ledger.Appointment, error) {
	return s.ledger.ListByPatient(ctx, patientID, ledger.FilterUpcoming)
}

// ListPast returns appointments that are in the past or have reached a
// terminal status, descending by date.
func (s *Service) ListPast(ctx context.Context, patientID uuid.UUID) ([]ledger.Appointment, error) {
	return s.ledger.ListByPatient(ctx, patientID, ledger.FilterPast)
}

// NextAppointment returns the patient's earliest upcoming appointment,
// or ledger.ErrAppointmentNotFound if there is none.
func (s *Service) NextAppointment(ctx context.Context, patientID uuid.UUID) (*ledger.Appointment, error) {
	return s.ledger.Next(ctx, patientID)
}

// ListFreeSlots returns the unbooked slots for a doctor on a date,
// ascending by start time.
func (s *Service) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]calendar.Slot, error) {
	return s.cal.ListFreeSlots(ctx, doctorID, date)
}

// ListDoctors returns the clinic roster ordered by name.
func (s *Service) ListDoctors(ctx context.Context) ([]roster.Doctor, error) {
	return s.roster.ListDoctors(ctx)
}
