package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the authoritative record of appointments and their status
// history. It knows nothing about slots; keeping appointment state and
// slot state consistent is the booking coordinator's job.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

type CreateParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string
	StartTime string
	EndTime   string
	Purpose   string
}

// Create inserts a new appointment in Scheduled status.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	appt := Appointment{
		ID:        uuid.New(),
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Purpose:   p.Purpose,
		Status:    StatusScheduled,
	}

	created, err := l.repo.Insert(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.repo.Get(ctx, id)
}

// SetStatus applies a validated status transition. Only Scheduled
// appointments may move, and only to a terminal status.
func (l *Ledger) SetStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !appt.Status.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		// A concurrent writer moved the row between the read and the
		// conditional update.
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	return updated, nil
}

// Reschedule rewrites the appointment's date and times in place. Only
// permitted while the appointment is still Scheduled and still sitting
// at (fromDate, fromStart); a concurrent writer moving the row first
// surfaces as ErrInvalidTransition so the caller can compensate.
func (l *Ledger) Reschedule(ctx context.Context, id uuid.UUID, fromDate, fromStart, date, start, end string) (*Appointment, error) {
	appt, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.UpdateSchedule(ctx, id, fromDate, fromStart, date, start, end)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	return updated, nil
}

// ListByPatient returns the patient's upcoming or past appointments
// relative to today.
func (l *Ledger) ListByPatient(ctx context.Context, patientID uuid.UUID, filter TimelineFilter) ([]Appointment, error) {
	return l.repo.ListByPatient(ctx, patientID, l.today(), filter)
}

// Next returns the patient's earliest upcoming appointment.
func (l *Ledger) Next(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	return l.repo.NextForPatient(ctx, patientID, l.today())
}

func (l *Ledger) today() string {
	return l.now().Format("2006-01-02")
}

// WithClock overrides the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}
