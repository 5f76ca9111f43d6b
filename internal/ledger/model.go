package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusNoShow    Status = "No-show"
)

// Terminal reports whether no further transitions are allowed from s.
// Everything except Scheduled is terminal.
func (s Status) Terminal() bool {
	return s != StatusScheduled
}

// CanTransitionTo reports whether s -> to is a legal status change.
func (s Status) CanTransitionTo(to Status) bool {
	if s != StatusScheduled {
		return false
	}
	switch to {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // calendar.DateLayout
	StartTime string // calendar.TimeLayout
	EndTime   string
	Purpose   string
	Status    Status
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
