package booking

import "errors"

var (
	// ErrSlotUnavailable covers both an already-booked slot and a slot
	// outside the materialized horizon or template.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrSlotContended means another caller holds the slot lock right
	// now. Retryable.
	ErrSlotContended = errors.New("slot is currently being booked, please retry")

	// ErrAlreadyFinal means the appointment is no longer Scheduled.
	ErrAlreadyFinal = errors.New("appointment is already in a final status")

	// ErrNoDoctorAvailable means auto-assignment found no doctor with a
	// free slot on the requested date.
	ErrNoDoctorAvailable = errors.New("no doctor available on requested date")

	ErrDateRequired = errors.New("date is required")
	ErrTimeRequired = errors.New("time is required")
)
