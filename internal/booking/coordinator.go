package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/ledger"
	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

// SlotCalendar is the slice of the calendar the coordinator mutates.
type SlotCalendar interface {
	Reserve(ctx context.Context, key calendar.SlotKey) error
	Release(ctx context.Context, key calendar.SlotKey) error
	ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]calendar.Slot, error)
	EndTime(start string) (string, error)
}

// AppointmentLedger is the slice of the ledger the coordinator mutates.
type AppointmentLedger interface {
	Create(ctx context.Context, p ledger.CreateParams) (*ledger.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*ledger.Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, to ledger.Status) (*ledger.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, fromDate, fromStart, date, start, end string) (*ledger.Appointment, error)
}

// Roster resolves patients and the doctor pool.
type Roster interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*roster.Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*roster.Doctor, error)
	GetDoctorByName(ctx context.Context, name string) (*roster.Doctor, error)
	ListDoctors(ctx context.Context) ([]roster.Doctor, error)
}

type BookRequest struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID // takes precedence over DoctorName
	DoctorName string    // resolved when DoctorID is uuid.Nil; both empty means auto-assign
	Date       string    // calendar.DateLayout; may be empty under the lenient policy
	Time       string    // calendar.TimeLayout; may be empty under the lenient policy
	Purpose    string
}

// Coordinator is the only component allowed to mutate slot and
// appointment state together. Every public operation is one unit of
// work: it either completes fully or compensates every sub-step that
// had already succeeded, so the booked-flag/Scheduled-row invariant
// holds after every call.
type Coordinator struct {
	cal      SlotCalendar
	ledger   AppointmentLedger
	roster   Roster
	locker   redisclient.Locker
	policy   AssignmentPolicy
	defaults defaults
}

func NewCoordinator(cal SlotCalendar, led AppointmentLedger, ros Roster, locker redisclient.Locker, policy AssignmentPolicy, defaultsPolicy config.BookingDefaultsPolicy) *Coordinator {
	return &Coordinator{
		cal:    cal,
		ledger: led,
		roster: ros,
		locker: locker,
		policy: policy,
		defaults: defaults{
			policy: defaultsPolicy,
			now:    time.Now,
		},
	}
}

// Book reserves the requested slot and records the appointment.
// Reservation happens under the per-slot lock; if the ledger write then
// fails the reserved slot is released before the error is returned.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*ledger.Appointment, error) {
	if err := c.defaults.apply(&req); err != nil {
		return nil, err
	}
	if _, err := calendar.ParseDate(req.Date); err != nil {
		return nil, err
	}
	if _, err := calendar.ParseTimeOfDay(req.Time); err != nil {
		return nil, err
	}

	if _, err := c.roster.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, roster.ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctorID, err := c.resolveDoctor(ctx, req)
	if err != nil {
		return nil, err
	}

	end, err := c.cal.EndTime(req.Time)
	if err != nil {
		return nil, err
	}

	key := calendar.SlotKey{DoctorID: doctorID, Date: req.Date, StartTime: req.Time}

	var created *ledger.Appointment

	err = c.locker.WithSlotLock(ctx, key.LockKey(), func(lockCtx context.Context) error {
		if err := c.cal.Reserve(lockCtx, key); err != nil {
			return err
		}

		appt, err := c.ledger.Create(lockCtx, ledger.CreateParams{
			PatientID: req.PatientID,
			DoctorID:  doctorID,
			Date:      req.Date,
			StartTime: req.Time,
			EndTime:   end,
			Purpose:   req.Purpose,
		})
		if err != nil {
			// Mandatory compensation: a reserved slot with no ledger
			// row corrupts the core invariant.
			if relErr := c.cal.Release(lockCtx, key); relErr != nil {
				log.Printf("reconcile=orphaned_reservation slot=%s err=%v", key, relErr)
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, mapSlotErr(err)
	}

	return created, nil
}

// Cancel transitions a Scheduled appointment to Cancelled and frees its
// slot. A release failure after the status transition committed does
// not fail the operation; it is logged for the reconciliation pass.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*ledger.Appointment, error) {
	appt, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != ledger.StatusScheduled {
		return nil, ErrAlreadyFinal
	}

	key := calendar.SlotKey{DoctorID: appt.DoctorID, Date: appt.Date, StartTime: appt.StartTime}

	var cancelled *ledger.Appointment

	err = c.locker.WithSlotLock(ctx, key.LockKey(), func(lockCtx context.Context) error {
		updated, err := c.ledger.SetStatus(lockCtx, id, ledger.StatusCancelled)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidTransition) {
				return ErrAlreadyFinal
			}
			return err
		}
		cancelled = updated

		// Release the slot the row holds now, not the one read before
		// the lock: a reschedule that committed in between moved the
		// appointment, and the transition's returned row reflects that.
		held := calendar.SlotKey{DoctorID: updated.DoctorID, Date: updated.Date, StartTime: updated.StartTime}
		if err := c.cal.Release(lockCtx, held); err != nil {
			// The ledger transition is already committed. Slots are
			// re-derivable, so report success and leave a trail.
			log.Printf("reconcile=slot_release_failed appointment=%s slot=%s err=%v", id, held, err)
		}
		return nil
	})
	if err != nil {
		return nil, mapSlotErr(err)
	}

	return cancelled, nil
}

// Reschedule moves a Scheduled appointment to a new slot with the same
// doctor. The new slot is reserved before the ledger is touched and
// before the old slot is released, so the ledger never points at a slot
// nobody holds. Compensation undoes the most recent step first.
func (c *Coordinator) Reschedule(ctx context.Context, id uuid.UUID, newDate, newStart string) (*ledger.Appointment, error) {
	if newDate == "" {
		return nil, ErrDateRequired
	}
	if newStart == "" {
		return nil, ErrTimeRequired
	}
	if _, err := calendar.ParseDate(newDate); err != nil {
		return nil, err
	}
	if _, err := calendar.ParseTimeOfDay(newStart); err != nil {
		return nil, err
	}

	appt, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != ledger.StatusScheduled {
		return nil, ErrAlreadyFinal
	}

	newEnd, err := c.cal.EndTime(newStart)
	if err != nil {
		return nil, err
	}

	oldKey := calendar.SlotKey{DoctorID: appt.DoctorID, Date: appt.Date, StartTime: appt.StartTime}
	newKey := calendar.SlotKey{DoctorID: appt.DoctorID, Date: newDate, StartTime: newStart}

	var moved *ledger.Appointment

	err = c.locker.WithSlotLock(ctx, newKey.LockKey(), func(lockCtx context.Context) error {
		if err := c.cal.Reserve(lockCtx, newKey); err != nil {
			return err
		}

		// The rewrite is conditioned on the slot coordinates read above,
		// so a concurrent reschedule that got in first fails this one
		// instead of leaving its reserved slot orphaned.
		updated, err := c.ledger.Reschedule(lockCtx, id, appt.Date, appt.StartTime, newDate, newStart, newEnd)
		if err != nil {
			if relErr := c.cal.Release(lockCtx, newKey); relErr != nil {
				log.Printf("reconcile=orphaned_reservation slot=%s err=%v", newKey, relErr)
			}
			if errors.Is(err, ledger.ErrInvalidTransition) {
				return ErrAlreadyFinal
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		moved = updated
		return nil
	})
	if err != nil {
		return nil, mapSlotErr(err)
	}

	if err := c.cal.Release(ctx, oldKey); err != nil {
		// Ledger already points at the new slot; the stale booked flag
		// on the old one is reconciliation work, not a user failure.
		log.Printf("reconcile=slot_release_failed appointment=%s slot=%s err=%v", id, oldKey, err)
	}

	return moved, nil
}

// resolveDoctor turns the request's doctor reference into an id: by id,
// by display name, or auto-assigned when neither is given.
func (c *Coordinator) resolveDoctor(ctx context.Context, req BookRequest) (uuid.UUID, error) {
	switch {
	case req.DoctorID != uuid.Nil:
		if _, err := c.roster.GetDoctorByID(ctx, req.DoctorID); err != nil {
			if errors.Is(err, roster.ErrDoctorNotFound) {
				return uuid.Nil, err
			}
			return uuid.Nil, fmt.Errorf("load doctor: %w", err)
		}
		return req.DoctorID, nil
	case req.DoctorName != "":
		d, err := c.roster.GetDoctorByName(ctx, req.DoctorName)
		if err != nil {
			if errors.Is(err, roster.ErrDoctorNotFound) {
				return uuid.Nil, err
			}
			return uuid.Nil, fmt.Errorf("load doctor by name: %w", err)
		}
		return d.ID, nil
	default:
		return c.assignDoctor(ctx, req.Date)
	}
}

// assignDoctor picks a doctor with at least one free slot on date using
// the configured policy.
func (c *Coordinator) assignDoctor(ctx context.Context, date string) (uuid.UUID, error) {
	doctors, err := c.roster.ListDoctors(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list doctors: %w", err)
	}

	var candidates []Candidate
	for _, d := range doctors {
		free, err := c.cal.ListFreeSlots(ctx, d.ID, date)
		if err != nil {
			return uuid.Nil, fmt.Errorf("list free slots for %s: %w", d.ID, err)
		}
		if len(free) > 0 {
			candidates = append(candidates, Candidate{Doctor: d, FreeSlots: len(free)})
		}
	}

	if len(candidates) == 0 {
		return uuid.Nil, ErrNoDoctorAvailable
	}

	return c.policy.Assign(candidates).ID, nil
}

func mapSlotErr(err error) error {
	switch {
	case errors.Is(err, calendar.ErrSlotAlreadyBooked), errors.Is(err, calendar.ErrSlotNotFound):
		return ErrSlotUnavailable
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotContended
	default:
		return err
	}
}

// WithClock overrides the time source used by the defaulting policy.
// Test hook.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.defaults.now = now
	return c
}
