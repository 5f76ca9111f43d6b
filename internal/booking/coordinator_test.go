package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/ledger"
	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

// memCalendar implements SlotCalendar with the same compare-and-swap
// semantics as the Postgres repository.
type memCalendar struct {
	mu    sync.Mutex
	slots map[calendar.SlotKey]*calendar.Slot
}

func newMemCalendar() *memCalendar {
	return &memCalendar{slots: make(map[calendar.SlotKey]*calendar.Slot)}
}

func (m *memCalendar) addFreeSlot(doctorID uuid.UUID, date, start string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := calendar.SlotKey{DoctorID: doctorID, Date: date, StartTime: start}
	end, _ := calendar.AddIncrement(start, 30*time.Minute)
	m.slots[key] = &calendar.Slot{DoctorID: doctorID, Date: date, StartTime: start, EndTime: end}
}

func (m *memCalendar) booked(key calendar.SlotKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	return ok && s.Booked
}

func (m *memCalendar) Reserve(ctx context.Context, key calendar.SlotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return calendar.ErrSlotNotFound
	}
	if s.Booked {
		return calendar.ErrSlotAlreadyBooked
	}
	s.Booked = true
	return nil
}

func (m *memCalendar) Release(ctx context.Context, key calendar.SlotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return calendar.ErrSlotNotFound
	}
	s.Booked = false
	return nil
}

func (m *memCalendar) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]calendar.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calendar.Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date == date && !s.Booked {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *memCalendar) EndTime(start string) (string, error) {
	return calendar.AddIncrement(start, 30*time.Minute)
}

// memLedger implements AppointmentLedger. createErr lets tests inject a
// storage failure on Create to exercise compensation; getHook runs once
// after a Get has read its row but before the copy is returned, so
// tests can interleave a concurrent writer against that stale read.
type memLedger struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*ledger.Appointment
	createErr error
	getHook   func()
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[uuid.UUID]*ledger.Appointment)}
}

func (m *memLedger) Create(ctx context.Context, p ledger.CreateParams) (*ledger.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	a := &ledger.Appointment{
		ID:        uuid.New(),
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Purpose:   p.Purpose,
		Status:    ledger.StatusScheduled,
	}
	m.rows[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memLedger) Get(ctx context.Context, id uuid.UUID) (*ledger.Appointment, error) {
	m.mu.Lock()
	a, ok := m.rows[id]
	var cp ledger.Appointment
	if ok {
		cp = *a
	}
	hook := m.getHook
	m.getHook = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, ledger.ErrAppointmentNotFound
	}
	return &cp, nil
}

func (m *memLedger) SetStatus(ctx context.Context, id uuid.UUID, to ledger.Status) (*ledger.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, ledger.ErrAppointmentNotFound
	}
	if !a.Status.CanTransitionTo(to) {
		return nil, ledger.ErrInvalidTransition
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (m *memLedger) Reschedule(ctx context.Context, id uuid.UUID, fromDate, fromStart, date, start, end string) (*ledger.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, ledger.ErrAppointmentNotFound
	}
	if a.Status != ledger.StatusScheduled {
		return nil, ledger.ErrInvalidTransition
	}
	if a.Date != fromDate || a.StartTime != fromStart {
		// The row moved since the caller read it.
		return nil, ledger.ErrInvalidTransition
	}
	a.Date = date
	a.StartTime = start
	a.EndTime = end
	cp := *a
	return &cp, nil
}

// memRoster implements Roster.
type memRoster struct {
	patients map[uuid.UUID]*roster.Patient
	doctors  []roster.Doctor
}

func newMemRoster() *memRoster {
	return &memRoster{patients: make(map[uuid.UUID]*roster.Patient)}
}

func (m *memRoster) addPatient() uuid.UUID {
	id := uuid.New()
	m.patients[id] = &roster.Patient{ID: id, Name: "Test Patient"}
	return id
}

func (m *memRoster) addDoctor(name string) uuid.UUID {
	id := uuid.New()
	m.doctors = append(m.doctors, roster.Doctor{ID: id, Name: name})
	return id
}

func (m *memRoster) GetPatientByID(ctx context.Context, id uuid.UUID) (*roster.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, roster.ErrPatientNotFound
	}
	return p, nil
}

func (m *memRoster) GetDoctorByID(ctx context.Context, id uuid.UUID) (*roster.Doctor, error) {
	for i := range m.doctors {
		if m.doctors[i].ID == id {
			return &m.doctors[i], nil
		}
	}
	return nil, roster.ErrDoctorNotFound
}

func (m *memRoster) GetDoctorByName(ctx context.Context, name string) (*roster.Doctor, error) {
	for i := range m.doctors {
		if m.doctors[i].Name == name {
			return &m.doctors[i], nil
		}
	}
	return nil, roster.ErrDoctorNotFound
}

func (m *memRoster) ListDoctors(ctx context.Context) ([]roster.Doctor, error) {
	return append([]roster.Doctor(nil), m.doctors...), nil
}

// memLocker mirrors the non-blocking redis locker: a held key fails
// immediately instead of queueing.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[slotKey] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[slotKey] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, slotKey)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

type fixture struct {
	cal     *memCalendar
	led     *memLedger
	ros     *memRoster
	coord   *Coordinator
	johnson uuid.UUID
	patient uuid.UUID
}

func newFixture(t *testing.T, defaultsPolicy config.BookingDefaultsPolicy) *fixture {
	t.Helper()

	cal := newMemCalendar()
	led := newMemLedger()
	ros := newMemRoster()

	johnson := ros.addDoctor("Dr. Johnson")
	for _, start := range []string{"09:00", "09:30", "10:00"} {
		cal.addFreeSlot(johnson, "2025-03-10", start)
		cal.addFreeSlot(johnson, "2025-03-11", start)
	}

	coord := NewCoordinator(cal, led, ros, newMemLocker(), NewUniformRandom(1), defaultsPolicy)
	coord.WithClock(func() time.Time {
		now, _ := time.Parse("2006-01-02", "2025-03-09")
		return now
	})

	return &fixture{
		cal:     cal,
		led:     led,
		ros:     ros,
		coord:   coord,
		johnson: johnson,
		patient: ros.addPatient(),
	}
}

func (f *fixture) key(date, start string) calendar.SlotKey {
	return calendar.SlotKey{DoctorID: f.johnson, Date: date, StartTime: start}
}

func TestBookReservesSlotAndCreatesAppointment(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
		Purpose:   "Annual checkup",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusScheduled, appt.Status)
	require.Equal(t, "09:30", appt.EndTime)
	require.True(t, f.cal.booked(f.key("2025-03-10", "09:00")))

	// Booking the same slot again fails and changes nothing.
	_, err = f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookOutsideHorizonFails(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	_, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2030-01-01",
		Time:      "09:00",
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookUnknownPatientAndDoctor(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	_, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.ErrorIs(t, err, roster.ErrPatientNotFound)

	_, err = f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  uuid.New(),
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.ErrorIs(t, err, roster.ErrDoctorNotFound)
}

func TestBookCompensatesWhenLedgerFails(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)
	f.led.createErr = errors.New("storage blew up")

	_, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.Error(t, err)

	// The reserved slot was released before the error surfaced.
	require.False(t, f.cal.booked(f.key("2025-03-10", "09:00")))

	// And the slot is bookable once storage recovers.
	f.led.createErr = nil
	_, err = f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)
}

func TestBookAutoAssignsDoctor(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)
	require.Equal(t, f.johnson, appt.DoctorID)
}

func TestBookByDoctorName(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID:  f.patient,
		DoctorName: "Dr. Johnson",
		Date:       "2025-03-10",
		Time:       "09:00",
	})
	require.NoError(t, err)
	require.Equal(t, f.johnson, appt.DoctorID)

	_, err = f.coord.Book(context.Background(), BookRequest{
		PatientID:  f.patient,
		DoctorName: "Dr. Nobody",
		Date:       "2025-03-10",
		Time:       "09:30",
	})
	require.ErrorIs(t, err, roster.ErrDoctorNotFound)
}

func TestBookNoDoctorAvailable(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	_, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		Date:      "2025-04-01", // no slots materialized
		Time:      "09:00",
	})
	require.ErrorIs(t, err, ErrNoDoctorAvailable)
}

func TestBookLenientDefaultsToTomorrowMorning(t *testing.T) {
	f := newFixture(t, config.DefaultsLenient)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
	})
	require.NoError(t, err)
	require.Equal(t, "2025-03-10", appt.Date)
	require.Equal(t, "09:00", appt.StartTime)
}

func TestBookStrictRejectsMissingDate(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	_, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Time:      "09:00",
	})
	require.ErrorIs(t, err, ErrDateRequired)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	cancelled, err := f.coord.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCancelled, cancelled.Status)
	require.False(t, f.cal.booked(f.key("2025-03-10", "09:00")))

	// Cancelling again is rejected without touching anything.
	_, err = f.coord.Cancel(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrAlreadyFinal)

	_, err = f.coord.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, ledger.ErrAppointmentNotFound)
}

func TestRescheduleMovesSlots(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	moved, err := f.coord.Reschedule(context.Background(), appt.ID, "2025-03-11", "10:00")
	require.NoError(t, err)
	require.Equal(t, "2025-03-11", moved.Date)
	require.Equal(t, "10:00", moved.StartTime)
	require.Equal(t, "10:30", moved.EndTime)
	require.Equal(t, ledger.StatusScheduled, moved.Status)

	require.False(t, f.cal.booked(f.key("2025-03-10", "09:00")))
	require.True(t, f.cal.booked(f.key("2025-03-11", "10:00")))
}

func TestRescheduleToOccupiedSlotLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	first, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	second, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:30",
	})
	require.NoError(t, err)

	_, err = f.coord.Reschedule(context.Background(), second.ID, "2025-03-10", "09:00")
	require.ErrorIs(t, err, ErrSlotUnavailable)

	// Nothing moved: both slots still booked, both rows unchanged.
	require.True(t, f.cal.booked(f.key("2025-03-10", "09:00")))
	require.True(t, f.cal.booked(f.key("2025-03-10", "09:30")))

	got, err := f.led.Get(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, "09:30", got.StartTime)

	holder, err := f.led.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, "09:00", holder.StartTime)
}

func TestRescheduleCancelledAppointment(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	_, err = f.coord.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)

	_, err = f.coord.Reschedule(context.Background(), appt.ID, "2025-03-11", "10:00")
	require.ErrorIs(t, err, ErrAlreadyFinal)

	// The target slot was not leaked by the failed attempt.
	require.False(t, f.cal.booked(f.key("2025-03-11", "10:00")))
}

func TestCancelAfterConcurrentRescheduleReleasesCurrentSlot(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	// A reschedule commits between Cancel's lookup and its critical
	// section, moving the appointment to a different slot.
	f.led.getHook = func() {
		_, err := f.coord.Reschedule(context.Background(), appt.ID, "2025-03-11", "10:00")
		require.NoError(t, err)
	}

	cancelled, err := f.coord.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCancelled, cancelled.Status)

	// Cancel must free the slot the row held at transition time, not
	// the one it read before the reschedule won.
	require.False(t, f.cal.booked(f.key("2025-03-10", "09:00")))
	require.False(t, f.cal.booked(f.key("2025-03-11", "10:00")))
}

func TestRescheduleRaceLoserCompensates(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	appt, err := f.coord.Book(context.Background(), BookRequest{
		PatientID: f.patient,
		DoctorID:  f.johnson,
		Date:      "2025-03-10",
		Time:      "09:00",
	})
	require.NoError(t, err)

	// A second reschedule commits between this one's lookup and its
	// ledger rewrite, so this one's rewrite must lose.
	f.led.getHook = func() {
		_, err := f.coord.Reschedule(context.Background(), appt.ID, "2025-03-10", "09:30")
		require.NoError(t, err)
	}

	_, err = f.coord.Reschedule(context.Background(), appt.ID, "2025-03-11", "10:00")
	require.ErrorIs(t, err, ErrAlreadyFinal)

	// The winner's slot is the only one held; the loser released its
	// reservation and the original slot was freed exactly once.
	require.False(t, f.cal.booked(f.key("2025-03-10", "09:00")))
	require.True(t, f.cal.booked(f.key("2025-03-10", "09:30")))
	require.False(t, f.cal.booked(f.key("2025-03-11", "10:00")))

	got, err := f.led.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-03-10", got.Date)
	require.Equal(t, "09:30", got.StartTime)
	require.Equal(t, ledger.StatusScheduled, got.Status)
}

func TestConcurrentBooksOneWinner(t *testing.T) {
	f := newFixture(t, config.DefaultsStrict)

	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Book(context.Background(), BookRequest{
				PatientID: f.patient,
				DoctorID:  f.johnson,
				Date:      "2025-03-10",
				Time:      "09:00",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrSlotContended):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, losses)
	require.True(t, f.cal.booked(f.key("2025-03-10", "09:00")))
}
