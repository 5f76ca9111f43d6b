package calendar

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memRepository mimics the insert-only and compare-and-swap semantics
// of the Postgres repository.
type memRepository struct {
	mu        sync.Mutex
	templates []TemplateWindow
	slots     map[SlotKey]*Slot
}

func newMemRepository() *memRepository {
	return &memRepository{slots: make(map[SlotKey]*Slot)}
}

func (m *memRepository) ListTemplates(ctx context.Context) ([]TemplateWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TemplateWindow(nil), m.templates...), nil
}

func (m *memRepository) InsertTemplate(ctx context.Context, w TemplateWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, w)
	return nil
}

func (m *memRepository) InsertSlots(ctx context.Context, slots []Slot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted int64
	for _, s := range slots {
		if _, exists := m.slots[s.Key()]; exists {
			continue
		}
		cp := s
		m.slots[s.Key()] = &cp
		inserted++
	}
	return inserted, nil
}

func (m *memRepository) GetSlot(ctx context.Context, key SlotKey) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepository) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date == date && !s.Booked {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *memRepository) Reserve(ctx context.Context, key SlotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Booked {
		return ErrSlotAlreadyBooked
	}
	s.Booked = true
	return nil
}

func (m *memRepository) Release(ctx context.Context, key SlotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return ErrSlotNotFound
	}
	s.Booked = false
	return nil
}

func fixedClock(date string) func() time.Time {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func testCalendar(t *testing.T, repo Repository) *Calendar {
	t.Helper()
	// 2025-03-10 is a Monday.
	return New(repo, 30*time.Minute).WithClock(fixedClock("2025-03-10"))
}

func TestMaterializeExpandsTemplate(t *testing.T) {
	repo := newMemRepository()
	doc := uuid.New()
	repo.templates = []TemplateWindow{
		{ID: uuid.New(), DoctorID: doc, DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "12:00"},
		{ID: uuid.New(), DoctorID: doc, DayOfWeek: time.Monday, StartTime: "13:00", EndTime: "17:00"},
	}

	cal := testCalendar(t, repo)

	created, err := cal.Materialize(context.Background(), 7)
	require.NoError(t, err)
	// One Monday in the horizon: 6 morning + 8 afternoon slots.
	require.EqualValues(t, 14, created)

	free, err := cal.ListFreeSlots(context.Background(), doc, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, free, 14)
	require.Equal(t, "09:00", free[0].StartTime)
	require.Equal(t, "16:30", free[13].StartTime)

	// No slots on a day with no template window.
	free, err = cal.ListFreeSlots(context.Background(), doc, "2025-03-11")
	require.NoError(t, err)
	require.Empty(t, free)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	doc := uuid.New()
	repo.templates = []TemplateWindow{
		{ID: uuid.New(), DoctorID: doc, DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "10:00"},
	}

	cal := testCalendar(t, repo)

	created, err := cal.Materialize(context.Background(), 7)
	require.NoError(t, err)
	require.EqualValues(t, 2, created)

	// Book one slot, then re-materialize: nothing is inserted and the
	// booked flag survives.
	key := SlotKey{DoctorID: doc, Date: "2025-03-10", StartTime: "09:00"}
	require.NoError(t, cal.Reserve(context.Background(), key))

	created, err = cal.Materialize(context.Background(), 7)
	require.NoError(t, err)
	require.EqualValues(t, 0, created)

	slot, err := repo.GetSlot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, slot.Booked)
}

func TestReserveSemantics(t *testing.T) {
	repo := newMemRepository()
	doc := uuid.New()
	repo.templates = []TemplateWindow{
		{ID: uuid.New(), DoctorID: doc, DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "10:00"},
	}

	cal := testCalendar(t, repo)
	_, err := cal.Materialize(context.Background(), 1)
	require.NoError(t, err)

	key := SlotKey{DoctorID: doc, Date: "2025-03-10", StartTime: "09:00"}

	require.NoError(t, cal.Reserve(context.Background(), key))
	require.ErrorIs(t, cal.Reserve(context.Background(), key), ErrSlotAlreadyBooked)

	missing := SlotKey{DoctorID: doc, Date: "2025-03-10", StartTime: "20:00"}
	require.ErrorIs(t, cal.Reserve(context.Background(), missing), ErrSlotNotFound)

	require.NoError(t, cal.Release(context.Background(), key))
	// Idempotent release.
	require.NoError(t, cal.Release(context.Background(), key))
	require.ErrorIs(t, cal.Release(context.Background(), missing), ErrSlotNotFound)
}

func TestListFreeSlotsRejectsBadDate(t *testing.T) {
	cal := testCalendar(t, newMemRepository())
	_, err := cal.ListFreeSlots(context.Background(), uuid.New(), "10/03/2025")
	require.Error(t, err)
}
