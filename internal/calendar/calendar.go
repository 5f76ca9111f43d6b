package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Calendar materializes the weekly availability template into dated
// slots and owns slot state queries and mutation.
type Calendar struct {
	repo      Repository
	increment time.Duration
	now       func() time.Time
}

func New(repo Repository, increment time.Duration) *Calendar {
	return &Calendar{
		repo:      repo,
		increment: increment,
		now:       time.Now,
	}
}

// Increment returns the configured slot duration.
func (c *Calendar) Increment() time.Duration {
	return c.increment
}

// Today returns the current date in DateLayout.
func (c *Calendar) Today() string {
	return c.now().Format(DateLayout)
}

// Materialize generates slots for every doctor and every date in
// [today, today+horizonDays). Idempotent: only absent rows are
// inserted, existing booked flags are never reset. Returns the number
// of slots actually created.
func (c *Calendar) Materialize(ctx context.Context, horizonDays int) (int64, error) {
	templates, err := c.repo.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}

	byWeekday := make(map[time.Weekday][]TemplateWindow)
	for _, w := range templates {
		byWeekday[w.DayOfWeek] = append(byWeekday[w.DayOfWeek], w)
	}

	today := c.now()
	var batch []Slot
	for offset := 0; offset < horizonDays; offset++ {
		day := today.AddDate(0, 0, offset)
		date := day.Format(DateLayout)
		for _, w := range byWeekday[day.Weekday()] {
			slots, err := expandWindow(date, w, c.increment)
			if err != nil {
				return 0, fmt.Errorf("expand window %s: %w", w.ID, err)
			}
			batch = append(batch, slots...)
		}
	}

	inserted, err := c.repo.InsertSlots(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", err)
	}

	return inserted, nil
}

// ListFreeSlots returns the unbooked slots for a doctor on a date,
// ascending by start time.
func (c *Calendar) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	return c.repo.ListFreeSlots(ctx, doctorID, date)
}

// Reserve marks a slot booked. Returns ErrSlotAlreadyBooked or
// ErrSlotNotFound on failure.
func (c *Calendar) Reserve(ctx context.Context, key SlotKey) error {
	return c.repo.Reserve(ctx, key)
}

// Release marks a slot free. Idempotent for already-free slots.
func (c *Calendar) Release(ctx context.Context, key SlotKey) error {
	return c.repo.Release(ctx, key)
}

// EndTime returns the end of a slot beginning at start.
func (c *Calendar) EndTime(start string) (string, error) {
	return AddIncrement(start, c.increment)
}

// WithClock overrides the time source. Test hook.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	c.now = now
	return c
}
