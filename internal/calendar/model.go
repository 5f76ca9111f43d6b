package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the wire and storage format for calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire and storage format for times of day.
	TimeLayout = "15:04"
)

// SlotKey is the natural identity of a slot.
type SlotKey struct {
	DoctorID  uuid.UUID
	Date      string // DateLayout
	StartTime string // TimeLayout
}

// LockKey returns the string used to key the distributed slot lock.
func (k SlotKey) LockKey() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date, k.StartTime)
}

func (k SlotKey) String() string {
	return k.LockKey()
}

// Slot is one bookable increment of a doctor's day.
type Slot struct {
	DoctorID  uuid.UUID
	Date      string
	StartTime string
	EndTime   string
	Booked    bool
	CreatedAt time.Time
}

func (s Slot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, Date: s.Date, StartTime: s.StartTime}
}

// TemplateWindow is one recurring weekly working window for a doctor.
// Multiple non-overlapping windows per weekday are allowed.
type TemplateWindow struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime string
	EndTime   string
}

// ParseDate validates a DateLayout string and returns its time value.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseTimeOfDay validates a TimeLayout string and returns minutes
// since midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// AddIncrement returns start shifted forward by inc, in TimeLayout.
// The caller guarantees start is valid and the result stays within the
// same day.
func AddIncrement(start string, inc time.Duration) (string, error) {
	m, err := ParseTimeOfDay(start)
	if err != nil {
		return "", err
	}
	end := m + int(inc.Minutes())
	if end >= 24*60 {
		return "", fmt.Errorf("slot end %d minutes past midnight", end-24*60)
	}
	return formatMinutes(end), nil
}
