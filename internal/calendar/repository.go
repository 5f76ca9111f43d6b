package calendar

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotAlreadyBooked = errors.New("slot already booked")
)

// Repository contains all DB interactions needed by the calendar.
type Repository interface {
	ListTemplates(ctx context.Context) ([]TemplateWindow, error)
	InsertTemplate(ctx context.Context, w TemplateWindow) error

	// InsertSlots inserts only slots that do not already exist and
	// reports how many rows were actually written. Existing rows,
	// including their booked flags, are never touched.
	InsertSlots(ctx context.Context, slots []Slot) (int64, error)

	GetSlot(ctx context.Context, key SlotKey) (*Slot, error)
	ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error)

	// Reserve flips booked to true. It returns ErrSlotAlreadyBooked if
	// the flag was already set and ErrSlotNotFound if the slot does not
	// exist.
	Reserve(ctx context.Context, key SlotKey) error

	// Release flips booked to false. Releasing an already-free slot is
	// a no-op success so compensating rollbacks can call it blindly.
	Release(ctx context.Context, key SlotKey) error
}
