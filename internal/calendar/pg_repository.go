package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Booked,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) ListTemplates(ctx context.Context) ([]TemplateWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time
		FROM availability_templates
		ORDER BY doctor_id, day_of_week, start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TemplateWindow
	for rows.Next() {
		var w TemplateWindow
		var dow int
		if err := rows.Scan(&w.ID, &w.DoctorID, &dow, &w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		w.DayOfWeek = time.Weekday(dow)
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertTemplate(ctx context.Context, w TemplateWindow) error {
	id := w.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_templates (id, doctor_id, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, day_of_week, start_time) DO NOTHING
	`, id, w.DoctorID, int(w.DayOfWeek), w.StartTime, w.EndTime)
	if err != nil {
		return fmt.Errorf("insert template window: %w", err)
	}

	return nil
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) (int64, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, s := range slots {
		tag, err := tx.Exec(ctx, `
			INSERT INTO slots (doctor_id, slot_date, start_time, end_time, booked, created_at)
			VALUES ($1, $2, $3, $4, false, now())
			ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
		`, s.DoctorID, s.Date, s.StartTime, s.EndTime)
		if err != nil {
			return 0, fmt.Errorf("insert slot %s: %w", s.Key(), err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return inserted, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, key SlotKey) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, slot_date, start_time, end_time, booked, created_at
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime)
	return scanSlot(row)
}

func (r *PgRepository) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, slot_date, start_time, end_time, booked, created_at
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2 AND booked = false
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Reserve is a compare-and-swap on the booked flag. The conditional
// UPDATE keeps the database authoritative even if the distributed lock
// around it ever expires mid-flight.
func (r *PgRepository) Reserve(ctx context.Context, key SlotKey) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET booked = true
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3
		  AND booked = false
	`, key.DoctorID, key.Date, key.StartTime)
	if err != nil {
		return fmt.Errorf("reserve slot %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// No row changed: distinguish missing from already booked.
	if _, err := r.GetSlot(ctx, key); err != nil {
		return err
	}
	return ErrSlotAlreadyBooked
}

func (r *PgRepository) Release(ctx context.Context, key SlotKey) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET booked = false
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime)
	if err != nil {
		return fmt.Errorf("release slot %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}
