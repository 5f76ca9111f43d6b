package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apptColumns = `id, patient_id, doctor_id, appt_date, start_time, end_time, purpose, status, notes, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Purpose,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) Insert(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (`+apptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+apptColumns+`
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.Date, appt.StartTime, appt.EndTime,
		appt.Purpose, appt.Status, appt.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, fromDate, fromStart, date, start, end string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2,
		    start_time = $3,
		    end_time = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		  AND appt_date = $6
		  AND start_time = $7
		RETURNING `+apptColumns+`
	`, id, date, start, end, StatusScheduled, fromDate, fromStart)

	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, today string, filter TimelineFilter) ([]Appointment, error) {
	var (
		rows pgx.Rows
		err  error
	)

	switch filter {
	case FilterUpcoming:
		rows, err = r.pool.Query(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE patient_id = $1 AND appt_date >= $2 AND status = $3
			ORDER BY appt_date, start_time
		`, patientID, today, StatusScheduled)
	case FilterPast:
		rows, err = r.pool.Query(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE patient_id = $1
			  AND (appt_date < $2 OR status IN ($3, $4, $5))
			ORDER BY appt_date DESC, start_time DESC
		`, patientID, today, StatusCompleted, StatusCancelled, StatusNoShow)
	default:
		return nil, fmt.Errorf("unknown timeline filter %q", filter)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) NextForPatient(ctx context.Context, patientID uuid.UUID, today string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE patient_id = $1 AND appt_date >= $2 AND status = $3
		ORDER BY appt_date, start_time
		LIMIT 1
	`, patientID, today, StatusScheduled)
	return scanAppointment(row)
}
