package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Dates and times-of-day are stored as ISO-8601 text ("2006-01-02",
// "15:04") so lexicographic ordering is chronological ordering and the
// wire format survives storage unchanged.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		email text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS doctors (
		id uuid PRIMARY KEY,
		name text NOT NULL UNIQUE,
		specialty text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS availability_templates (
		id uuid PRIMARY KEY,
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		day_of_week int NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
		start_time text NOT NULL,
		end_time text NOT NULL,
		UNIQUE (doctor_id, day_of_week, start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		slot_date text NOT NULL,
		start_time text NOT NULL,
		end_time text NOT NULL,
		booked boolean NOT NULL DEFAULT false,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (doctor_id, slot_date, start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id uuid PRIMARY KEY,
		patient_id uuid NOT NULL REFERENCES patients(id),
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		appt_date text NOT NULL,
		start_time text NOT NULL,
		end_time text NOT NULL,
		purpose text NOT NULL DEFAULT '',
		status text NOT NULL CHECK (status IN ('Scheduled','Completed','Cancelled','No-show')),
		notes text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_patient_idx
		ON appointments (patient_id, appt_date, start_time)`,
}

// Migrate applies the schema. Every statement is idempotent so the call
// is safe on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
