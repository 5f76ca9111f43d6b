package roster

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
)

// Repository contains all DB interactions needed for the clinic roster.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDoctorByName(ctx context.Context, name string) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
}
