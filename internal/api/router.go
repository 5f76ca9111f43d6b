package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Coordinator Coordinator
	Queries     Queries
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking commands
	r.Post("/bookings", bookHandler(cfg.Coordinator))
	r.Post("/bookings/{id}/cancel", cancelHandler(cfg.Coordinator))
	r.Post("/bookings/{id}/reschedule", rescheduleHandler(cfg.Coordinator))

	// Read projections
	r.Get("/patients/{id}/appointments", listAppointmentsHandler(cfg.Queries))
	r.Get("/patients/{id}/appointments/next", nextAppointmentHandler(cfg.Queries))
	r.Get("/doctors", listDoctorsHandler(cfg.Queries))
	r.Get("/doctors/{id}/slots", listDoctorSlotsHandler(cfg.Queries))

	return r
}
