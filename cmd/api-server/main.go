package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicdesk/scheduling-engine/internal/api"
	"github.com/clinicdesk/scheduling-engine/internal/booking"
	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
	"github.com/clinicdesk/scheduling-engine/internal/ledger"
	"github.com/clinicdesk/scheduling-engine/internal/query"
	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s increment=%s horizon_days=%d defaults=%s",
		cfg.Env, cfg.HTTPPort, cfg.SlotIncrement, cfg.HorizonDays, cfg.BookingDefaults)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		log.Fatalf("schema migration error: %v", err)
	}

	// Connect Redis
	rdb, err := redisclient.New(cfg)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	cal := calendar.New(calendar.NewPgRepository(pgPool), cfg.SlotIncrement)
	led := ledger.New(ledger.NewPgRepository(pgPool))
	ros := roster.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	policy := booking.NewUniformRandom(time.Now().UnixNano())

	coordinator := booking.NewCoordinator(cal, led, ros, locker, policy, cfg.BookingDefaults)
	queries := query.NewService(led, cal, ros)

	// Make sure the horizon is populated before taking traffic; the
	// horizon-worker keeps it rolling afterwards.
	matCtx, cancelMat := context.WithTimeout(rootCtx, 60*time.Second)
	created, err := cal.Materialize(matCtx, cfg.HorizonDays)
	cancelMat()
	if err != nil {
		log.Fatalf("initial slot materialization error: %v", err)
	}
	log.Printf("materialized horizon: %d new slots", created)

	handler := api.NewRouter(api.RouterConfig{
		Coordinator: coordinator,
		Queries:     queries,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}

	log.Println("api-server stopped")
}
