package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
)

// The horizon worker keeps the rolling slot window materialized: every
// interval it expands the weekly template for [today, today+horizon).
// Materialization is insert-only, so running it alongside live bookings
// is safe.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("horizon-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running horizon worker in env=%s interval=%s horizon_days=%d",
		cfg.Env, cfg.WorkerInterval, cfg.HorizonDays)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	cal := calendar.New(calendar.NewPgRepository(pgPool), cfg.SlotIncrement)

	// Run once at startup
	runOnce(rootCtx, cal, cfg.HorizonDays)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping horizon worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, cal, cfg.HorizonDays)
		}
	}
}

func runOnce(ctx context.Context, cal *calendar.Calendar, horizonDays int) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	created, err := cal.Materialize(runCtx, horizonDays)
	if err != nil {
		log.Printf("materialize run error: %v", err)
		return
	}
	log.Printf("materialize run complete created=%d duration=%s", created, time.Since(start))
}
