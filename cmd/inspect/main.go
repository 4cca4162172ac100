package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"busticket/internal/config"
	"busticket/internal/infrastructure/postgres"

	"github.com/jackc/pgx/v5"
)

func main() {
	fix := flag.Bool("fix", false, "requeue failed outbox events with a fresh attempt budget")
	limit := flag.Int("limit", 5, "rows to show per table")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	dsn := postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
	}.DSN()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	if *fix {
		tag, err := conn.Exec(ctx, "UPDATE outbox SET status = 'new', attempts = 0, updated_at = NOW() WHERE status = 'failed'")
		if err != nil {
			fmt.Printf("Requeue failed: %v\n", err)
		} else {
			fmt.Printf("Requeued %d events\n", tag.RowsAffected())
		}
	}

	fmt.Println("--- Bookings ---")
	rows, err := conn.Query(ctx, "SELECT id, trip_id, phase, status, payment_status, updated_at FROM bookings ORDER BY created_at DESC LIMIT $1", *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query bookings: %v\n", err)
		os.Exit(1)
	}
	for rows.Next() {
		var id, tripID, phase, status, paymentStatus string
		var updatedAt time.Time
		if err := rows.Scan(&id, &tripID, &phase, &status, &paymentStatus, &updatedAt); err != nil {
			fmt.Fprintf(os.Stderr, "Scan booking: %v\n", err)
			break
		}
		fmt.Printf("ID: %s | Trip: %s | Phase: %s | Status: %s | Payment: %s | Updated: %s\n",
			id, tripID, phase, status, paymentStatus, updatedAt.Format(time.RFC3339))
	}
	rows.Close()

	fmt.Println("\n--- Outbox ---")
	rows, err = conn.Query(ctx, "SELECT id, status, attempts, event_type, COALESCE(correlation_id, '') FROM outbox ORDER BY created_at DESC LIMIT $1", *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query outbox: %v\n", err)
		os.Exit(1)
	}
	for rows.Next() {
		var id, status, eventType, correlationID string
		var attempts int
		if err := rows.Scan(&id, &status, &attempts, &eventType, &correlationID); err != nil {
			fmt.Fprintf(os.Stderr, "Scan outbox: %v\n", err)
			break
		}
		fmt.Printf("ID: %s | Status: %s (%d attempts) | Type: %s | Booking: %s\n", id, status, attempts, eventType, correlationID)
	}
	rows.Close()
}
