package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// postgresSchema creates every table the stores and the seat ledger use.
// Statements are idempotent so RunMigrations is safe on every start.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		id                TEXT PRIMARY KEY,
		train_number      TEXT NOT NULL,
		departure_station TEXT NOT NULL,
		arrival_station   TEXT NOT NULL,
		departure_time    TIMESTAMPTZ NOT NULL,
		arrival_time      TIMESTAMPTZ NOT NULL,
		status            TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS schedules_route_idx
		ON schedules (departure_station, arrival_station, departure_time)`,
	`CREATE TABLE IF NOT EXISTS schedule_fares (
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		fare_class  TEXT NOT NULL,
		price       BIGINT NOT NULL,
		capacity    INTEGER NOT NULL,
		PRIMARY KEY (schedule_id, fare_class)
	)`,
	`CREATE TABLE IF NOT EXISTS seat_inventory (
		schedule_id TEXT NOT NULL,
		fare_class  TEXT NOT NULL,
		available   INTEGER NOT NULL CHECK (available >= 0),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (schedule_id, fare_class)
	)`,
	`CREATE TABLE IF NOT EXISTS passengers (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		id_number  TEXT NOT NULL,
		phone      TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, id_number)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		order_type        TEXT NOT NULL,
		total_amount      BIGINT NOT NULL,
		payment_status    TEXT NOT NULL,
		order_status      TEXT NOT NULL,
		original_order_id TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		order_id       TEXT NOT NULL REFERENCES orders(id),
		schedule_id    TEXT NOT NULL,
		passenger_id   TEXT NOT NULL,
		passenger_name TEXT NOT NULL,
		fare_class     TEXT NOT NULL,
		seat_number    TEXT NOT NULL DEFAULT '',
		price_paid     BIGINT NOT NULL,
		ticket_status  TEXT NOT NULL,
		rebooked_from  TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_user_idx ON tickets (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS tickets_order_idx ON tickets (order_id)`,
	`CREATE INDEX IF NOT EXISTS tickets_status_idx ON tickets (ticket_status, updated_at)`,
}

// RunMigrations ensures all required tables exist
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	logger.Info("Checking database schema...")

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	logger.Info("Database schema is up to date")
	return nil
}
