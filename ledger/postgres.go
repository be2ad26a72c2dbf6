package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"train-ticketing/models"
)

// Postgres keeps seat counts in the seat_inventory table. Reservation is a
// single conditional UPDATE, so the row lock is held only for that statement.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database; the schema comes from database.RunMigrations
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Provision creates the cell or overwrites its count
func (l *Postgres) Provision(ctx context.Context, scheduleID string, class models.FareClass, count int) error {
	if err := checkCount(count); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO seat_inventory (schedule_id, fare_class, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (schedule_id, fare_class)
		DO UPDATE SET available = EXCLUDED.available, updated_at = now()
	`, scheduleID, string(class), count)
	if err != nil {
		return fmt.Errorf("failed to provision seats: %w", err)
	}
	return nil
}

// TryReserve decrements the cell by n iff at least n seats remain
func (l *Postgres) TryReserve(ctx context.Context, scheduleID string, class models.FareClass, n int) (bool, error) {
	if err := checkUnits(n); err != nil {
		return false, err
	}
	result, err := l.db.ExecContext(ctx, `
		UPDATE seat_inventory
		SET available = available - $1, updated_at = now()
		WHERE schedule_id = $2 AND fare_class = $3 AND available >= $1
	`, n, scheduleID, string(class))
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Zero rows: either the cell is missing or it ran out
	if _, err := l.Available(ctx, scheduleID, class); err != nil {
		return false, err
	}
	return false, nil
}

// Release increments the cell by n
func (l *Postgres) Release(ctx context.Context, scheduleID string, class models.FareClass, n int) error {
	if err := checkUnits(n); err != nil {
		return err
	}
	result, err := l.db.ExecContext(ctx, `
		UPDATE seat_inventory
		SET available = available + $1, updated_at = now()
		WHERE schedule_id = $2 AND fare_class = $3
	`, n, scheduleID, string(class))
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	if rows == 0 {
		return unknownCell(scheduleID, class)
	}
	return nil
}

// Available returns the current count of the cell
func (l *Postgres) Available(ctx context.Context, scheduleID string, class models.FareClass) (int, error) {
	var available int
	err := l.db.QueryRowContext(ctx, `
		SELECT available FROM seat_inventory
		WHERE schedule_id = $1 AND fare_class = $2
	`, scheduleID, string(class)).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, unknownCell(scheduleID, class)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seat availability: %w", err)
	}
	return available, nil
}
