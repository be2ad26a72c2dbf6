package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"train-ticketing/database"
	"train-ticketing/models"
)

// SQLite keeps seat counts in the seat_inventory table of an embedded
// database. SQLite serializes writers, so the conditional UPDATE is atomic.
type SQLite struct {
	pool *database.SQLitePool
}

// NewSQLite wraps an open pool
func NewSQLite(pool *database.SQLitePool) *SQLite {
	return &SQLite{pool: pool}
}

// Provision creates the cell or overwrites its count
func (l *SQLite) Provision(ctx context.Context, scheduleID string, class models.FareClass, count int) error {
	if err := checkCount(count); err != nil {
		return err
	}
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO seat_inventory (schedule_id, fare_class, available) VALUES (?, ?, ?)
		ON CONFLICT (schedule_id, fare_class) DO UPDATE SET available = excluded.available`,
		&sqlitex.ExecOptions{Args: []any{scheduleID, string(class), count}})
	if err != nil {
		return fmt.Errorf("failed to provision seats: %w", err)
	}
	return nil
}

// TryReserve decrements the cell by n iff at least n seats remain. The
// update and the existence probe share one IMMEDIATE transaction.
func (l *SQLite) TryReserve(ctx context.Context, scheduleID string, class models.FareClass, n int) (reserved bool, err error) {
	if err := checkUnits(n); err != nil {
		return false, err
	}
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		UPDATE seat_inventory SET available = available - ?
		WHERE schedule_id = ? AND fare_class = ? AND available >= ?`,
		&sqlitex.ExecOptions{Args: []any{n, scheduleID, string(class), n}})
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}
	if conn.Changes() == 1 {
		return true, nil
	}

	if _, err = available(conn, scheduleID, class); err != nil {
		return false, err
	}
	return false, nil
}

// Release increments the cell by n
func (l *SQLite) Release(ctx context.Context, scheduleID string, class models.FareClass, n int) error {
	if err := checkUnits(n); err != nil {
		return err
	}
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE seat_inventory SET available = available + ?
		WHERE schedule_id = ? AND fare_class = ?`,
		&sqlitex.ExecOptions{Args: []any{n, scheduleID, string(class)}})
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	if conn.Changes() == 0 {
		return unknownCell(scheduleID, class)
	}
	return nil
}

// Available returns the current count of the cell
func (l *SQLite) Available(ctx context.Context, scheduleID string, class models.FareClass) (int, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer l.pool.Put(conn)
	return available(conn, scheduleID, class)
}

func available(conn *sqlite.Conn, scheduleID string, class models.FareClass) (int, error) {
	count, found := 0, false
	err := sqlitex.Execute(conn, `
		SELECT available FROM seat_inventory WHERE schedule_id = ? AND fare_class = ?`,
		&sqlitex.ExecOptions{
			Args: []any{scheduleID, string(class)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("failed to read seat availability: %w", err)
	}
	if !found {
		return 0, unknownCell(scheduleID, class)
	}
	return count, nil
}
