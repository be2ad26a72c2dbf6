package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenSQLiteAppliesSchema(t *testing.T) {
	pool, err := OpenSQLite(SQLiteConfig{
		Path:     filepath.Join(t.TempDir(), "tickets.db"),
		PoolSize: 2,
		Logger:   logrus.New(),
	})
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	var tables []string
	err = sqlitex.Execute(conn, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tables = append(tables, stmt.ColumnText(0))
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "passengers", "schedule_fares", "schedules", "seat_inventory", "tickets"}, tables)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestSeatInventoryRejectsNegative(t *testing.T) {
	pool, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "check.db"), PoolSize: 1})
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO seat_inventory (schedule_id, fare_class, available) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{"S1", "SecondClass", -1},
	})
	assert.Error(t, err)
}
