package database

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteConfig holds the parameters for opening a SQLite connection pool
type SQLiteConfig struct {
	// Path is the database file; it is created when missing
	Path string
	// PoolSize defaults to max(runtime.NumCPU(), 4)
	PoolSize int
	Logger   *logrus.Logger
}

// SQLitePool is a fixed-size pool of SQLite connections sharing one schema.
// Individual connections are not safe for concurrent use; each goroutine
// must Take its own and Put it back.
type SQLitePool struct {
	inner  *sqlitex.Pool
	logger *logrus.Logger
	path   string
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

// OpenSQLite creates the pool and applies the schema on every connection
func OpenSQLite(cfg SQLiteConfig) (*SQLitePool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	logger.WithFields(logrus.Fields{"path": cfg.Path, "pool_size": poolSize}).Info("sqlite pool opened")

	return &SQLitePool{inner: inner, logger: logger, path: cfg.Path}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	for _, pragma := range sqlitePragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return nil
}

// Take borrows a connection. Put must be called when done.
func (p *SQLitePool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool
func (p *SQLitePool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, waiting for borrowed ones to be returned
func (p *SQLitePool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.WithError(err).WithField("path", p.path).Error("sqlite pool close error")
		return fmt.Errorf("sqlite: closing %s: %w", p.path, err)
	}
	p.logger.WithField("path", p.path).Info("sqlite pool closed")
	return nil
}

// Times are stored as unix nanoseconds; money as integer minor units.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schedules (
	id                TEXT PRIMARY KEY,
	train_number      TEXT NOT NULL,
	departure_station TEXT NOT NULL,
	arrival_station   TEXT NOT NULL,
	departure_time    INTEGER NOT NULL,
	arrival_time      INTEGER NOT NULL,
	status            TEXT NOT NULL,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS schedules_route_idx
	ON schedules (departure_station, arrival_station, departure_time);
CREATE TABLE IF NOT EXISTS schedule_fares (
	schedule_id TEXT NOT NULL,
	fare_class  TEXT NOT NULL,
	price       INTEGER NOT NULL,
	capacity    INTEGER NOT NULL,
	PRIMARY KEY (schedule_id, fare_class)
);
CREATE TABLE IF NOT EXISTS seat_inventory (
	schedule_id TEXT NOT NULL,
	fare_class  TEXT NOT NULL,
	available   INTEGER NOT NULL CHECK (available >= 0),
	PRIMARY KEY (schedule_id, fare_class)
);
CREATE TABLE IF NOT EXISTS passengers (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	id_number  TEXT NOT NULL,
	phone      TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (user_id, id_number)
);
CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	order_type        TEXT NOT NULL,
	total_amount      INTEGER NOT NULL,
	payment_status    TEXT NOT NULL,
	order_status      TEXT NOT NULL,
	original_order_id TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, created_at);
CREATE TABLE IF NOT EXISTS tickets (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	order_id       TEXT NOT NULL,
	schedule_id    TEXT NOT NULL,
	passenger_id   TEXT NOT NULL,
	passenger_name TEXT NOT NULL,
	fare_class     TEXT NOT NULL,
	seat_number    TEXT NOT NULL DEFAULT '',
	price_paid     INTEGER NOT NULL,
	ticket_status  TEXT NOT NULL,
	rebooked_from  TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tickets_user_idx ON tickets (user_id, created_at);
CREATE INDEX IF NOT EXISTS tickets_order_idx ON tickets (order_id);
CREATE INDEX IF NOT EXISTS tickets_status_idx ON tickets (ticket_status, updated_at);
`
