package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"train-ticketing/config"
)

// ConnString builds the lib/pq connection string for the configured database
func ConnString(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	)
}

// Connect establishes a connection to the PostgreSQL database
func Connect(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sql.DB, error) {
	return Open(ctx, ConnString(cfg), 30, 2*time.Second, logger)
}

// Open opens a PostgreSQL pool and pings it until it answers or the retry
// budget is spent
func Open(ctx context.Context, connStr string, maxRetries int, backoff time.Duration, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection with retries
	for i := 0; i < maxRetries; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			logger.Info("Successfully connected to database")
			return db, nil
		}
		logger.Warnf("Failed to connect to database (attempt %d/%d): %v", i+1, maxRetries, err)

		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	db.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}
