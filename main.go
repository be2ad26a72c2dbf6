package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"train-ticketing/config"
	"train-ticketing/database"
	"train-ticketing/gateway"
	"train-ticketing/handlers"
	"train-ticketing/ledger"
	"train-ticketing/policy"
	"train-ticketing/seed"
	"train-ticketing/services"
	"train-ticketing/store"
)

// recordStore is what every store backend provides
type recordStore interface {
	services.ScheduleStore
	services.OrderTicketStore
	services.PassengerStore
}

// backends owns the connections opened for the selected store and ledger
type backends struct {
	db     *sql.DB
	pool   *database.SQLitePool
	redis  *redis.Client
	store  recordStore
	ledger services.SeatLedger
}

func (b *backends) Close() {
	if b.db != nil {
		b.db.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
}

func (b *backends) postgres(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sql.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	b.db = db
	return db, nil
}

func (b *backends) sqlite(cfg *config.Config, logger *logrus.Logger) (*database.SQLitePool, error) {
	if b.pool != nil {
		return b.pool, nil
	}
	pool, err := database.OpenSQLite(database.SQLiteConfig{Path: cfg.SQLitePath, Logger: logger})
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return pool, nil
}

func openBackends(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := b.postgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.store = store.NewPostgres(db)
	case config.BackendSQLite:
		pool, err := b.sqlite(cfg, logger)
		if err != nil {
			return nil, err
		}
		b.store = store.NewSQLite(pool)
	default:
		b.store = store.NewMemory()
	}

	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		db, err := b.postgres(ctx, cfg, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ledger = ledger.NewPostgres(db)
	case config.BackendSQLite:
		pool, err := b.sqlite(cfg, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ledger = ledger.NewSQLite(pool)
	case config.BackendRedis:
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		b.ledger = ledger.NewRedis(b.redis, "ticketing:")
	default:
		b.ledger = ledger.NewMemory()
	}

	logger.WithFields(logrus.Fields{
		"store":  cfg.StoreBackend,
		"ledger": cfg.LedgerBackend,
	}).Info("Storage backends ready")
	return b, nil
}

func main() {
	envFile := pflag.String("env-file", "", "dotenv file to load before reading the environment")
	seedFile := pflag.String("seed", "", "seed catalog to apply at startup (default: embedded demo catalog)")
	noSeed := pflag.Bool("no-seed", false, "skip seeding")
	storeBackend := pflag.String("store", "", "record store: memory, postgres or sqlite")
	ledgerBackend := pflag.String("ledger", "", "seat ledger: memory, postgres, sqlite or redis")
	port := pflag.String("port", "", "HTTP listen port")
	pflag.Parse()

	// Load configuration
	var cfg *config.Config
	if *envFile != "" {
		cfg = config.Load(*envFile)
	} else {
		cfg = config.Load()
	}
	if *storeBackend != "" {
		cfg.StoreBackend = *storeBackend
		if *ledgerBackend == "" && os.Getenv("LEDGER_BACKEND") == "" {
			// Let the ledger follow the store again
			cfg.LedgerBackend = ""
		}
	}
	if *ledgerBackend != "" {
		cfg.LedgerBackend = *ledgerBackend
	}
	if *seedFile != "" {
		cfg.SeedFile = *seedFile
	}
	if *port != "" {
		cfg.ServerPort = *port
	}
	cfg.Normalize()

	logger := cfg.NewLogger()
	logger.Info("Starting Train Ticketing System")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer b.Close()

	authz, err := policy.New(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load authorization policy")
	}

	schedules := services.NewScheduleService(b.store, b.ledger, logger)
	passengers := services.NewPassengerService(b.store, authz, logger)
	tickets := services.NewTicketService(services.TicketDeps{
		Schedules:  b.store,
		Ledger:     b.ledger,
		Identity:   gateway.NewSimulatedIdentity(cfg.IdentityLatency, logger),
		Payments:   gateway.NewSimulatedPayment(cfg.PaymentLatency, cfg.PaymentFailRate, logger),
		Store:      b.store,
		Passengers: b.store,
		Authz:      authz,
		Logger:     logger,
	}, services.TicketConfig{
		PaymentTimeout:  cfg.PaymentTimeout,
		IdentityTimeout: cfg.IdentityTimeout,
	})

	if !*noSeed {
		if err := applySeed(ctx, cfg, schedules, passengers, logger); err != nil {
			logger.WithError(err).Fatal("Failed to seed catalog")
		}
	}

	reconciler := services.NewReconciler(tickets, cfg.ReconcileStaleAfter)
	go reconciler.Run(ctx, cfg.ReconcileInterval)

	// Set Gin to release mode in production
	if os.Getenv("GIN_MODE") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(&handlers.Handler{
		Schedules:  schedules,
		Tickets:    tickets,
		Orders:     services.NewOrderService(b.store, authz),
		Passengers: passengers,
		Logger:     logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func applySeed(ctx context.Context, cfg *config.Config, schedules *services.ScheduleService, passengers *services.PassengerService, logger *logrus.Logger) error {
	var (
		catalog *seed.Catalog
		err     error
	)
	if cfg.SeedFile != "" {
		catalog, err = seed.LoadCatalog(cfg.SeedFile)
	} else {
		catalog, err = seed.Default()
	}
	if err != nil {
		return err
	}
	_, err = catalog.Apply(ctx, schedules, passengers, logger)
	return err
}
