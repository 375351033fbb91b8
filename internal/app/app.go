// Package app wires configuration, storage, the transaction engine, the
// scheduler and the HTTP server into one runnable unit.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/muhammad-Osman/library-Inventory/internal/config"
	"github.com/muhammad-Osman/library-Inventory/internal/inventory"
	"github.com/muhammad-Osman/library-Inventory/internal/notify"
	"github.com/muhammad-Osman/library-Inventory/internal/scheduler"
	"github.com/muhammad-Osman/library-Inventory/internal/seed"
	"github.com/muhammad-Osman/library-Inventory/internal/server"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
	"github.com/muhammad-Osman/library-Inventory/internal/storage/postgres"
	"github.com/muhammad-Osman/library-Inventory/internal/storage/stubs"
	"github.com/muhammad-Osman/library-Inventory/internal/wallet"
)

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	store  storage.Store
	sched  *scheduler.Scheduler
	server *server.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting library inventory service")

	if err := app.initStore(); err != nil {
		return nil, err
	}
	app.initEngine()

	return app, nil
}

// initStore initializes the database connection
func (a *App) initStore() error {
	var store storage.Store
	if a.config.UseMockDB {
		a.logger.Info("Using in-memory store")
		store = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to Postgres",
			zap.String("host", a.config.DBHost),
			zap.Int("port", a.config.DBPort),
			zap.String("database", a.config.DBName),
			zap.String("user", a.config.DBUser),
		)
		pg, err := postgres.New(
			a.config.DBHost,
			a.config.DBPort,
			a.config.DBName,
			a.config.DBUser,
			a.config.DBPassword,
			a.config.DBSSLMode,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		store = pg
	}

	if err := store.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	a.store = store
	return nil
}

// initEngine builds the notifier, ledger, scheduler, transaction engine and
// HTTP server on top of the store.
func (a *App) initEngine() {
	var notifier notify.Notifier
	if a.config.SMTPHost != "" {
		smtp, err := notify.NewSMTP(
			a.config.SMTPHost,
			a.config.SMTPPort,
			a.config.SMTPUser,
			a.config.SMTPPassword,
			a.config.MailFrom,
			a.logger,
		)
		if err != nil {
			a.logger.Warn("SMTP setup failed, falling back to log notifier", zap.Error(err))
			notifier = notify.NewLog(a.logger)
		} else {
			notifier = smtp
		}
	} else {
		notifier = notify.NewLog(a.logger)
	}

	ledger := wallet.NewLedger(notifier, a.logger, a.config.MilestoneThreshold)
	a.sched = scheduler.New(a.store, ledger, notifier, a.logger)

	engine := inventory.NewService(a.store, ledger, a.sched, a.logger, inventory.Config{
		LoanPeriod:   a.config.LoanPeriod,
		RestockDelay: a.config.RestockDelay,
	})

	a.server = server.New(a.store, engine, a.logger)
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Seeding runs in the background so a slow or broken seed file never
	// blocks the listener.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := seed.Run(ctx, a.store, a.config.SeedFile, a.logger); err != nil {
			a.logger.Error("Seeding failed", zap.Error(err))
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("port", a.config.Port))
		if err := a.server.Listen(":" + a.config.Port); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		a.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		a.logger.Error("HTTP server error", zap.Error(err))
		return a.shutdownWith(err)
	}

	return a.shutdownWith(nil)
}

func (a *App) shutdownWith(cause error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	a.sched.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store", zap.Error(err))
	}

	_ = a.logger.Sync()
	return cause
}
