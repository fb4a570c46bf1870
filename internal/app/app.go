package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"fict-go/internal/config"
	"fict-go/internal/database"
	"fict-go/internal/fict"
	"fict-go/internal/httpapi"
)

// App is the composition layer between the CLI and the service: it builds
// every dependency from config and manages their lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   *database.SQLiteStore
	service *fict.Service
	server  *httpapi.Server
	logger  fict.Logger
	logFile *os.File
}

// New creates a fully wired App from the given config. The caller must call
// Close when done.
func New(cfg *config.Config) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database, fict.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	lockDuration := time.Duration(cfg.Lock.DurationSeconds) * time.Second
	if lockDuration <= 0 {
		lockDuration = config.DefaultLockDurationSeconds * time.Second
	}

	service := fict.NewService(store, logger, fict.RealClock{}, lockDuration)
	server := httpapi.NewServer(service, store, logger)

	return &App{
		cfg:     cfg,
		store:   store,
		service: service,
		server:  server,
		logger:  logger,
		logFile: logFile,
	}, nil
}

// Store exposes the record store for CLI administration commands.
func (a *App) Store() *database.SQLiteStore { return a.store }

// Service exposes the core service.
func (a *App) Service() *fict.Service { return a.service }

// Run serves the HTTP API until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.cfg.ServerAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	a.logger.Info("serving collaborative fiction API", "addr", a.cfg.ServerAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	}
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		firstErr = a.store.Close()
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
