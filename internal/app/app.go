// Package app assembles the long-lived pieces of the program:
// configuration, logging, crypto, storage, auth, and sync.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hnguyen/mailbox/internal/auth"
	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/crypto"
	"github.com/hnguyen/mailbox/internal/instrumentation"
	"github.com/hnguyen/mailbox/internal/logging"
	"github.com/hnguyen/mailbox/internal/store"
	"github.com/hnguyen/mailbox/internal/sync"
)

// App holds every component a command needs. Commands receive one App
// and never construct components themselves.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Cipher    *crypto.Cipher
	Store     *store.SQLiteStore
	Auth      *auth.Manager
	Sync      *sync.Manager
	Telemetry *instrumentation.Provider
}

// New loads configuration and wires all components.
func New(ctx context.Context, version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	telemetry, err := instrumentation.NewProvider(ctx, version)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Cipher:    cipher,
		Store:     st,
		Auth:      auth.NewManager(cfg, logger, cipher, st),
		Sync:      sync.NewManager(cfg.Sync, logger, st, st, telemetry.Metrics()),
		Telemetry: telemetry,
	}, nil
}

// Close releases the store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	return errors.Join(errs...)
}
