package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnguyen/mailbox/internal/app"
	"github.com/hnguyen/mailbox/internal/auth"
	"github.com/hnguyen/mailbox/internal/logging"
	"github.com/hnguyen/mailbox/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync email and calendar into the local cache",
		Long: `Run one sync against the authenticated account, fetching new messages
and upcoming events into the local database.

With --watch the command keeps running, syncing on the configured
intervals and serving Prometheus metrics, until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			session, err := restoreSession(cmd.Context(), a)
			if err != nil {
				return err
			}

			if watch {
				return runWatch(cmd.Context(), a, session)
			}

			res, err := a.Sync.Run(cmd.Context(), session.Provider)
			if err != nil {
				return err
			}
			printResult(res)
			if !res.Success {
				return fmt.Errorf("sync finished with errors")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep syncing on an interval and serve metrics")
	return cmd
}

// restoreSession rebuilds the session from the stored credential and
// translates the failure modes into actionable messages.
func restoreSession(ctx context.Context, a *app.App) (*auth.Session, error) {
	session, err := a.Auth.AttemptRestore(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrRestoreFailed) {
			return nil, fmt.Errorf("stored credential is unusable, run 'mailbox login': %w", err)
		}
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("not logged in, run 'mailbox login' first")
	}
	return session, nil
}

func runWatch(ctx context.Context, a *app.App, session *auth.Session) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.Config.MetricsAddr,
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("metrics server failed", logging.Err(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info("watching", "metrics_addr", a.Config.MetricsAddr)

	err := a.Sync.Watch(ctx, session.Provider, func(res sync.Result) {
		printResult(&res)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Telemetry.Handler())
	return mux
}

func printResult(res *sync.Result) {
	fmt.Printf("Synced in %s: %d new messages", res.Duration.Round(time.Millisecond), res.Email.New)
	if res.Calendar.Attempted {
		fmt.Printf(", %d new events", res.Calendar.New)
	}
	fmt.Println()

	for _, e := range append(res.Email.Errors, res.Calendar.Errors...) {
		fmt.Printf("  error: %s\n", strings.TrimSpace(e))
	}
}
