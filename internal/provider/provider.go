// Package provider abstracts the remote email/calendar backends behind
// one capability interface. The concrete variant (Gmail API, Gmail
// IMAP/SMTP, Zoho IMAP/SMTP) is chosen once from the session's auth
// method; callers never inspect the type afterwards.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/model"
)

var (
	// ErrNotFound means the requested item does not exist remotely.
	ErrNotFound = errors.New("provider: item not found")

	// ErrUnsupportedCapability is returned by handles that do not
	// implement a capability (calendar on password-backed methods).
	ErrUnsupportedCapability = errors.New("provider: capability not supported by this auth method")

	// ErrAuthRejected means the remote rejected our credentials.
	// It is permanent; retrying is futile.
	ErrAuthRejected = errors.New("provider: authentication rejected")

	// ErrMissingRecipient is a draft validation failure.
	ErrMissingRecipient = errors.New("provider: draft has no recipient")
)

// Provider is the capability set the rest of the system programs
// against. Implementations are safe for use from the concurrent sync
// tasks.
type Provider interface {
	// FetchMessages returns up to max messages newer than since
	// (zero since means no lower bound), newest first.
	FetchMessages(ctx context.Context, max int, since time.Time) ([]model.Message, error)

	// FetchMessageBody fetches the full body of one message by its
	// provider id. Returns ErrNotFound for unknown ids.
	FetchMessageBody(ctx context.Context, externalID string) (*model.Body, error)

	// SendMessage validates and sends a draft.
	SendMessage(ctx context.Context, draft model.Draft) error

	// FetchEvents returns calendar events within the range, ordered by
	// start time. Handles without calendar support return
	// ErrUnsupportedCapability.
	FetchEvents(ctx context.Context, within model.TimeRange) ([]model.Event, error)

	// SupportsEvents reports whether FetchEvents is implemented.
	SupportsEvents() bool

	// Transient classifies an error from this provider as retryable.
	// Each protocol has its own notion of transient, so retry call
	// sites use the handle's own classifier.
	Transient(err error) bool
}

// New builds the provider handle for an authenticated session. The
// concrete behavior is fixed here and never re-dispatched.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, method model.AuthMethod, email string, secret model.Secret) (Provider, error) {
	switch method {
	case model.AuthMethodOAuth:
		return newGoogleProvider(ctx, cfg.Google, logger, email, secret)
	case model.AuthMethodAppPassword:
		return newIMAPProvider(cfg.Gmail, logger, email, secret.Password), nil
	case model.AuthMethodZoho:
		return newIMAPProvider(cfg.Zoho, logger, email, secret.Password), nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", method)
	}
}

// TransientConn reports whether err looks like a connection-level
// failure worth retrying, independent of any provider handle.
func TransientConn(err error) bool {
	return transientNet(err)
}

// transientNet classifies connection-level failures shared by all
// providers: timeouts, resets, and dropped connections.
func transientNet(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
