// Package logging configures the process-wide structured logger and
// provides shared attribute helpers so log keys stay consistent
// across packages.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Common log attribute keys.
const (
	KeyOperation = "operation"
	KeyMethod    = "method"
	KeyDomain    = "domain"
	KeyAttempt   = "attempt"
	KeyDelay     = "delay"
	KeyDuration  = "duration"
	KeyError     = "error"
	KeyAccount   = "account"
)

// New builds a slog.Logger writing to stderr. Format is "text" or
// "json"; level is one of debug/info/warn/error (default info).
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Method returns a slog attribute for the auth method.
func Method(method string) slog.Attr {
	return slog.String(KeyMethod, method)
}

// Domain returns a slog attribute for the sync domain (email/calendar).
func Domain(domain string) slog.Attr {
	return slog.String(KeyDomain, domain)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Delay returns a slog attribute for a retry delay.
func Delay(d time.Duration) slog.Attr {
	return slog.Duration(KeyDelay, d)
}

// Err returns a slog attribute for an error, tolerating nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail reduces an address to a loggable form that does not
// leak the full mailbox name.
func AnonymizeEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***@" + email[at+1:]
}

// Account returns a slog attribute for an anonymized account address.
func Account(email string) slog.Attr {
	return slog.String(KeyAccount, AnonymizeEmail(email))
}
