package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hnguyen/mailbox/internal/logging"
)

// FlowDeadline bounds how long a login flow waits for the browser
// redirect before giving up.
const FlowDeadline = 5 * time.Minute

const callbackPath = "/callback"

const successPage = `<!DOCTYPE html>
<html>
<head><title>Authentication Complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>&#10003; Authentication complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

const failurePage = `<!DOCTYPE html>
<html>
<head><title>Authentication Failed</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>&#10007; Authentication failed</h1>
<p>%s</p>
<p>Close this window and try again from the terminal.</p>
</body>
</html>`

type callbackResult struct {
	code string
	err  error
}

// CallbackListener accepts a single OAuth redirect on the loopback
// interface. Each login flow creates its own listener and tears it
// down afterwards, so the port is free between flows.
type CallbackListener struct {
	state  string
	ln     net.Listener
	srv    *http.Server
	result chan callbackResult
	once   sync.Once
	logger *slog.Logger
}

// NewCallbackListener binds the loopback port and starts serving the
// callback path. Port 0 picks an ephemeral port, which tests use.
func NewCallbackListener(port int, state string, logger *slog.Logger) (*CallbackListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding callback port %d: %w", port, err)
	}

	l := &CallbackListener{
		state:  state,
		ln:     ln,
		result: make(chan callbackResult, 1),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, l.handle)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed && !errors.Is(err, net.ErrClosed) {
			l.deliver(callbackResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()

	return l, nil
}

// Addr returns the bound address, useful when an ephemeral port was
// requested.
func (l *CallbackListener) Addr() string {
	return l.ln.Addr().String()
}

// deliver records the flow outcome exactly once. Later redirects hit
// an already-decided flow and are ignored.
func (l *CallbackListener) deliver(res callbackResult) {
	l.once.Do(func() { l.result <- res })
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		l.fail(w, fmt.Errorf("authorization denied: %s", errParam), "The authorization request was denied.")
		return
	}

	if q.Get("state") != l.state {
		l.fail(w, ErrCsrfMismatch, "The request could not be verified.")
		return
	}

	code := q.Get("code")
	if code == "" {
		l.fail(w, fmt.Errorf("callback missing authorization code"), "No authorization code was received.")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
	l.deliver(callbackResult{code: code})
}

func (l *CallbackListener) fail(w http.ResponseWriter, cause error, message string) {
	l.logger.Warn("callback rejected", logging.Err(cause))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, failurePage, message)
	l.deliver(callbackResult{err: cause})
}

// Wait blocks until the redirect arrives, the deadline passes, or the
// context is cancelled. It returns the authorization code on success.
func (l *CallbackListener) Wait(ctx context.Context, deadline time.Duration) (string, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-l.result:
		return res.code, res.err
	case <-timer.C:
		return "", ErrAuthTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close shuts the server down and releases the port. Shutdown only
// closes listeners the Serve goroutine has already registered, so the
// listener is closed directly as well to guarantee the port is free
// when Close returns.
func (l *CallbackListener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.srv.Shutdown(ctx)
	if cerr := l.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
