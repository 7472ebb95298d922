package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestListener(t *testing.T, state string) *CallbackListener {
	t.Helper()
	l, err := NewCallbackListener(0, state, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func redirect(t *testing.T, l *CallbackListener, query url.Values) *http.Response {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s/callback?%s", l.Addr(), query.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCallbackDeliversCode(t *testing.T) {
	l := newTestListener(t, "state-123")

	resp := redirect(t, l, url.Values{"state": {"state-123"}, "code": {"auth-code"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, err := l.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "auth-code", code)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	l := newTestListener(t, "expected-state")

	resp := redirect(t, l, url.Values{"state": {"forged-state"}, "code": {"auth-code"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := l.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrCsrfMismatch)
}

func TestCallbackRejectsProviderError(t *testing.T) {
	l := newTestListener(t, "state-123")

	resp := redirect(t, l, url.Values{"state": {"state-123"}, "error": {"access_denied"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := l.Wait(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestCallbackMissingCode(t *testing.T) {
	l := newTestListener(t, "state-123")

	redirect(t, l, url.Values{"state": {"state-123"}})

	_, err := l.Wait(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization code")
}

func TestCallbackTimeout(t *testing.T) {
	l := newTestListener(t, "state-123")

	_, err := l.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAuthTimeout)
}

func TestCallbackContextCancelled(t *testing.T) {
	l := newTestListener(t, "state-123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallbackFirstOutcomeWins(t *testing.T) {
	l := newTestListener(t, "state-123")

	redirect(t, l, url.Values{"state": {"state-123"}, "code": {"first-code"}})
	redirect(t, l, url.Values{"state": {"forged"}, "code": {"second-code"}})

	code, err := l.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first-code", code)
}

func TestCloseFreesPort(t *testing.T) {
	l := newTestListener(t, "state-123")
	addr := l.Addr()
	require.NoError(t, l.Close())

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	_ = ln.Close()
}

// Flows that fail before the browser redirects close the listener
// right after creating it. The next flow must still be able to bind
// the same fixed port.
func TestSequentialFlowsReuseFixedPort(t *testing.T) {
	first, err := NewCallbackListener(0, "state-0", testLogger())
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	for i := 0; i < 20; i++ {
		l, err := NewCallbackListener(port, fmt.Sprintf("state-%d", i), testLogger())
		require.NoError(t, err, "flow %d could not bind port %d", i, port)
		require.NoError(t, l.Close())
	}
}
