package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/model"
	"github.com/hnguyen/mailbox/internal/retry"
	"github.com/hnguyen/mailbox/internal/store"
)

var errBackend = errors.New("backend unavailable")

type fakeProvider struct {
	messages []model.Message
	events   []model.Event

	supportsEvents bool
	eventsErr      error

	// messagesFailures fails FetchMessages that many times before
	// succeeding; transient errors are retried by the manager.
	messagesFailures int32

	// block, when set, stalls FetchMessages until released.
	block chan struct{}

	fetchCalls int32
}

func (p *fakeProvider) FetchMessages(ctx context.Context, max int, since time.Time) ([]model.Message, error) {
	atomic.AddInt32(&p.fetchCalls, 1)
	if p.block != nil {
		<-p.block
	}
	if atomic.AddInt32(&p.messagesFailures, -1) >= 0 {
		return nil, errBackend
	}
	if max < len(p.messages) {
		return p.messages[:max], nil
	}
	return p.messages, nil
}

func (p *fakeProvider) FetchMessageBody(context.Context, string) (*model.Body, error) {
	return &model.Body{}, nil
}

func (p *fakeProvider) SendMessage(context.Context, model.Draft) error { return nil }

func (p *fakeProvider) FetchEvents(context.Context, model.TimeRange) ([]model.Event, error) {
	if p.eventsErr != nil {
		return nil, p.eventsErr
	}
	return p.events, nil
}

func (p *fakeProvider) SupportsEvents() bool { return p.supportsEvents }

func (p *fakeProvider) Transient(err error) bool { return errors.Is(err, errBackend) }

func testMessages(n int) []model.Message {
	msgs := make([]model.Message, n)
	for i := range msgs {
		msgs[i] = model.Message{
			ExternalID: fmt.Sprintf("msg-%d", i),
			Folder:     "inbox",
			From:       "sender@example.com",
			Subject:    fmt.Sprintf("Subject %d", i),
			Date:       time.Now().Add(-time.Duration(i) * time.Hour).UTC(),
			Unread:     true,
		}
	}
	return msgs
}

func testEvents(n int) []model.Event {
	events := make([]model.Event, n)
	for i := range events {
		start := time.Now().Add(time.Duration(i+1) * time.Hour).UTC()
		events[i] = model.Event{
			ExternalID: fmt.Sprintf("ev-%d", i),
			Summary:    fmt.Sprintf("Event %d", i),
			Start:      start,
			End:        start.Add(30 * time.Minute),
		}
	}
	return events
}

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Sync{
		MessageLimit:        50,
		EventDays:           7,
		InitialMessageLimit: 100,
		InitialEventDays:    30,
		EmailInterval:       time.Minute,
		CalendarInterval:    0,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, logger, st, st, nil)
	m.policy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	return m, st
}

func TestRunStoresMessagesAndEvents(t *testing.T) {
	m, st := newTestManager(t)
	p := &fakeProvider{
		messages:       testMessages(3),
		events:         testEvents(2),
		supportsEvents: true,
	}

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Email.New)
	assert.Equal(t, 2, res.Calendar.New)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{
		messages:       testMessages(3),
		events:         testEvents(2),
		supportsEvents: true,
	}

	_, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Email.New, "already cached messages must not be stored again")
	assert.Equal(t, 0, res.Calendar.New)
}

func TestCalendarFailureDoesNotAbortEmail(t *testing.T) {
	m, st := newTestManager(t)
	p := &fakeProvider{
		messages:       testMessages(2),
		supportsEvents: true,
		eventsErr:      errors.New("calendar backend down"),
	}

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Email.New)
	assert.NotEmpty(t, res.Calendar.Errors)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUnsupportedCalendarIsNotAFailure(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{messages: testMessages(1)}

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Calendar.Attempted)
}

func TestRunRetriesTransientFetch(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{
		messages:         testMessages(2),
		messagesFailures: 2,
	}

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Email.New)
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.fetchCalls))
}

func TestRunExhaustsRetries(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{
		messages:         testMessages(2),
		messagesFailures: 10,
	}

	res, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Email.Errors)
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.fetchCalls))
}

func TestConcurrentRunReturnsBusy(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{
		messages: testMessages(1),
		block:    make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(context.Background(), p)
	}()

	require.Eventually(t, func() bool {
		return m.Status().Busy
	}, time.Second, 10*time.Millisecond)

	_, err := m.Run(context.Background(), p)
	assert.ErrorIs(t, err, ErrSyncBusy)

	close(p.block)
	<-done

	assert.False(t, m.Status().Busy)
}

func TestStatusReportsLastResult(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{messages: testMessages(1)}

	assert.Nil(t, m.Status().Last)

	_, err := m.Run(context.Background(), p)
	require.NoError(t, err)

	status := m.Status()
	require.NotNil(t, status.Last)
	assert.Equal(t, 1, status.Last.Email.New)
}

func TestWatchStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t)
	p := &fakeProvider{messages: testMessages(1)}

	ctx, cancel := context.WithCancel(context.Background())

	results := make(chan Result, 1)
	go func() {
		_ = m.Watch(ctx, p, func(res Result) {
			select {
			case results <- res:
			default:
			}
		})
	}()

	select {
	case res := <-results:
		assert.Equal(t, 1, res.Email.New)
	case <-time.After(2 * time.Second):
		t.Fatal("watch never produced a result")
	}

	cancel()
}
