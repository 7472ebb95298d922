// Package sync pulls email and calendar data from the active provider
// into the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/instrumentation"
	"github.com/hnguyen/mailbox/internal/logging"
	"github.com/hnguyen/mailbox/internal/model"
	"github.com/hnguyen/mailbox/internal/provider"
	"github.com/hnguyen/mailbox/internal/retry"
	"github.com/hnguyen/mailbox/internal/store"
)

// ErrSyncBusy is returned when a run is requested while another run
// is still in flight.
var ErrSyncBusy = errors.New("sync: already in progress")

// DomainResult describes what happened in one domain during a run.
// Per-item failures land in Errors without aborting the domain.
type DomainResult struct {
	Attempted bool
	Fetched   int
	New       int
	Errors    []string
}

func (d DomainResult) ok() bool {
	return !d.Attempted || len(d.Errors) == 0
}

// Result is the outcome of one sync run. Success means every
// attempted domain finished without errors; a domain the provider
// does not support is not a failure.
type Result struct {
	Email     DomainResult
	Calendar  DomainResult
	Success   bool
	StartedAt time.Time
	Duration  time.Duration
}

// Status is a snapshot of the manager for display.
type Status struct {
	Busy bool
	Last *Result
}

// Manager runs email and calendar sync concurrently against a
// provider. At most one run executes at a time.
type Manager struct {
	cfg     config.Sync
	logger  *slog.Logger
	msgs    store.MessageRepository
	events  store.EventRepository
	metrics *instrumentation.Metrics
	exec    *retry.Executor
	policy  retry.Policy

	mu           stdsync.Mutex
	busy         bool
	last         *Result
	lastEmail    time.Time
	lastCalendar time.Time
}

// NewManager builds a sync manager. metrics may be nil.
func NewManager(cfg config.Sync, logger *slog.Logger, msgs store.MessageRepository, events store.EventRepository, metrics *instrumentation.Metrics) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		msgs:    msgs,
		events:  events,
		metrics: metrics,
		policy:  retry.DefaultPolicy(),
	}
	m.exec = &retry.Executor{
		Logger: logger,
		OnRetry: func(operation string, attempt int, delay time.Duration, cause error) {
			metrics.RecordRetry(context.Background(), operation)
		},
	}
	return m
}

// Status reports whether a run is in flight and the last result.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Busy: m.busy, Last: m.last}
}

// Run syncs email and, when the provider supports it, calendar. The
// two domains run concurrently; a failure in one never aborts the
// other. A second Run while one is in flight returns ErrSyncBusy.
func (m *Manager) Run(ctx context.Context, p provider.Provider) (*Result, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrSyncBusy
	}
	m.busy = true
	sinceEmail := m.lastEmail
	includeCalendar := p.SupportsEvents() &&
		(m.lastCalendar.IsZero() || time.Since(m.lastCalendar) >= m.cfg.CalendarInterval)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	res := &Result{StartedAt: time.Now().UTC()}
	res.Email.Attempted = true
	res.Calendar.Attempted = includeCalendar

	var wg stdsync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.syncEmail(ctx, p, sinceEmail, &res.Email)
	}()
	if includeCalendar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.syncCalendar(ctx, p, &res.Calendar)
		}()
	}
	wg.Wait()

	res.Duration = time.Since(res.StartedAt)
	res.Success = res.Email.ok() && res.Calendar.ok()

	m.mu.Lock()
	m.last = res
	if res.Email.ok() {
		m.lastEmail = res.StartedAt
	}
	if includeCalendar && res.Calendar.ok() {
		m.lastCalendar = res.StartedAt
	}
	m.mu.Unlock()

	m.metrics.RecordSyncRun(ctx, res.Success, res.Duration)
	m.logger.Info("sync finished",
		slog.Bool("success", res.Success),
		slog.Int("email_new", res.Email.New),
		slog.Int("calendar_new", res.Calendar.New),
		slog.Duration(logging.KeyDuration, res.Duration))

	return res, nil
}

// Watch runs sync on the email interval until the context is
// cancelled. Calendar piggybacks on email runs at its own slower
// interval. onResult, if set, is called after every run.
func (m *Manager) Watch(ctx context.Context, p provider.Provider, onResult func(Result)) error {
	ticker := time.NewTicker(m.cfg.EmailInterval)
	defer ticker.Stop()

	for {
		res, err := m.Run(ctx, p)
		switch {
		case errors.Is(err, ErrSyncBusy):
			// overlapping tick, skip
		case err != nil:
			m.logger.Error("sync run failed", logging.Err(err))
		case onResult != nil:
			onResult(*res)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) syncEmail(ctx context.Context, p provider.Provider, since time.Time, out *DomainResult) {
	limit := m.cfg.MessageLimit

	count, err := m.msgs.CountMessages(ctx)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("counting messages: %v", err))
		return
	}
	if count == 0 {
		limit = m.cfg.InitialMessageLimit
		since = time.Time{}
	}

	msgs, err := retry.Do(ctx, m.exec, "fetch_messages", m.policy, p.Transient,
		func() ([]model.Message, error) {
			return p.FetchMessages(ctx, limit, since)
		})
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("fetching messages: %v", err))
		return
	}

	out.Fetched = len(msgs)
	now := time.Now().UTC()
	for _, msg := range msgs {
		exists, err := m.msgs.MessageExists(ctx, msg.ExternalID)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("checking message %s: %v", msg.ExternalID, err))
			continue
		}
		if exists {
			continue
		}
		msg.FetchedAt = now
		if err := m.msgs.InsertMessage(ctx, msg); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("storing message %s: %v", msg.ExternalID, err))
			continue
		}
		out.New++
	}

	m.metrics.RecordItemsStored(ctx, "email", out.New)
	m.logger.Debug("email sync done",
		logging.Domain("email"),
		slog.Int("fetched", out.Fetched),
		slog.Int("new", out.New))
}

func (m *Manager) syncCalendar(ctx context.Context, p provider.Provider, out *DomainResult) {
	days := m.cfg.EventDays

	count, err := m.events.CountEvents(ctx)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("counting events: %v", err))
		return
	}
	if count == 0 {
		days = m.cfg.InitialEventDays
	}

	within := model.Upcoming(time.Now(), days)
	events, err := retry.Do(ctx, m.exec, "fetch_events", m.policy, p.Transient,
		func() ([]model.Event, error) {
			return p.FetchEvents(ctx, within)
		})
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("fetching events: %v", err))
		return
	}

	out.Fetched = len(events)
	now := time.Now().UTC()
	for _, ev := range events {
		exists, err := m.events.EventExists(ctx, ev.ExternalID)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("checking event %s: %v", ev.ExternalID, err))
			continue
		}
		if exists {
			continue
		}
		ev.FetchedAt = now
		if err := m.events.InsertEvent(ctx, ev); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("storing event %s: %v", ev.ExternalID, err))
			continue
		}
		out.New++
	}

	m.metrics.RecordItemsStored(ctx, "calendar", out.New)
	m.logger.Debug("calendar sync done",
		logging.Domain("calendar"),
		slog.Int("fetched", out.Fetched),
		slog.Int("new", out.New))
}
