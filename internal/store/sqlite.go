package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hnguyen/mailbox/internal/model"
)

// SQLiteStore implements CredentialStore, MessageRepository, and
// EventRepository on a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL improves concurrent read behavior while sync writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Save upserts the credential keyed by user email in one statement, so
// re-authentication can never leave a half-written record behind.
func (s *SQLiteStore) Save(ctx context.Context, cred model.Credential) (string, error) {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_email, auth_method, encrypted_secret, issued_at, expiry)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email) DO UPDATE SET
			auth_method = excluded.auth_method,
			encrypted_secret = excluded.encrypted_secret,
			issued_at = excluded.issued_at,
			expiry = excluded.expiry`,
		cred.ID, cred.UserEmail, string(cred.Method),
		cred.EncryptedSecret, cred.IssuedAt.UTC(), cred.Expiry,
	)
	if err != nil {
		return "", fmt.Errorf("saving credential for %s: %w", cred.UserEmail, err)
	}

	// The conflict path keeps the original row id.
	var id string
	err = s.db.GetContext(ctx, &id,
		"SELECT id FROM credentials WHERE user_email = ?", cred.UserEmail)
	if err != nil {
		return "", fmt.Errorf("reading credential id: %w", err)
	}

	return id, nil
}

// LoadLatest returns the most recently issued credential, or nil when
// the store is empty.
func (s *SQLiteStore) LoadLatest(ctx context.Context) (*model.Credential, error) {
	var cred model.Credential
	err := s.db.GetContext(ctx, &cred,
		"SELECT * FROM credentials ORDER BY issued_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	return &cred, nil
}

// Delete removes a credential by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting credential %s: %w", id, err)
	}
	return nil
}

// MessageExists reports whether a message with the given provider id
// is already cached.
func (s *SQLiteStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE external_id = ?", externalID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", externalID, err)
	}
	return count > 0, nil
}

// InsertMessage caches a fetched message envelope.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.FetchedAt.IsZero() {
		msg.FetchedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, external_id, folder, from_addr, to_addrs,
			subject, snippet, date, unread, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ExternalID, msg.Folder, msg.From, msg.To,
		msg.Subject, msg.Snippet, msg.Date.UTC(), boolToInt(msg.Unread), msg.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ExternalID, err)
	}
	return nil
}

// ListMessages returns a page of cached messages, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, offset, count int) ([]model.Message, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM messages ORDER BY date DESC LIMIT ? OFFSET ?", count, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// CountMessages returns the number of cached messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages"); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// DeleteAllMessages clears the email cache and returns the rows removed.
func (s *SQLiteStore) DeleteAllMessages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages")
	if err != nil {
		return 0, fmt.Errorf("clearing messages: %w", err)
	}
	return res.RowsAffected()
}

// EventExists reports whether an event with the given provider id is
// already cached.
func (s *SQLiteStore) EventExists(ctx context.Context, externalID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM events WHERE external_id = ?", externalID)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", externalID, err)
	}
	return count > 0, nil
}

// InsertEvent caches a fetched calendar event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.FetchedAt.IsZero() {
		ev.FetchedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, external_id, summary, location,
			start_time, end_time, all_day, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ExternalID, ev.Summary, ev.Location,
		ev.Start.UTC(), ev.End.UTC(), boolToInt(ev.AllDay), ev.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.ExternalID, err)
	}
	return nil
}

// ListEvents returns a page of cached events ordered by start time.
func (s *SQLiteStore) ListEvents(ctx context.Context, offset, count int) ([]model.Event, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM events ORDER BY start_time LIMIT ? OFFSET ?", count, offset)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.StructScan(&e); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// CountEvents returns the number of cached events.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

// DeleteAllEvents clears the calendar cache and returns the rows removed.
func (s *SQLiteStore) DeleteAllEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events")
	if err != nil {
		return 0, fmt.Errorf("clearing events: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ CredentialStore   = (*SQLiteStore)(nil)
	_ MessageRepository = (*SQLiteStore)(nil)
	_ EventRepository   = (*SQLiteStore)(nil)
)
