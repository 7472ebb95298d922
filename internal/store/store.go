// Package store persists credentials and the local cache of remote
// mail/calendar state. The interfaces here are the contracts the auth
// and sync engines program against; SQLiteStore is the implementation.
package store

import (
	"context"

	"github.com/hnguyen/mailbox/internal/model"
)

// CredentialStore persists encrypted credential records. Writes are
// all-or-nothing per record; a partially written credential is never
// observable.
type CredentialStore interface {
	// Save upserts the credential for its user email and returns the
	// row id. Re-authentication overwrites the previous record.
	Save(ctx context.Context, cred model.Credential) (string, error)

	// LoadLatest returns the most recently saved credential, or nil
	// when none is stored.
	LoadLatest(ctx context.Context) (*model.Credential, error)

	// Delete removes a credential by id.
	Delete(ctx context.Context, id string) error
}

// MessageRepository is the local email cache consumed by sync.
type MessageRepository interface {
	MessageExists(ctx context.Context, externalID string) (bool, error)
	InsertMessage(ctx context.Context, msg model.Message) error
	ListMessages(ctx context.Context, offset, count int) ([]model.Message, error)
	CountMessages(ctx context.Context) (int, error)
	DeleteAllMessages(ctx context.Context) (int64, error)
}

// EventRepository is the local calendar cache consumed by sync.
type EventRepository interface {
	EventExists(ctx context.Context, externalID string) (bool, error)
	InsertEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, offset, count int) ([]model.Event, error)
	CountEvents(ctx context.Context) (int, error)
	DeleteAllEvents(ctx context.Context) (int64, error)
}
