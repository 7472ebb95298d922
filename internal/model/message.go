package model

import "time"

// Message is a cached email envelope. ExternalID is the provider's
// identifier (Gmail message id or IMAP Message-ID header) and is what
// sync uses to deduplicate.
type Message struct {
	ID         string    `db:"id"`
	ExternalID string    `db:"external_id"`
	Folder     string    `db:"folder"`
	From       string    `db:"from_addr"`
	To         string    `db:"to_addrs"`
	Subject    string    `db:"subject"`
	Snippet    string    `db:"snippet"`
	Date       time.Time `db:"date"`
	Unread     bool      `db:"unread"`
	FetchedAt  time.Time `db:"fetched_at"`
}

// Body is the full content of a single message, fetched on demand.
type Body struct {
	Text string
	HTML string
}

// Draft is an outgoing message before it is handed to a provider.
type Draft struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}
