package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthMethod identifies which credential scheme a session was established with.
type AuthMethod string

const (
	// AuthMethodOAuth is the browser-delegated Google OAuth flow.
	AuthMethodOAuth AuthMethod = "oauth"

	// AuthMethodAppPassword is Gmail IMAP/SMTP with an app password.
	AuthMethodAppPassword AuthMethod = "app_password"

	// AuthMethodZoho is the alternate Zoho Mail IMAP/SMTP provider.
	AuthMethodZoho AuthMethod = "zoho"
)

// Valid reports whether m is one of the known auth methods.
func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodOAuth, AuthMethodAppPassword, AuthMethodZoho:
		return true
	}
	return false
}

// Secret holds the decrypted secret material for a credential.
// It only ever exists in process memory; at rest it is serialized
// to JSON and encrypted as a single opaque blob.
type Secret struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Password     string    `json:"password,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitzero"`
}

// Marshal serializes the secret for encryption.
func (s Secret) Marshal() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling secret: %w", err)
	}
	return b, nil
}

// UnmarshalSecret deserializes a decrypted secret blob.
func UnmarshalSecret(b []byte) (Secret, error) {
	var s Secret
	if err := json.Unmarshal(b, &s); err != nil {
		return Secret{}, fmt.Errorf("unmarshaling secret: %w", err)
	}
	return s, nil
}

// Credential is a persisted authentication record. EncryptedSecret is
// the only form in which secret material leaves process memory.
type Credential struct {
	ID              string     `db:"id"`
	UserEmail       string     `db:"user_email"`
	Method          AuthMethod `db:"auth_method"`
	EncryptedSecret string     `db:"encrypted_secret"`
	IssuedAt        time.Time  `db:"issued_at"`
	Expiry          *time.Time `db:"expiry"`
}

// Expired reports whether the credential's access token is past its
// expiry. Credentials without an expiry never expire.
func (c Credential) Expired(now time.Time) bool {
	return c.Expiry != nil && now.After(*c.Expiry)
}
