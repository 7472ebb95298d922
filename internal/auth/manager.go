package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/crypto"
	"github.com/hnguyen/mailbox/internal/logging"
	"github.com/hnguyen/mailbox/internal/model"
	"github.com/hnguyen/mailbox/internal/provider"
	"github.com/hnguyen/mailbox/internal/retry"
	"github.com/hnguyen/mailbox/internal/store"
)

// State describes where the manager is in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateFlowInProgress
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateFlowInProgress:
		return "flow in progress"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session is an established authentication: the account, how it was
// authenticated, and a live provider handle for it.
type Session struct {
	Email    string
	Method   model.AuthMethod
	Provider provider.Provider
}

// Manager owns the authentication lifecycle: login flows, credential
// persistence, session restore, and logout. At most one flow runs at
// a time and at most one session is active.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger
	cipher *crypto.Cipher
	creds  store.CredentialStore
	google GoogleClient
	exec   *retry.Executor

	// Injection points. Tests swap these for fakes; production keeps
	// the defaults set by NewManager.
	verifyLogin func(ctx context.Context, cfg config.Mail, email, password string) error
	newProvider func(ctx context.Context, cfg *config.Config, logger *slog.Logger, method model.AuthMethod, email string, secret model.Secret) (provider.Provider, error)
	listenPort  int

	mu      sync.Mutex
	flow    bool
	session *Session
}

// NewManager wires the manager against the production OAuth client
// and provider constructors.
func NewManager(cfg *config.Config, logger *slog.Logger, cipher *crypto.Cipher, creds store.CredentialStore) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		cipher:      cipher,
		creds:       creds,
		google:      NewGoogleClient(cfg.Google),
		exec:        &retry.Executor{Logger: logger},
		verifyLogin: provider.VerifyLogin,
		newProvider: provider.New,
		listenPort:  cfg.Google.CallbackPort,
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.flow:
		return StateFlowInProgress
	case m.session != nil:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// ActiveSession returns the established session, or ErrNotAuthenticated.
func (m *Manager) ActiveSession() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotAuthenticated
	}
	return m.session, nil
}

// ActiveProvider returns the provider handle bound to the established
// session, or ErrNotAuthenticated.
func (m *Manager) ActiveProvider() (provider.Provider, error) {
	session, err := m.ActiveSession()
	if err != nil {
		return nil, err
	}
	return session.Provider, nil
}

func (m *Manager) beginFlow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow {
		return ErrFlowBusy
	}
	m.flow = true
	return nil
}

func (m *Manager) endFlow() {
	m.mu.Lock()
	m.flow = false
	m.mu.Unlock()
}

// AttemptRestore tries to rebuild a session from the stored
// credential. A missing credential returns (nil, nil); a credential
// that exists but cannot produce a working session returns
// ErrRestoreFailed.
func (m *Manager) AttemptRestore(ctx context.Context) (*Session, error) {
	cred, err := m.creds.LoadLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return nil, nil
	}

	plain, err := m.cipher.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	secret, err := model.UnmarshalSecret(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	if cred.Method == model.AuthMethodOAuth && cred.Expired(time.Now()) {
		if secret.RefreshToken == "" {
			return nil, fmt.Errorf("%w: token expired and no refresh token stored", ErrRestoreFailed)
		}
		fresh, err := m.google.Refresh(ctx, tokenFromSecret(secret))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
		}
		secret = secretFromToken(fresh)
		if err := m.persist(ctx, cred.UserEmail, cred.Method, secret); err != nil {
			return nil, err
		}
		m.logger.Info("refreshed expired token", logging.Account(cred.UserEmail))
	}

	return m.establish(ctx, cred.UserEmail, cred.Method, secret, false)
}

// LoginOAuth runs the browser consent flow: it binds the loopback
// callback, hands the consent URL to openURL, waits for the redirect,
// and exchanges the code. The flow fails after FlowDeadline if the
// redirect never arrives.
func (m *Manager) LoginOAuth(ctx context.Context, openURL func(url string) error) (*Session, error) {
	if err := m.beginFlow(); err != nil {
		return nil, err
	}
	defer m.endFlow()

	state := uuid.NewString()
	listener, err := NewCallbackListener(m.listenPort, state, m.logger)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	if err := openURL(m.google.AuthCodeURL(state)); err != nil {
		return nil, fmt.Errorf("opening consent URL: %w", err)
	}

	m.logger.Info("waiting for authorization callback", logging.Method(string(model.AuthMethodOAuth)))

	code, err := listener.Wait(ctx, FlowDeadline)
	if err != nil {
		return nil, err
	}

	token, err := m.google.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	email, err := m.google.UserEmail(ctx, token)
	if err != nil {
		return nil, err
	}

	secret := secretFromToken(token)
	if err := m.persist(ctx, email, model.AuthMethodOAuth, secret); err != nil {
		return nil, err
	}

	return m.establish(ctx, email, model.AuthMethodOAuth, secret, true)
}

// LoginPassword authenticates an app-password or Zoho account. The
// password is verified against the IMAP server before anything is
// persisted; transient connection failures are retried, rejections
// are not.
func (m *Manager) LoginPassword(ctx context.Context, method model.AuthMethod, email, password string) (*Session, error) {
	if err := m.beginFlow(); err != nil {
		return nil, err
	}
	defer m.endFlow()

	var mailCfg config.Mail
	switch method {
	case model.AuthMethodAppPassword:
		mailCfg = m.cfg.Gmail
	case model.AuthMethodZoho:
		mailCfg = m.cfg.Zoho
	default:
		return nil, fmt.Errorf("auth method %q does not take a password", method)
	}

	_, err := retry.Do(ctx, m.exec, "verify_login", retry.DefaultPolicy(), provider.TransientConn,
		func() (struct{}, error) {
			return struct{}{}, m.verifyLogin(ctx, mailCfg, email, password)
		})
	if err != nil {
		if errors.Is(err, provider.ErrAuthRejected) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return nil, err
	}

	secret := model.Secret{Password: password}
	if err := m.persist(ctx, email, method, secret); err != nil {
		return nil, err
	}

	return m.establish(ctx, email, method, secret, true)
}

// Logout drops the active session. With clearStored the persisted
// credential is deleted as well, so the next start cannot restore.
func (m *Manager) Logout(ctx context.Context, clearStored bool) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if !clearStored {
		return nil
	}

	cred, err := m.creds.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}
	if cred != nil {
		if err := m.creds.Delete(ctx, cred.ID); err != nil {
			return fmt.Errorf("deleting credential: %w", err)
		}
	}

	if session != nil {
		m.logger.Info("logged out", logging.Account(session.Email))
	}
	return nil
}

// persist encrypts the secret and upserts the credential row.
func (m *Manager) persist(ctx context.Context, email string, method model.AuthMethod, secret model.Secret) error {
	plain, err := secret.Marshal()
	if err != nil {
		return fmt.Errorf("encoding secret: %w", err)
	}
	sealed, err := m.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}

	cred := model.Credential{
		UserEmail:       email,
		Method:          method,
		EncryptedSecret: sealed,
		IssuedAt:        time.Now().UTC(),
	}
	if !secret.TokenExpiry.IsZero() {
		expiry := secret.TokenExpiry
		cred.Expiry = &expiry
	}

	if _, err := m.creds.Save(ctx, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// establish builds the provider handle and installs the session.
func (m *Manager) establish(ctx context.Context, email string, method model.AuthMethod, secret model.Secret, fresh bool) (*Session, error) {
	p, err := m.newProvider(ctx, m.cfg, m.logger, method, email, secret)
	if err != nil {
		if fresh {
			return nil, fmt.Errorf("building provider: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	session := &Session{Email: email, Method: method, Provider: p}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.logger.Info("session established",
		logging.Account(email),
		logging.Method(string(method)))

	return session, nil
}

func secretFromToken(token *oauth2.Token) model.Secret {
	return model.Secret{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	}
}

func tokenFromSecret(secret model.Secret) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  secret.AccessToken,
		RefreshToken: secret.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       secret.TokenExpiry,
	}
}
