package auth

import "errors"

var (
	// ErrCsrfMismatch is returned when the callback's state parameter
	// does not match the one issued for the flow.
	ErrCsrfMismatch = errors.New("auth: state parameter mismatch")

	// ErrAuthTimeout is returned when the browser never completes the
	// redirect before the flow deadline.
	ErrAuthTimeout = errors.New("auth: flow timed out waiting for callback")

	// ErrInvalidCredentials is returned when the server rejects an
	// email/password pair.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrNotAuthenticated is returned by operations that require an
	// active session when there is none.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrFlowBusy is returned when a login is attempted while another
	// flow is already in progress.
	ErrFlowBusy = errors.New("auth: another login flow is in progress")

	// ErrRestoreFailed is returned when a stored credential exists but
	// cannot be turned into a working session.
	ErrRestoreFailed = errors.New("auth: could not restore stored session")

	// ErrTokenExchange is returned when the authorization code cannot
	// be exchanged for a token.
	ErrTokenExchange = errors.New("auth: token exchange failed")
)
