package session

import (
	"context"
	"time"
)

// User is the identity handed to the UI layer. Profile fields are best-effort
// enrichment; ID and SessionID always come from a verified token.
type User struct {
	ID        string
	SessionID string
	Email     string
	Name      string
	AvatarURL string
}

// LoginIntent is the result of starting a login: the state to correlate the
// callback with, and the URL to open in the system browser.
type LoginIntent struct {
	State   string
	AuthURL string
}

// CallbackResult is the structured outcome of processing a callback. It is
// never a panic or a raw dependency error.
type CallbackResult struct {
	Authenticated bool
	User          *User
	Err           error
}

// Status is a pure read of the in-memory session state. SessionValid is a
// cheap expiry check, not a re-verification.
type Status struct {
	Authenticated bool
	User          *User
	SessionValid  bool
}

// Authenticator is the bridge's public contract, consumed by the UI/CLI
// layer. The Unconfigured variant implements it when required settings are
// absent.
type Authenticator interface {
	StartLogin() (*LoginIntent, error)
	ProcessCallback(ctx context.Context, token, state string) *CallbackResult
	RestoreSession(ctx context.Context) (*User, error)
	SignOut()
	AuthStatus() Status
}

// session is the process-lifetime authenticated state. It is derived only
// from a verified token and is never persisted itself; the secret store
// holds the durable form.
type session struct {
	token     string
	sessionID string
	userID    string
	createdAt time.Time
	expiresAt time.Time
}

type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingCallback
	phaseAuthenticated
)
