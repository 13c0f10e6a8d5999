package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"authbridge/pkg/config"
	"authbridge/pkg/jwks"
	"authbridge/pkg/metrics"
	"authbridge/pkg/pending"
	"authbridge/pkg/profile"
	"authbridge/pkg/secret"
	"authbridge/pkg/verifier"

	"go.uber.org/zap"
)

// TokenVerifier is the trust boundary the manager delegates to.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*verifier.Payload, error)
}

// ProfileFetcher enriches an identity; failures are non-fatal.
type ProfileFetcher interface {
	Fetch(ctx context.Context, token, subject string) (*profile.Profile, error)
}

// Manager orchestrates the login round-trip: state issuance, callback
// validation, token verification, credential persistence and session
// lifecycle. One instance owns one pending-request slot and one session
// slot, both guarded by its mutex; there are no package-level singletons.
type Manager struct {
	cfg      *config.Config
	tracker  *pending.Tracker
	verifier TokenVerifier
	store    secret.Store
	profiles ProfileFetcher
	now      func() time.Time
	log      *zap.Logger

	mu    sync.Mutex
	phase phase
	sess  *session
	user  *User
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore overrides the secret store (default: OS keyring under the
// configured service namespace).
func WithStore(s secret.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithVerifier overrides the token verifier.
func WithVerifier(v TokenVerifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

// WithProfileFetcher overrides the profile client. Pass nil to disable
// enrichment.
func WithProfileFetcher(p ProfileFetcher) ManagerOption {
	return func(m *Manager) { m.profiles = p }
}

// WithTracker overrides the pending-request tracker.
func WithTracker(t *pending.Tracker) ManagerOption {
	return func(m *Manager) { m.tracker = t }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// New returns the configured bridge, or the Unconfigured variant when the
// required issuer is absent. Callers get a deterministic ErrNotConfigured
// from every operation in that case instead of an ad hoc fallback object.
func New(cfg *config.Config, opts ...ManagerOption) Authenticator {
	if cfg == nil || cfg.IssuerURL == "" {
		return Unconfigured{}
	}
	return NewManager(cfg, opts...)
}

// NewManager wires a Manager from a validated configuration.
func NewManager(cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:   cfg,
		now:   time.Now,
		log:   zap.NewNop(),
		phase: phaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.tracker == nil {
		m.tracker = pending.NewTracker(pending.WithTTL(cfg.LoginTTL))
	}
	if m.store == nil {
		m.store = secret.NewKeyring(cfg.SecretService)
	}
	if m.verifier == nil {
		resolver := jwks.NewResolver(cfg.IssuerURL,
			jwks.WithCacheTTL(cfg.KeySetTTL),
			jwks.WithFetchLimit(cfg.KeyFetchPerMinute),
			jwks.WithLogger(m.log),
		)
		m.verifier = verifier.New(cfg.IssuerURL, resolver,
			verifier.WithLeeway(cfg.ClockSkew),
			verifier.WithLogger(m.log),
		)
	}
	if m.profiles == nil && cfg.ClientID != "" {
		m.profiles = profile.NewClient(cfg.IssuerURL,
			profile.WithClientID(cfg.ClientID),
			profile.WithLogger(m.log),
		)
	}
	return m
}

// StartLogin begins a fresh login attempt and returns the URL to open in the
// system browser. Any previous unfinished attempt is invalidated.
func (m *Manager) StartLogin() (*LoginIntent, error) {
	return m.StartLoginRedirect(m.cfg.RedirectURI())
}

// StartLoginRedirect is StartLogin with an explicit redirect URI, used when
// the callback arrives over a loopback listener instead of a deep link.
func (m *Manager) StartLoginRedirect(redirectURI string) (*LoginIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.tracker.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start login: %w", err)
	}

	authURL, err := buildAuthURL(m.cfg.FrontendURL, state, redirectURI)
	if err != nil {
		m.tracker.Clear()
		return nil, fmt.Errorf("failed to start login: %w", err)
	}

	m.phase = phaseAwaitingCallback
	m.log.Info("login started")

	return &LoginIntent{State: state, AuthURL: authURL}, nil
}

// ProcessCallback validates the callback state, verifies the token, persists
// the credential and establishes the in-memory session. Failures leave no
// partial state behind.
func (m *Manager) ProcessCallback(ctx context.Context, token, state string) *CallbackResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tracker.Validate(state); err != nil {
		// CSRF failure: the secret store is never touched.
		m.phase = phaseIdle
		cause := csrfCause(err)
		metrics.RecordCallbackRejection(cause)
		metrics.RecordLoginFailure(cause)
		m.log.Warn("callback rejected", zap.String("cause", cause))
		return &CallbackResult{Err: fmt.Errorf("%w: %w", ErrCsrf, err)}
	}

	payload, err := m.verifier.Verify(ctx, token)
	if err != nil {
		m.purgeCredentials()
		m.phase = phaseIdle
		metrics.RecordCallbackRejection("verification")
		metrics.RecordLoginFailure("verification")
		m.log.Warn("callback rejected", zap.String("cause", "verification"))
		return &CallbackResult{Err: fmt.Errorf("%w: %w", ErrVerification, err)}
	}

	if err := m.writeCredential(token, payload); err != nil {
		// An unpersisted session would silently vanish on restart, so the
		// authentication is reported failed.
		m.purgeCredentials()
		m.phase = phaseIdle
		metrics.RecordCallbackRejection("storage")
		metrics.RecordLoginFailure("storage")
		m.log.Error("credential persistence failed", zap.Error(err))
		return &CallbackResult{Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}

	user := m.establish(ctx, token, payload)
	metrics.RecordLoginSuccess()
	m.log.Info("login completed", zap.String("user", payload.Subject))

	return &CallbackResult{Authenticated: true, User: user}
}

// RestoreSession rebuilds the session from the stored credential. Stored
// tokens are re-verified; they are never trusted merely because they came
// from the store.
func (m *Manager) RestoreSession(ctx context.Context) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.store.Get(secret.KeyToken)
	if err != nil {
		if errors.Is(err, secret.ErrNotFound) {
			metrics.RecordRestore("absent")
			return nil, nil
		}
		metrics.RecordRestore("storage_error")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	payload, err := m.verifier.Verify(ctx, token)
	if err != nil {
		// Invalid or expired at rest: purge, never resurrect.
		m.purgeCredentials()
		m.clearLocked()
		metrics.RecordRestore("invalid")
		m.log.Warn("stored credential rejected, purged")
		return nil, nil
	}

	user := m.establish(ctx, token, payload)
	metrics.RecordRestore("success")
	m.log.Info("session restored", zap.String("user", payload.Subject))
	return user, nil
}

// SignOut wipes stored credentials and in-memory state. Local state is
// cleared even if the store deletion partially fails.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeCredentials()
	m.tracker.Clear()
	m.clearLocked()
	m.log.Info("signed out")
}

// AuthStatus reads the current in-memory state without any I/O.
func (m *Manager) AuthStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	authenticated := m.phase == phaseAuthenticated && m.sess != nil
	return Status{
		Authenticated: authenticated,
		User:          m.user,
		SessionValid:  authenticated && m.sess.expiresAt.After(m.now()),
	}
}

// establish builds the in-memory session and best-effort profile from a
// verified payload. Must be called with the mutex held.
func (m *Manager) establish(ctx context.Context, token string, payload *verifier.Payload) *User {
	m.sess = &session{
		token:     token,
		sessionID: payload.SessionID,
		userID:    payload.Subject,
		createdAt: m.now(),
		expiresAt: payload.ExpiresAt,
	}

	user := &User{ID: payload.Subject, SessionID: payload.SessionID}
	if m.profiles != nil {
		if p, err := m.profiles.Fetch(ctx, token, payload.Subject); err != nil {
			// Enrichment never rolls back authentication.
			m.log.Warn("profile enrichment failed", zap.Error(err))
		} else {
			user.Email = p.Email
			user.Name = p.Name
			user.AvatarURL = p.AvatarURL
		}
	}

	m.user = user
	m.phase = phaseAuthenticated
	return user
}

func (m *Manager) writeCredential(token string, payload *verifier.Payload) error {
	if err := m.store.Set(secret.KeyToken, token); err != nil {
		return err
	}
	if err := m.store.Set(secret.KeyUserID, payload.Subject); err != nil {
		return err
	}
	return m.store.Set(secret.KeySessionID, payload.SessionID)
}

// purgeCredentials removes every stored entry, best-effort.
func (m *Manager) purgeCredentials() {
	for _, key := range []string{secret.KeyToken, secret.KeyUserID, secret.KeySessionID} {
		if err := m.store.Delete(key); err != nil {
			m.log.Warn("failed to delete stored credential entry", zap.String("key", key), zap.Error(err))
		}
	}
}

func (m *Manager) clearLocked() {
	m.sess = nil
	m.user = nil
	m.phase = phaseIdle
}

func csrfCause(err error) string {
	switch {
	case errors.Is(err, pending.ErrStateExpired):
		return "state_expired"
	case errors.Is(err, pending.ErrStateMismatch):
		return "state_mismatch"
	default:
		return "no_pending_request"
	}
}

func buildAuthURL(frontend, state, redirectURI string) (string, error) {
	u, err := url.Parse(frontend)
	if err != nil {
		return "", fmt.Errorf("invalid frontend URL: %w", err)
	}
	u.Path = path.Join(u.Path, "auth", "desktop")

	q := u.Query()
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
