package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"authbridge/pkg/config"
	"authbridge/pkg/jwks"
	"authbridge/pkg/pending"
	"authbridge/pkg/profile"
	"authbridge/pkg/secret"
	"authbridge/pkg/verifier"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIdP is a fake identity provider: a signing key, a JWKS endpoint and a
// user-directory endpoint.
type testIdP struct {
	issuer  string
	jwksURL string
	priv    *rsa.PrivateKey
	other   *rsa.PrivateKey
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "kid-1"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	jwksBody, err := json.Marshal(set)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(jwksBody)
	})
	mux.HandleFunc("/api/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"email":"jo@example.com","name":"Jo","avatar_url":""}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testIdP{
		issuer:  srv.URL,
		jwksURL: srv.URL + "/keys",
		priv:    priv,
		other:   other,
	}
}

// signToken issues a bearer token. Pass idp.other as key for an untrusted
// signature.
func (idp *testIdP) signToken(t *testing.T, key *rsa.PrivateKey, subject string, expiry time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": idp.issuer,
		"sub": subject,
		"sid": "sess-" + subject,
		"exp": expiry.Unix(),
		"iat": time.Now().Unix(),
	})
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func (idp *testIdP) config() *config.Config {
	cfg := &config.Config{IssuerURL: idp.issuer}
	_ = cfg.Validate()
	return cfg
}

func newTestManager(t *testing.T, idp *testIdP, store secret.Store, opts ...ManagerOption) *Manager {
	t.Helper()

	resolver := jwks.NewResolver(idp.issuer, jwks.WithJWKSURL(idp.jwksURL))
	ver := verifier.New(idp.issuer, resolver)

	base := []ManagerOption{WithVerifier(ver), WithStore(store)}
	return NewManager(idp.config(), append(base, opts...)...)
}

func requireStoreEmpty(t *testing.T, store secret.Store) {
	t.Helper()
	for _, key := range []string{secret.KeyToken, secret.KeyUserID, secret.KeySessionID} {
		_, err := store.Get(key)
		assert.ErrorIs(t, err, secret.ErrNotFound, "entry %q should be absent", key)
	}
}

func TestStartLoginEmbedsState(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory())

	intent, err := m.StartLogin()
	require.NoError(t, err)
	require.NotEmpty(t, intent.State)

	u, err := url.Parse(intent.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, "/auth/desktop", u.Path)
	assert.Equal(t, intent.State, u.Query().Get("state"))
	assert.Equal(t, "authbridge://auth/callback", u.Query().Get("redirect_uri"))
}

func TestCallbackRoundTrip(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()

	expiry := time.Now().Add(time.Hour)
	clock := time.Now()
	m := newTestManager(t, idp, store, WithClock(func() time.Time { return clock }))

	intent, err := m.StartLogin()
	require.NoError(t, err)

	token := idp.signToken(t, idp.priv, "user-42", expiry)
	res := m.ProcessCallback(context.Background(), token, intent.State)
	require.NoError(t, res.Err)
	require.True(t, res.Authenticated)
	assert.Equal(t, "user-42", res.User.ID)
	assert.Equal(t, "sess-user-42", res.User.SessionID)

	// Credential is durably retrievable.
	stored, err := store.Get(secret.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, token, stored)
	userID, err := store.Get(secret.KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
	sessionID, err := store.Get(secret.KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "sess-user-42", sessionID)

	// The session expiry tracks the token's expiry claim: valid just before,
	// invalid just after, with no I/O involved.
	status := m.AuthStatus()
	assert.True(t, status.Authenticated)
	assert.True(t, status.SessionValid)

	clock = expiry.Add(time.Second)
	status = m.AuthStatus()
	assert.True(t, status.Authenticated)
	assert.False(t, status.SessionValid)
}

func TestCallbackWrongState(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()
	m := newTestManager(t, idp, store)

	intent, err := m.StartLogin()
	require.NoError(t, err)

	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, "forged-state")
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrCsrf)
	requireStoreEmpty(t, store)

	// The failed attempt consumed the slot; the genuine state is dead too.
	res = m.ProcessCallback(context.Background(), token, intent.State)
	assert.ErrorIs(t, res.Err, ErrCsrf)
}

func TestCallbackStateSingleUse(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory())

	intent, err := m.StartLogin()
	require.NoError(t, err)

	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, intent.State)
	require.True(t, res.Authenticated)

	// Replaying the exact same callback fails.
	res = m.ProcessCallback(context.Background(), token, intent.State)
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrCsrf)
}

func TestSecondStartLoginInvalidatesFirst(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory())

	first, err := m.StartLogin()
	require.NoError(t, err)
	_, err = m.StartLogin()
	require.NoError(t, err)

	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, first.State)
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrCsrf)
}

func TestCallbackExpiredState(t *testing.T) {
	idp := newTestIdP(t)

	now := time.Now()
	tracker := pending.NewTracker(
		pending.WithTTL(time.Minute),
		pending.WithClock(func() time.Time { return now }),
	)
	m := newTestManager(t, idp, secret.NewMemory(), WithTracker(tracker))

	intent, err := m.StartLogin()
	require.NoError(t, err)

	// Let the attempt outlive its TTL: even the exact state must fail.
	now = now.Add(2 * time.Minute)
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, intent.State)
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrCsrf)
}

func TestCallbackUntrustedKeyEndToEnd(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()
	m := newTestManager(t, idp, store)

	intent, err := m.StartLogin()
	require.NoError(t, err)

	// Token signed by a key the IdP never published.
	forged := idp.signToken(t, idp.other, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), forged, intent.State)
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrVerification)
	requireStoreEmpty(t, store)

	// The pending request was consumed by the attempt: retrying with the
	// correct token and the same state requires a fresh StartLogin.
	genuine := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res = m.ProcessCallback(context.Background(), genuine, intent.State)
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrCsrf)
}

// failingStore rejects writes to simulate a locked secret store.
type failingStore struct{ secret.Store }

func (f failingStore) Set(key, value string) error {
	return errors.New("store is locked")
}

func TestCallbackStorageFailure(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, failingStore{secret.NewMemory()})

	intent, err := m.StartLogin()
	require.NoError(t, err)

	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, intent.State)

	// Verified but not durable: reported as failed, not authenticated.
	assert.False(t, res.Authenticated)
	assert.ErrorIs(t, res.Err, ErrStorage)
	assert.False(t, m.AuthStatus().Authenticated)
}

func TestRestoreSession(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()

	m := newTestManager(t, idp, store)
	intent, err := m.StartLogin()
	require.NoError(t, err)
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	require.True(t, m.ProcessCallback(context.Background(), token, intent.State).Authenticated)

	// A fresh manager (new process) sharing the store restores the session.
	restored := newTestManager(t, idp, store)
	user, err := restored.RestoreSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-42", user.ID)
	assert.True(t, restored.AuthStatus().Authenticated)
}

func TestRestoreAfterSignOut(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()
	m := newTestManager(t, idp, store)

	intent, err := m.StartLogin()
	require.NoError(t, err)
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	require.True(t, m.ProcessCallback(context.Background(), token, intent.State).Authenticated)

	m.SignOut()
	requireStoreEmpty(t, store)
	assert.False(t, m.AuthStatus().Authenticated)

	user, err := m.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRestoreExpiredCredentialPurges(t *testing.T) {
	idp := newTestIdP(t)
	store := secret.NewMemory()

	// A credential that expired while the process was away.
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(-time.Hour))
	require.NoError(t, store.Set(secret.KeyToken, token))
	require.NoError(t, store.Set(secret.KeyUserID, "user-42"))
	require.NoError(t, store.Set(secret.KeySessionID, "sess-user-42"))

	m := newTestManager(t, idp, store)
	user, err := m.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)

	// No resurrection: the stale credential is gone.
	requireStoreEmpty(t, store)
	assert.False(t, m.AuthStatus().Authenticated)
}

func TestRestoreAbsentCredential(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory())

	user, err := m.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

// stubProfiles returns a fixed profile or error.
type stubProfiles struct {
	p   *profile.Profile
	err error
}

func (s stubProfiles) Fetch(context.Context, string, string) (*profile.Profile, error) {
	return s.p, s.err
}

func TestProfileEnrichment(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory(),
		WithProfileFetcher(stubProfiles{p: &profile.Profile{Email: "jo@example.com", Name: "Jo"}}))

	intent, err := m.StartLogin()
	require.NoError(t, err)
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, intent.State)

	require.True(t, res.Authenticated)
	assert.Equal(t, "jo@example.com", res.User.Email)
	assert.Equal(t, "Jo", res.User.Name)
}

func TestProfileFailureDoesNotBlockAuthentication(t *testing.T) {
	idp := newTestIdP(t)
	m := newTestManager(t, idp, secret.NewMemory(),
		WithProfileFetcher(stubProfiles{err: errors.New("directory unavailable")}))

	intent, err := m.StartLogin()
	require.NoError(t, err)
	token := idp.signToken(t, idp.priv, "user-42", time.Now().Add(time.Hour))
	res := m.ProcessCallback(context.Background(), token, intent.State)

	// Degrades to bare identifiers.
	require.True(t, res.Authenticated)
	assert.Equal(t, "user-42", res.User.ID)
	assert.Empty(t, res.User.Email)
}

func TestUnconfigured(t *testing.T) {
	a := New(nil)

	_, err := a.StartLogin()
	assert.ErrorIs(t, err, ErrNotConfigured)

	res := a.ProcessCallback(context.Background(), "tok", "state")
	assert.ErrorIs(t, res.Err, ErrNotConfigured)

	_, err = a.RestoreSession(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	a.SignOut()
	assert.False(t, a.AuthStatus().Authenticated)
}

func TestNewReturnsManagerWhenConfigured(t *testing.T) {
	idp := newTestIdP(t)
	a := New(idp.config(), WithStore(secret.NewMemory()))

	_, ok := a.(*Manager)
	assert.True(t, ok)
}
