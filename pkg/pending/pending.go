package pending

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoPendingRequest = errors.New("no pending login request")
	ErrStateExpired     = errors.New("login request expired")
	ErrStateMismatch    = errors.New("state parameter mismatch")
)

// DefaultTTL bounds how long a started login may wait for its callback.
const DefaultTTL = 5 * time.Minute

// request is the single in-flight login attempt. The uuid ties the expiry
// timer to this exact instance so a stale timer cannot clear a newer request.
type request struct {
	id        uuid.UUID
	state     string
	createdAt time.Time
	expiresAt time.Time
}

// Tracker owns the anti-CSRF state of the single in-flight login attempt.
// At most one request exists at a time; beginning a new one supersedes and
// permanently invalidates any prior one.
type Tracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	cur   *request
	timer *time.Timer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides the request TTL.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker with the default TTL.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin generates a fresh state parameter and stores it as the sole pending
// request, replacing any previous one and cancelling its timer.
func (t *Tracker) Begin() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}

	now := t.now()
	req := &request{
		id:        uuid.New(),
		state:     state,
		createdAt: now,
		expiresAt: now.Add(t.ttl),
	}
	t.cur = req
	t.timer = time.AfterFunc(t.ttl, func() { t.expire(req.id) })

	return state, nil
}

// Validate consumes the pending request iff it exists, is unexpired and
// received matches its state under constant-time comparison. Any failure
// clears the slot: a state is never given a second chance.
func (t *Tracker) Validate(received string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cur == nil {
		return ErrNoPendingRequest
	}

	// Expiry wins over an exact match.
	if t.now().After(t.cur.expiresAt) {
		t.clearLocked()
		return ErrStateExpired
	}

	if subtle.ConstantTimeCompare([]byte(received), []byte(t.cur.state)) != 1 {
		t.clearLocked()
		return ErrStateMismatch
	}

	t.clearLocked()
	return nil
}

// Pending reports whether an unexpired request is waiting for its callback.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur != nil && !t.now().After(t.cur.expiresAt)
}

// Clear drops any pending request and cancels its timer.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// expire is the timer callback. It is a no-op unless the request it was armed
// for is still the current one.
func (t *Tracker) expire(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cur != nil && t.cur.id == id {
		t.cur = nil
		t.timer = nil
	}
}

func (t *Tracker) clearLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.cur = nil
}

// generateState returns a 256-bit random identifier, base64url encoded.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
