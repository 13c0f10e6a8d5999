package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginGeneratesDistinctStates(t *testing.T) {
	tr := NewTracker()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		state, err := tr.Begin()
		require.NoError(t, err)
		require.NotEmpty(t, state)

		_, dup := seen[state]
		require.False(t, dup, "state %q generated twice", state)
		seen[state] = struct{}{}
	}
}

func TestValidateConsumesState(t *testing.T) {
	tr := NewTracker()

	state, err := tr.Begin()
	require.NoError(t, err)

	require.NoError(t, tr.Validate(state))
	// Single use: the same state must not validate twice.
	assert.ErrorIs(t, tr.Validate(state), ErrNoPendingRequest)
}

func TestValidateMismatchClearsRequest(t *testing.T) {
	tr := NewTracker()

	state, err := tr.Begin()
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Validate("not-the-state"), ErrStateMismatch)
	// A failed attempt burns the request; the real state is gone too.
	assert.ErrorIs(t, tr.Validate(state), ErrNoPendingRequest)
}

func TestValidateNoPendingRequest(t *testing.T) {
	tr := NewTracker()
	assert.ErrorIs(t, tr.Validate("anything"), ErrNoPendingRequest)
}

func TestExpiryWinsOverExactMatch(t *testing.T) {
	now := time.Now()
	tr := NewTracker(WithClock(func() time.Time { return now }))

	state, err := tr.Begin()
	require.NoError(t, err)

	// Advance the simulated clock past the TTL without waiting for the timer.
	now = now.Add(DefaultTTL + time.Second)
	assert.ErrorIs(t, tr.Validate(state), ErrStateExpired)
	assert.ErrorIs(t, tr.Validate(state), ErrNoPendingRequest)
}

func TestBeginSupersedesPriorRequest(t *testing.T) {
	tr := NewTracker()

	first, err := tr.Begin()
	require.NoError(t, err)
	second, err := tr.Begin()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, tr.Validate(first), ErrStateMismatch)

	// The mismatch burned the slot, so even the second state needs a fresh Begin.
	assert.ErrorIs(t, tr.Validate(second), ErrNoPendingRequest)
}

func TestTimerClearsExpiredRequest(t *testing.T) {
	tr := NewTracker(WithTTL(10 * time.Millisecond))

	state, err := tr.Begin()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !tr.Pending() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, tr.Validate(state), ErrNoPendingRequest)
}

func TestStaleTimerDoesNotClearNewerRequest(t *testing.T) {
	tr := NewTracker(WithTTL(20 * time.Millisecond))

	_, err := tr.Begin()
	require.NoError(t, err)

	// Replace the request, then outwait the first TTL. Only the second
	// request's timer is armed; the first one was stopped and its identity
	// no longer matches.
	WithTTL(time.Minute)(tr)
	second, err := tr.Begin()
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, tr.Pending())
	assert.NoError(t, tr.Validate(second))
}

func TestClear(t *testing.T) {
	tr := NewTracker()

	state, err := tr.Begin()
	require.NoError(t, err)

	tr.Clear()
	assert.False(t, tr.Pending())
	assert.ErrorIs(t, tr.Validate(state), ErrNoPendingRequest)
}
