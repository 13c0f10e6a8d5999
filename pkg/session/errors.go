package session

import "errors"

// The session layer's error taxonomy. Internal errors from dependencies are
// translated into these before crossing the public contract; raw token
// values never appear in any of them.
var (
	// ErrNotConfigured means required IdP settings are absent. It is never
	// downgraded to "skip verification".
	ErrNotConfigured = errors.New("authentication is not configured")

	// ErrCsrf covers a missing, expired or mismatched state parameter. The
	// caller should offer a fresh login; no partial state is retained.
	ErrCsrf = errors.New("csrf validation failed")

	// ErrVerification covers every token rejection: malformed, bad
	// signature, wrong issuer, expired, unresolvable key.
	ErrVerification = errors.New("token verification failed")

	// ErrStorage means the secret store could not durably hold the
	// credential. An otherwise-successful authentication is reported failed
	// in this case, since it would silently vanish on restart.
	ErrStorage = errors.New("credential storage failed")
)
