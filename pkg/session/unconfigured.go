package session

import "context"

// Unconfigured implements Authenticator when required IdP settings are
// absent. Every operation deterministically reports ErrNotConfigured; the
// feature surfaces as "not configured", never as skipped verification.
type Unconfigured struct{}

func (Unconfigured) StartLogin() (*LoginIntent, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) ProcessCallback(context.Context, string, string) *CallbackResult {
	return &CallbackResult{Err: ErrNotConfigured}
}

func (Unconfigured) RestoreSession(context.Context) (*User, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) SignOut() {}

func (Unconfigured) AuthStatus() Status {
	return Status{}
}
