// Package secret stores credentials in the OS secure credential facility,
// namespaced under a fixed service identifier. Values held here must never
// be logged.
package secret

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ErrNotFound means the requested entry does not exist.
var ErrNotFound = errors.New("secret not found")

// DefaultService is the namespace used when none is configured.
const DefaultService = "dev.authbridge.credentials"

// Entry keys for the persisted credential. These three entries are the only
// durable representation of a credential anywhere on the machine.
const (
	KeyToken     = "token"
	KeyUserID    = "user_id"
	KeySessionID = "session_id"
)

// Store is the minimal contract of a secure key-value store. Write and
// delete failures propagate; callers must not assume success.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// Keyring stores entries in the OS keychain / credential vault / secret
// service, namespaced under a fixed service identifier.
type Keyring struct {
	service string
}

// NewKeyring creates a keyring-backed store under the given service
// namespace.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultService
	}
	return &Keyring{service: service}
}

func (k *Keyring) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("failed to write secret %q: %w", key, err)
	}
	return nil
}

func (k *Keyring) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read secret %q: %w", key, err)
	}
	return value, nil
}

func (k *Keyring) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete secret %q: %w", key, err)
	}
	return nil
}
