package secret

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// File is a fallback store for hosts without a usable keychain (headless
// Linux, containers). Entries live in a single secretbox-sealed file; the
// sealing key is a machine-local random secret created on first use. The
// directory is 0700 and both files 0600, matching what the OS facility
// would enforce.
type File struct {
	mu   sync.Mutex
	path string
	key  [32]byte
}

// NewFile opens (or initializes) a sealed file store at path.
func NewFile(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}

	f := &File{path: path}
	if err := f.loadOrCreateKey(path + ".key"); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadOrCreateKey(keyPath string) error {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != len(f.key) {
			return fmt.Errorf("sealing key at %s has unexpected size %d", keyPath, len(data))
		}
		copy(f.key[:], data)
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read sealing key: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, f.key[:]); err != nil {
		return fmt.Errorf("failed to generate sealing key: %w", err)
	}
	if err := os.WriteFile(keyPath, f.key[:], 0600); err != nil {
		return fmt.Errorf("failed to write sealing key: %w", err)
	}
	return nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return f.save(entries)
}

func (f *File) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}

func (f *File) load() (map[string]string, error) {
	sealed, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	if len(sealed) < 24 {
		return nil, errors.New("secret file is truncated")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &f.key)
	if !ok {
		return nil, errors.New("failed to unseal secret file")
	}

	var entries map[string]string
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode secret file: %w", err)
	}
	return entries, nil
}

func (f *File) save(entries map[string]string) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &f.key)

	if err := os.WriteFile(f.path, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	return nil
}
