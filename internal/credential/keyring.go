// Package credential keeps the IMAP password in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "mailsort"

// ErrNotFound is returned when no password is stored for a user.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets by key.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is the Store backed by the OS keyring, falling back to an
// encrypted file under ~/.config/mailsort/credentials.
type Keyring struct {
	open func() (keyring.Keyring, error)
}

// NewKeyring returns the system keyring store.
func NewKeyring() *Keyring {
	return &Keyring{open: openKeyring}
}

// newKeyringFrom wraps an already opened keyring.
func newKeyringFrom(ring keyring.Keyring) *Keyring {
	return &Keyring{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "credentials")
	}
	return filepath.Join(home, ".config", "mailsort", "credentials")
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  credentialsDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsort-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (k *Keyring) Set(key, value string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailsort IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key.
func (k *Keyring) Delete(key string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// IMAPKey is the keyring key of the IMAP password for username.
func IMAPKey(username string) string {
	return "imap-" + username
}

// IMAPPassword resolves the IMAP password: the environment variable env
// when set, otherwise the keyring entry of username.
func IMAPPassword(s Store, env, username string) (string, error) {
	if pw := os.Getenv(env); pw != "" {
		return pw, nil
	}
	return s.Get(IMAPKey(username))
}
