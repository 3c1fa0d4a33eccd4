// Package credential stores Graph client secrets in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const (
	serviceName = "m365mail"

	// PasswordEnv holds the password of the encrypted file fallback. Without
	// it only OS keyrings are used.
	PasswordEnv = "M365MAIL_KEYRING_PASSWORD"

	defaultFileDir = "~/.config/m365mail/credentials"
)

// Store reads and writes client secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the first available OS keyring. An
// encrypted file under ~/.config/m365mail is added as a last resort when
// PasswordEnv is set.
func Open() (*Store, error) {
	cfg := keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	}
	if password := os.Getenv(PasswordEnv); password != "" {
		cfg.AllowedBackends = append(cfg.AllowedBackends, keyring.FileBackend)
		cfg.FileDir = defaultFileDir
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(password)
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// OpenFile returns a Store kept in an encrypted file keyring under dir.
func OpenFile(dir, password string) (*Store, error) {
	if password == "" {
		return nil, errors.New("file keyring password must not be empty")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening file keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// secretKey names the keyring item holding a client secret.
func secretKey(tenantID, clientID string) string {
	return "client-secret:" + tenantID + ":" + clientID
}

// ClientSecret returns the stored secret for the app registration. The
// boolean is false when nothing is stored.
func (s *Store) ClientSecret(tenantID, clientID string) (string, bool, error) {
	item, err := s.ring.Get(secretKey(tenantID, clientID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting client secret: %w", err)
	}
	return string(item.Data), true, nil
}

// SetClientSecret stores the secret for the app registration.
func (s *Store) SetClientSecret(tenantID, clientID, secret string) error {
	if secret == "" {
		return errors.New("client secret must not be empty")
	}
	err := s.ring.Set(keyring.Item{
		Key:         secretKey(tenantID, clientID),
		Data:        []byte(secret),
		Label:       "Microsoft Graph client secret",
		Description: "tenant " + tenantID + ", client " + clientID,
	})
	if err != nil {
		return fmt.Errorf("setting client secret: %w", err)
	}
	return nil
}

// DeleteClientSecret removes the stored secret. Removing a missing secret
// is not an error.
func (s *Store) DeleteClientSecret(tenantID, clientID string) error {
	err := s.ring.Remove(secretKey(tenantID, clientID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting client secret: %w", err)
	}
	return nil
}
