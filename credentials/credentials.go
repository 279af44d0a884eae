// Package credentials stores the PostgreSQL password in the system keyring
// (macOS Keychain, Windows Credential Manager, Linux Secret Service) so it
// never has to be written to the config file.
package credentials

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/db"
)

// DefaultService is the keyring service name for council credentials.
const DefaultService = "council-search"

// ErrKeyringUnavailable indicates the system keyring is not available.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// Store reads and writes database passwords in the system keyring.
type Store struct {
	service string
}

// NewStore creates a Store using the default keyring service.
func NewStore() *Store {
	return &Store{service: DefaultService}
}

// NewStoreWithService creates a Store using a custom keyring service.
func NewStoreWithService(service string) *Store {
	return &Store{service: service}
}

// Account returns the keyring account name for a database config.
func Account(cfg *db.Config) string {
	return fmt.Sprintf("%s@%s:%d/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)
}

// SavePassword stores the password for account, replacing any existing one.
func (s *Store) SavePassword(account, password string) error {
	if strings.TrimSpace(account) == "" {
		return fmt.Errorf("account is required: %w", cserrors.ErrValidation)
	}
	if password == "" {
		return fmt.Errorf("password is required: %w", cserrors.ErrValidation)
	}
	if err := keyring.Set(s.service, account, password); err != nil {
		return fmt.Errorf("%w: storing password: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

// Password returns the stored password for account.
func (s *Store) Password(account string) (string, error) {
	password, err := keyring.Get(s.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("no password stored for %s: %w", account, cserrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return password, nil
}

// Delete removes the stored password for account. Deleting a missing
// password is not an error.
func (s *Store) Delete(account string) error {
	err := keyring.Delete(s.service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

// Resolve fills cfg.Password from the keyring when neither a password nor a
// DSN is configured. A missing entry leaves cfg unchanged.
func (s *Store) Resolve(cfg *db.Config) error {
	if cfg.Password != "" || cfg.DSN != "" {
		return nil
	}
	password, err := s.Password(Account(cfg))
	if cserrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg.Password = password
	return nil
}

// Description returns a human-readable name of the keyring backend.
func Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// MaskCredential masks all but the first and last two characters.
func MaskCredential(cred string) string {
	if len(cred) <= 4 {
		return strings.Repeat("*", len(cred))
	}
	return cred[:2] + strings.Repeat("*", len(cred)-4) + cred[len(cred)-2:]
}
