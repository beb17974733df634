package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrCredentialNotFound is returned when no credential exists for a name
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidCredential is returned for empty or malformed credentials
	ErrInvalidCredential = errors.New("invalid credential")
)

// Credential holds access details for an inference endpoint
type Credential struct {
	Name         string    `json:"name"`
	Endpoint     string    `json:"endpoint"`
	Token        string    `json:"token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves a credential
	Store(cred *Credential) error

	// Retrieve gets the credential with the given name
	Retrieve(name string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential with the given name
	Delete(name string) error
}

// Manager handles credential storage with fallback mechanisms: the system
// keychain when available, an encrypted file otherwise, and environment
// variables as a read-only last resort.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with the available backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvStore())

	return &Manager{stores: stores}, nil
}

// Store saves the credential in the first writable backend
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" || cred.Token == "" {
		return ErrInvalidCredential
	}
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(cred); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("no store accepted the credential: %w", lastErr)
}

// Retrieve gets the named credential from the first backend that has it
func (m *Manager) Retrieve(name string) (*Credential, error) {
	for _, store := range m.stores {
		cred, err := store.Retrieve(name)
		if err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, ErrCredentialNotFound
}

// RetrieveDefault returns the sole stored credential, or the one named
// "default" when several exist.
func (m *Manager) RetrieveDefault() (*Credential, error) {
	if cred, err := m.Retrieve("default"); err == nil {
		return cred, nil
	}

	creds, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(creds) == 1 {
		return creds[0], nil
	}
	return nil, ErrCredentialNotFound
}

// List returns credentials from all backends, first backend wins per name
func (m *Manager) List() ([]*Credential, error) {
	seen := make(map[string]bool)
	var all []*Credential

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if seen[cred.Name] {
				continue
			}
			seen[cred.Name] = true
			all = append(all, cred)
		}
	}
	return all, nil
}

// Delete removes the named credential from every backend that has it
func (m *Manager) Delete(name string) error {
	deleted := false
	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return ErrCredentialNotFound
	}
	return nil
}

// getConfigDir returns the camclass configuration directory
func getConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "camclass"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "camclass"), nil
}
