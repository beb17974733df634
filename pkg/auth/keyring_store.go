package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "camclass"
	keyringPrefix  = "endpoint_"
	keyringIndex   = "credential_index"
)

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based credential store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves a credential to the system keychain
func (k *KeyringStore) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" {
		return ErrInvalidCredential
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+cred.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return k.addToIndex(cred.Name)
}

// Retrieve gets a credential from the system keychain
func (k *KeyringStore) Retrieve(name string) (*Credential, error) {
	if name == "" {
		return nil, ErrInvalidCredential
	}

	data, err := keyring.Get(keyringService, keyringPrefix+name)
	if err != nil {
		return nil, ErrCredentialNotFound
	}

	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// List returns all credentials recorded in the keychain index
func (k *KeyringStore) List() ([]*Credential, error) {
	names, err := k.index()
	if err != nil {
		return nil, err
	}

	var creds []*Credential
	for _, name := range names {
		if cred, err := k.Retrieve(name); err == nil {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// Delete removes a credential from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredential
	}
	if err := keyring.Delete(keyringService, keyringPrefix+name); err != nil {
		return ErrCredentialNotFound
	}
	return k.removeFromIndex(name)
}

// The keychain has no enumeration API, so store names in an index entry.

func (k *KeyringStore) index() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return nil, nil // empty index
	}
	if data == "" {
		return nil, nil
	}
	return strings.Split(data, ","), nil
}

func (k *KeyringStore) addToIndex(name string) error {
	names, _ := k.index()
	for _, existing := range names {
		if existing == name {
			return nil
		}
	}
	names = append(names, name)
	return keyring.Set(keyringService, keyringIndex, strings.Join(names, ","))
}

func (k *KeyringStore) removeFromIndex(name string) error {
	names, _ := k.index()
	kept := names[:0]
	for _, existing := range names {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	return keyring.Set(keyringService, keyringIndex, strings.Join(kept, ","))
}
