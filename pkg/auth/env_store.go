package auth

import "os"

// EnvStore reads credentials from environment variables. It is read-only
// and exists for CI and headless machines where neither the keychain nor
// an encrypted file is practical.
type EnvStore struct{}

// NewEnvStore creates an environment-variable credential store
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Store is unsupported; environment credentials are read-only
func (s *EnvStore) Store(cred *Credential) error {
	return ErrInvalidCredential
}

// Retrieve builds a credential from CAMCLASS_API_TOKEN / CAMCLASS_ENDPOINT
func (s *EnvStore) Retrieve(name string) (*Credential, error) {
	if name != "" && name != "environment" && name != "default" {
		return nil, ErrCredentialNotFound
	}

	token := os.Getenv("CAMCLASS_API_TOKEN")
	if token == "" {
		return nil, ErrCredentialNotFound
	}

	return &Credential{
		Name:     "environment",
		Endpoint: os.Getenv("CAMCLASS_ENDPOINT"),
		Token:    token,
	}, nil
}

// List returns the environment credential when present
func (s *EnvStore) List() ([]*Credential, error) {
	cred, err := s.Retrieve("environment")
	if err != nil {
		return nil, nil
	}
	return []*Credential{cred}, nil
}

// Delete is unsupported; environment credentials are read-only
func (s *EnvStore) Delete(name string) error {
	return ErrCredentialNotFound
}
