package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore implements CredentialStore using an encrypted file,
// the fallback when no system keychain is available.
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

// encryptedFile is the on-disk layout
type encryptedFile struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewEncryptedFileStore creates a new encrypted file-based credential store
func NewEncryptedFileStore(filePath string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	store := &EncryptedFileStore{filepath: filePath}

	passphrase, err := store.getPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	store.passphrase = passphrase

	return store, nil
}

// Store saves a credential to the encrypted file
func (e *EncryptedFileStore) Store(cred *Credential) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cred == nil || cred.Name == "" {
		return ErrInvalidCredential
	}

	creds, err := e.load()
	if err != nil {
		return fmt.Errorf("failed to load existing credentials: %w", err)
	}

	creds[cred.Name] = *cred
	return e.save(creds)
}

// Retrieve gets a credential from the encrypted file
func (e *EncryptedFileStore) Retrieve(name string) (*Credential, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if name == "" {
		return nil, ErrInvalidCredential
	}

	creds, err := e.load()
	if err != nil {
		return nil, err
	}

	cred, ok := creds[name]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

// List returns all credentials in the encrypted file
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	creds, err := e.load()
	if err != nil {
		return nil, err
	}

	out := make([]*Credential, 0, len(creds))
	for name := range creds {
		cred := creds[name]
		out = append(out, &cred)
	}
	return out, nil
}

// Delete removes a credential from the encrypted file
func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, err := e.load()
	if err != nil {
		return err
	}
	if _, ok := creds[name]; !ok {
		return ErrCredentialNotFound
	}

	delete(creds, name)
	return e.save(creds)
}

// load decrypts the credential map; a missing file yields an empty map
func (e *EncryptedFileStore) load() (map[string]Credential, error) {
	data, err := os.ReadFile(e.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Credential), nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var file encryptedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := decrypt(ciphertext, e.passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds map[string]Credential
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}

// save encrypts and writes the credential map
func (e *EncryptedFileStore) save(creds map[string]Credential) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	ciphertext, err := encrypt(plaintext, e.passphrase, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	file := encryptedFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}

	return os.WriteFile(e.filepath, data, 0600)
}

// getPassphrase derives the file passphrase. An explicit key wins; the
// fallback ties the file to the local account.
func (e *EncryptedFileStore) getPassphrase() (string, error) {
	if key := os.Getenv("CAMCLASS_VAULT_KEY"); key != "" {
		return key, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "camclass"
	}
	return fmt.Sprintf("camclass-%s-%s", hostname, os.Getenv("USER")), nil
}

// encrypt seals data with AES-GCM using a PBKDF2-derived key
func encrypt(plaintext []byte, passphrase string, salt []byte) ([]byte, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens data sealed by encrypt
func decrypt(ciphertext []byte, passphrase string, salt []byte) ([]byte, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
