package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	nonceSize      = 12
	keySize        = 32
	keyIterations  = 100000
	keySalt        = "chatfunnel-column-encryption-v1"
	lookupSalt     = "chatfunnel-lookup-v1"
	encryptionEnv  = "CHATFUNNEL_ENABLE_ENCRYPTION"
	secretEnv      = "CHATFUNNEL_ENCRYPTION_SECRET"
	minSecretChars = 32
)

// encryptor provides optional AES-GCM column encryption. Columns used in
// WHERE clauses (phones, opaque ids) use deterministic nonces so lookups
// keep working against ciphertext; free-text content uses random nonces.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(secretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", secretEnv)
	}
	if len(secret) < minSecretChars {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretChars)
	}
	return pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keySize, sha256.New), nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// EncryptForLookup is intentionally deterministic: the nonce is derived
// from the plaintext so equal values produce equal ciphertext and can be
// matched in WHERE clauses.
func (e *encryptor) EncryptForLookup(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	hash := sha256.Sum256([]byte(plaintext + lookupSalt))
	nonce := hash[:nonceSize]

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil) // #nosec G407 - deterministic nonce required for searchable encryption
	return base64.StdEncoding.EncodeToString(append(nonce[:nonceSize:nonceSize], ciphertext...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if !isEncryptionEnabled() {
		return plaintext, nil
	}
	return e.Encrypt(plaintext)
}

func (e *encryptor) EncryptForLookupIfEnabled(plaintext string) (string, error) {
	if !isEncryptionEnabled() {
		return plaintext, nil
	}
	return e.EncryptForLookup(plaintext)
}

func (e *encryptor) DecryptIfEnabled(ciphertext string) (string, error) {
	if !isEncryptionEnabled() {
		return ciphertext, nil
	}
	return e.Decrypt(ciphertext)
}

func isEncryptionEnabled() bool {
	return os.Getenv(encryptionEnv) == "true"
}
