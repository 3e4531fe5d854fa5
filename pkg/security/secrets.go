package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks a sealed value in object data
const sealedPrefix = "sealed:"

// SecretsManager handles encryption and decryption of secret object data
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSecretsManager creates a new secrets manager with the given encryption key
// The key should be 32 bytes for AES-256-GCM
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &SecretsManager{
		encryptionKey: key,
	}, nil
}

// NewSecretsManagerFromPassword creates a secrets manager using a password,
// typically the cluster secret. The password is hashed with SHA-256 to derive
// the encryption key.
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:])
}

func (sm *SecretsManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecret encrypts plaintext data using AES-256-GCM
// Returns encrypted data with nonce prepended
func (sm *SecretsManager) EncryptSecret(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	gcm, err := sm.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSecret decrypts data encrypted with EncryptSecret
// Expects nonce to be prepended to ciphertext
func (sm *SecretsManager) DecryptSecret(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	gcm, err := sm.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// SealData returns a copy of data with every value encrypted. Empty values
// and values already sealed are kept as is.
func (sm *SecretsManager) SealData(data map[string]string) (map[string]string, error) {
	sealed := make(map[string]string, len(data))
	for k, v := range data {
		if v == "" || IsSealed(v) {
			sealed[k] = v
			continue
		}
		ct, err := sm.EncryptSecret([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("failed to seal key %s: %w", k, err)
		}
		sealed[k] = sealedPrefix + base64.StdEncoding.EncodeToString(ct)
	}
	return sealed, nil
}

// OpenData returns a copy of data with every sealed value decrypted
func (sm *SecretsManager) OpenData(data map[string]string) (map[string]string, error) {
	opened := make(map[string]string, len(data))
	for k, v := range data {
		if !IsSealed(v) {
			opened[k] = v
			continue
		}
		ct, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode key %s: %w", k, err)
		}
		pt, err := sm.DecryptSecret(ct)
		if err != nil {
			return nil, fmt.Errorf("failed to open key %s: %w", k, err)
		}
		opened[k] = string(pt)
	}
	return opened, nil
}

// IsSealed reports if v was produced by SealData
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// TokenEqual compares two bearer tokens in constant time
func TokenEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
