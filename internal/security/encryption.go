// Package security holds the field encryption and access token primitives
// protecting data shared with healthcare providers.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks values written by Seal so a future key or format change can be detected
const sealedPrefix = "v1:"

// ErrNotSealed means the stored value was not produced by Seal
var ErrNotSealed = errors.New("value is not a sealed field")

// Encryptor seals individual fields with AES-256-GCM. Each sealed value is bound
// to a caller-chosen scope, typically the owning user's ID, so a ciphertext copied
// onto another user's row does not open.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor takes a 32-byte AES-256 key
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromBase64 decodes a standard base64 key, as stored in configuration
func NewEncryptorFromBase64(encoded string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return NewEncryptor(key)
}

// Seal encrypts plaintext for scope. The empty string stays empty.
func (e *Encryptor) Seal(plaintext, scope string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(scope))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It fails when scope differs from the one used to seal.
func (e *Encryptor) Open(sealed, scope string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrNotSealed
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSealed, err)
	}

	n := e.aead.NonceSize()
	if len(data) < n+e.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrNotSealed)
	}

	plaintext, err := e.aead.Open(nil, data[:n], data[n:], []byte(scope))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value looks like output of Seal
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
