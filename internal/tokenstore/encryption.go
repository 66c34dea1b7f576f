package tokenstore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// encryptedPrefix marks a sealed token record on disk or in the database.
var encryptedPrefix = []byte("jarvis-enc:v1:")

// Encryptor seals token records at rest with AES-256-GCM.
//
// The sealed form is encryptedPrefix followed by base64(nonce || ciphertext || tag).
// A nil or disabled Encryptor passes data through unchanged.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor for a 32-byte key. An empty key disables
// encryption.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: gcm}, nil
}

// Enabled reports whether records are encrypted.
func (e *Encryptor) Enabled() bool {
	return e != nil && e.aead != nil
}

// Seal encrypts plaintext. A fresh random nonce is used for every call.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if !e.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, 0, len(encryptedPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	out = append(out, encryptedPrefix...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return out, nil
}

// Open reverses Seal. Plaintext records written before encryption was
// enabled are returned unchanged so they can be re-saved encrypted.
func (e *Encryptor) Open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, encryptedPrefix) {
		return data, nil
	}
	if !e.Enabled() {
		return nil, fmt.Errorf("token record is encrypted but no encryption key is configured")
	}

	sealed, err := base64.StdEncoding.DecodeString(string(data[len(encryptedPrefix):]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey generates a random 32-byte key, base64 encoded for use in
// JARVIS_TOKEN_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// KeyFromBase64 decodes a base64 key. An empty string yields a nil key
// (encryption disabled).
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d bytes", len(key))
	}
	return key, nil
}
