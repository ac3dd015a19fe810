// Package vault keeps vendor credentials encrypted at rest and refreshes them
// transparently on the request path.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // 96-bit IV
	tagSize   = 16 // 128-bit GCM auth tag
)

var (
	// ErrNoKey signals that the vault was built without an encryption key.
	ErrNoKey = errors.New("vault: no encryption key configured")
	// ErrCiphertext signals a malformed or tampered ciphertext. Callers must
	// fail closed: a request pipeline seeing this surfaces a 500 and never
	// falls back to treating the stored value as plaintext.
	ErrCiphertext = errors.New("vault: ciphertext invalid")
)

// Cipher performs AES-256-GCM encryption with a fresh 96-bit IV per call.
// Wire format: base64(iv || tag || ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a 64-hex-char key. An empty key returns a
// nil cipher, which the Vault treats as plaintext mode (development only).
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("vault: encryption key is not hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("vault: encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil {
		return "", ErrNoKey
	}
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	// Seal yields ciphertext || tag; the stored layout is iv || tag || ciphertext.
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+tagSize+len(ct))
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a value produced by Encrypt. Integrity is enforced by the GCM
// tag; any corruption yields ErrCiphertext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if len(raw) < nonceSize+tagSize {
		return "", ErrCiphertext
	}
	iv := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plaintext), nil
}
