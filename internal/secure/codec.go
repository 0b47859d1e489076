// Package secure implements the dual representation of subscriber email
// addresses: a deterministic keyed fingerprint used as the lookup key and an
// authenticated, non-deterministic ciphertext used only at send time.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrTampered is returned when ciphertext authentication fails during
// decryption. It indicates a corrupt or forged record, never a wrong address.
var ErrTampered = errors.New("ciphertext authentication failed")

// Codec derives fingerprints and reversible ciphertext for email addresses.
// The salt and key are injected at construction and never read from ambient
// process state. Safe for concurrent use.
type Codec struct {
	salt []byte
	aead cipher.AEAD
}

// NewCodec builds a Codec from the configured fingerprint salt and the
// hex-encoded 32-byte AES key.
func NewCodec(salt, hexKey string) (*Codec, error) {
	if salt == "" {
		return nil, errors.New("secure: fingerprint salt is required")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secure: aes key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secure: aes key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secure: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secure: %w", err)
	}
	return &Codec{salt: []byte(salt), aead: aead}, nil
}

// NormalizeEmail lowercases and trims an address so equivalent inputs map to
// the same fingerprint.
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Fingerprint returns the deterministic HMAC-SHA256 fingerprint of the
// normalized address, hex encoded. It is used purely as an index key and
// cannot be reversed to recover the address.
func (c *Codec) Fingerprint(address string) string {
	mac := hmac.New(sha256.New, c.salt)
	mac.Write([]byte(NormalizeEmail(address)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt returns authenticated ciphertext for the address in the form
// "nonce:payload" (both hex). A fresh random nonce per call guarantees that
// repeated encryptions of the same address produce different ciphertext, so
// records cannot be correlated by comparing bytes.
func (c *Codec) Encrypt(address string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secure: nonce generation failed: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(address), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt is the exact inverse of Encrypt. Any authentication failure is
// reported as ErrTampered.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	parts := strings.SplitN(ciphertext, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("secure: malformed ciphertext: %w", ErrTampered)
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("secure: malformed nonce: %w", ErrTampered)
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secure: malformed payload: %w", ErrTampered)
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrTampered
	}
	return string(plain), nil
}

// RandomToken returns n bytes of cryptographically secure randomness, hex
// encoded (2n characters). Used for subscriber ids, confirmation codes, and
// do-not-email capability codes.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secure: token generation failed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
