package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Cipher encrypts cache values at rest with AES-256-GCM. Each cache key gets
// its own derived key via HKDF, so a value copied between keys will not
// decrypt.
type Cipher struct {
	masterKey []byte
}

// NewCipher creates a cipher from a 32-byte hex-encoded master key
// (64 characters).
func NewCipher(masterKeyHex string) (*Cipher, error) {
	if masterKeyHex == "" {
		return nil, errors.New("store: cache key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("store: invalid cache key format (must be hex): %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("store: cache key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	return &Cipher{masterKey: masterKey}, nil
}

// deriveKey derives the per-cache-key AES key.
func (c *Cipher) deriveKey(cacheKey string) ([]byte, error) {
	reader := hkdf.New(sha256.New, c.masterKey, []byte(cacheKey), []byte("sheetlink-cache-encryption"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with the key derived for cacheKey, nonce prepended.
func (c *Cipher) Encrypt(cacheKey string, plaintext []byte) ([]byte, error) {
	key, err := c.deriveKey(cacheKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a sealed value produced by Encrypt.
func (c *Cipher) Decrypt(cacheKey string, sealed []byte) ([]byte, error) {
	key, err := c.deriveKey(cacheKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random master key in hex, for setup.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
