package store

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
)

// TestGenerateKey verifies the generated master key is 32 bytes of hex
func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		t.Errorf("Expected valid hex, got error: %v", err)
	}

	other, _ := GenerateKey()
	if key == other {
		t.Error("Expected two generated keys to differ")
	}
}

// TestNewCipher_Invalid verifies bad master keys are rejected with clear errors
func TestNewCipher_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", "deadbeef"},
		{"too long", strings.Repeat("ab", 40)},
	}

	for _, tt := range tests {
		if _, err := NewCipher(tt.key); err == nil {
			t.Errorf("NewCipher(%s) expected error, got nil", tt.name)
		}
	}
}

// TestEncryptDecrypt verifies the roundtrip and nonce freshness
func TestEncryptDecrypt(t *testing.T) {
	key, _ := GenerateKey()
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	plaintext := []byte(`{"hp": 18}`)
	sealed, err := c.Encrypt("profiles", plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("Expected ciphertext to not contain the plaintext")
	}

	opened, err := c.Decrypt("profiles", sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Expected %s, got %s", plaintext, opened)
	}

	// Fresh nonce per call
	again, _ := c.Encrypt("profiles", plaintext)
	if bytes.Equal(sealed, again) {
		t.Error("Expected two encryptions of the same value to differ")
	}
}

// TestDecrypt_WrongCacheKey verifies per-key derivation stops cross-key reads
func TestDecrypt_WrongCacheKey(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipher(key)

	sealed, err := c.Encrypt("profiles", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := c.Decrypt("pairing_id", sealed); err == nil {
		t.Error("Expected decryption under another cache key to fail")
	}
}

// TestDecrypt_WrongMasterKey verifies a different master key cannot open values
func TestDecrypt_WrongMasterKey(t *testing.T) {
	keyA, _ := GenerateKey()
	keyB, _ := GenerateKey()
	a, _ := NewCipher(keyA)
	b, _ := NewCipher(keyB)

	sealed, _ := a.Encrypt("profiles", []byte("secret"))
	if _, err := b.Decrypt("profiles", sealed); err == nil {
		t.Error("Expected decryption with a different master key to fail")
	}
}

// TestDecrypt_Tampered verifies GCM refuses modified or truncated ciphertext
func TestDecrypt_Tampered(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipher(key)

	sealed, _ := c.Encrypt("profiles", []byte("secret"))
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Decrypt("profiles", sealed); err == nil {
		t.Error("Expected tampered ciphertext to fail")
	}

	if _, err := c.Decrypt("profiles", []byte{0x01, 0x02}); err == nil {
		t.Error("Expected short ciphertext to fail")
	}
}

// TestEncryptedStore verifies the cache roundtrip with encryption at rest and
// that a different key cannot read it back
func TestEncryptedStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	keyA, _ := GenerateKey()
	keyB, _ := GenerateKey()

	cipherA, _ := NewCipher(keyA)
	s, err := Open(path, cipherA)
	if err != nil {
		t.Fatalf("Failed to open encrypted store: %v", err)
	}
	if err := s.Put("greeting", []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Expected hello, got %s", got)
	}
	s.Close()

	cipherB, _ := NewCipher(keyB)
	s, err = Open(path, cipherB)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()
	if _, err := s.Get("greeting"); err == nil {
		t.Error("Expected read with the wrong key to fail")
	}
}
