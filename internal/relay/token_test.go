package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestIsTokenExpired verifies expiry checks treat zero as expired
func TestIsTokenExpired(t *testing.T) {
	if !IsTokenExpired(0) {
		t.Error("Expected zero expiry to count as expired")
	}
	if !IsTokenExpired(time.Now().Add(-time.Hour).Unix()) {
		t.Error("Expected past expiry to count as expired")
	}
	if IsTokenExpired(time.Now().Add(time.Hour).Unix()) {
		t.Error("Expected future expiry to not count as expired")
	}
}

// TestIsTokenExpiringSoon verifies the refresh buffer window
func TestIsTokenExpiringSoon(t *testing.T) {
	if !IsTokenExpiringSoon(0, TokenExpiryBuffer) {
		t.Error("Expected zero expiry to count as expiring")
	}
	if !IsTokenExpiringSoon(time.Now().Add(2*time.Minute).Unix(), 5*time.Minute) {
		t.Error("Expected expiry inside the buffer to count as expiring")
	}
	if IsTokenExpiringSoon(time.Now().Add(time.Hour).Unix(), 5*time.Minute) {
		t.Error("Expected expiry outside the buffer to not count as expiring")
	}
}

// TestParseTokenExpiry verifies the exp claim comes back from a signed token
func TestParseTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "companion",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}

	got, err := ParseTokenExpiry(signed)
	if err != nil {
		t.Fatalf("ParseTokenExpiry failed: %v", err)
	}
	if got != exp.Unix() {
		t.Errorf("Expected expiry %d, got %d", exp.Unix(), got)
	}
}

// TestParseTokenExpiry_Invalid verifies garbage and claim-less tokens are rejected
func TestParseTokenExpiry_Invalid(t *testing.T) {
	if _, err := ParseTokenExpiry("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "companion"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	if _, err := ParseTokenExpiry(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for missing exp claim, got %v", err)
	}
}
