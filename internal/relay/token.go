package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenExpiryBuffer is how long before expiry we should refresh
	TokenExpiryBuffer = 5 * time.Minute
)

// Common errors
var (
	ErrTokenExpired  = errors.New("token has expired")
	ErrRefreshFailed = errors.New("failed to refresh token")
	ErrInvalidToken  = errors.New("invalid token format")
)

// TokenResponse represents the response from the relay's token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// IsTokenExpired checks if a token has expired based on the stored expiry time
func IsTokenExpired(tokenExpiry int64) bool {
	if tokenExpiry == 0 {
		return true // No expiry stored, assume expired
	}
	return time.Now().Unix() >= tokenExpiry
}

// IsTokenExpiringSoon checks if token will expire within the buffer period
func IsTokenExpiringSoon(tokenExpiry int64, buffer time.Duration) bool {
	if tokenExpiry == 0 {
		return true // No expiry stored, assume expiring
	}
	expiresAt := time.Unix(tokenExpiry, 0)
	return time.Until(expiresAt) <= buffer
}

// ParseTokenExpiry extracts the expiration timestamp from a JWT without
// verifying the signature. The relay verifies the token on every call; this
// is only used to schedule refreshes.
func ParseTokenExpiry(token string) (int64, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, ErrInvalidToken
	}
	return exp.Unix(), nil
}
