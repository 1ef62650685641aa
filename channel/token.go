package channel

import (
	"time"

	"client/domain"

	"github.com/golang-jwt/jwt/v5"
)

// CheckToken rejects a missing or already expired bearer token before any
// network round trip. The signature is the server's business; opaque tokens
// pass through untouched.
func CheckToken(token string, now time.Time) error {
	if token == "" {
		return &domain.AuthError{Code: domain.AuthCodeAuthFailed, Message: "no access token"}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return &domain.AuthError{Code: domain.AuthCodeTokenExpired, Message: "access token expired"}
	}
	return nil
}
