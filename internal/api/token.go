package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned before any request is made with a token whose
// exp claim has passed.
var ErrTokenExpired = errors.New("access token expired")

// TokenExpiry reads the exp claim of an access token. The signature is not
// verified; only the backend can do that.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("access token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// CheckToken returns ErrTokenExpired when token expires within leeway of now.
// Tokens that are not JWTs pass; the backend decides about those.
func CheckToken(token string, now time.Time, leeway time.Duration) error {
	exp, err := TokenExpiry(token)
	if err != nil {
		return nil
	}
	if !now.Add(leeway).Before(exp) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
