package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(signedToken(t, exp))
	if err != nil {
		t.Fatalf("TokenExpiry() error = %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("TokenExpiry() = %v, want %v", got, exp)
	}

	if _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Error("TokenExpiry() on an opaque token should fail")
	}
}

func TestCheckToken(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", signedToken(t, now.Add(time.Hour)), false},
		{"expired", signedToken(t, now.Add(-time.Minute)), true},
		{"expires within leeway", signedToken(t, now.Add(10*time.Second)), true},
		{"opaque token", "opaque-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToken(tt.token, now, 30*time.Second)
			if tt.wantErr != errors.Is(err, ErrTokenExpired) {
				t.Errorf("CheckToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
