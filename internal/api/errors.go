// Package api provides error types for Stack AI API responses.
package api

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors an *APIError unwraps to.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")

	// ErrNoConnection is returned when the account has no drive connection.
	ErrNoConnection = errors.New("no Google Drive connection found; connect Google Drive in Stack AI first")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Operation  string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status %d: %s", e.Operation, e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 401, 403:
		return ErrUnauthorized
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimited
	}
	return nil
}

// IsAuthError checks if an error means the token was rejected or has expired.
//
// Usage:
//
//	if api.IsAuthError(err) {
//	    // ask the user to run 'kb-picker login' again
//	}
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenExpired) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"jwt expired", "invalid jwt", "unauthorized", "invalid login credentials"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsNotFound checks if an error indicates a missing resource or knowledge base.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
