package appcore

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// AuthenticationError reports a rejected login. Message carries the server's
// response body and is safe to show to the user.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (status %d)", e.Status)
	}
	return e.Message
}

// NewAuthenticationError creates an AuthenticationError from a login response.
func NewAuthenticationError(status int, body string) *AuthenticationError {
	return &AuthenticationError{Status: status, Message: body}
}

// RefreshFailedError reports that the server rejected a refresh token. The
// session is unrecoverable with the stored credentials.
type RefreshFailedError struct {
	Status  int
	Message string
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("token refresh rejected (status %d): %s", e.Status, e.Message)
}

// NewRefreshFailedError creates a RefreshFailedError from a refresh response.
func NewRefreshFailedError(status int, body string) *RefreshFailedError {
	return &RefreshFailedError{Status: status, Message: body}
}
