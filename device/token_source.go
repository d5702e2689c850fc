package device

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// TokenSource yields the platform push token. It stands in for the platform
// notification SDK: an empty token with a nil error means "not available yet".
type TokenSource interface {
	PushToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// PushToken implements TokenSource.
func (f TokenSourceFunc) PushToken(ctx context.Context) (string, error) { return f(ctx) }

// StaticTokenSource returns a TokenSource that always yields token.
//
//nolint:ireturn
func StaticTokenSource(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// EnvTokenSource reads the push token from the named environment variable.
//
//nolint:ireturn
func EnvTokenSource(name string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return strings.TrimSpace(os.Getenv(name)), nil
	})
}

// FileTokenSource reads the push token from a file. A missing file means the
// token is not available yet, not an error.
//
//nolint:ireturn
func FileTokenSource(path string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	})
}
