// Package store provides the durable key-value secure store the session and
// push subsystems persist their state into. All implementations survive
// process restarts except the in-memory one, which backs tests and the silent
// fallback path.
package store

import "context"

// Persisted keys. These are a wire-level contract with earlier installs:
// renaming one orphans whatever the previous version wrote.
const (
	KeyAccessToken     = "accessToken"
	KeyRefreshToken    = "refreshToken"
	KeySessionID       = "sessionId"
	KeyPushToken       = "pushToken"
	KeyPushTokenFailed = "pushTokenFailed"
	KeyDeviceID        = "deviceId"
)

// Store is a durable per-key string store. Get returns the empty string with
// a nil error when the key is absent; absence is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
