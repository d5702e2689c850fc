package cmd

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/curaflow/appcore"
	"github.com/curaflow/appcore/config"
	"github.com/curaflow/appcore/device"
	"github.com/curaflow/appcore/store"
)

// newStore builds the secure store from config: redis when an address is
// configured, otherwise an encrypted file. Either way the store is wrapped
// so failures silently fall back to an in-memory copy for the life of the
// process rather than breaking the session.
//
//nolint:ireturn
func newStore(cfg *config.ClientConfig) (store.Store, error) {
	var primary store.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		primary = store.NewRedisStore(client, cfg.RedisPrefix)
	} else {
		if cfg.StoreSecret == "" {
			return nil, fmt.Errorf("STORE_SECRET must be set when using the file store")
		}
		key := sha256.Sum256([]byte(cfg.StoreSecret))
		fileStore, err := store.NewFileStore(os.ExpandEnv(cfg.StorePath), key[:])
		if err != nil {
			return nil, fmt.Errorf("opening secure store: %w", err)
		}
		primary = fileStore
	}
	return store.NewFallback(primary, store.NewMemoryStore()), nil
}

type app struct {
	store store.Store
	auth  *appcore.AuthManager
	push  *appcore.PushRegistrar
}

func newApp(cfg *config.ClientConfig) (*app, error) {
	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	auth := appcore.NewAuthManager(cfg.APIBaseURL, st,
		appcore.WithPlatform(cfg.Platform))
	push := appcore.NewPushRegistrar(auth, st, device.NewProvider(st),
		appcore.WithRetryInterval(cfg.PushRetryInterval()),
		appcore.WithRetryWindow(cfg.PushRetryWindow()))
	return &app{store: st, auth: auth, push: push}, nil
}

// pushTokenSource resolves where the platform push token comes from.
//
//nolint:ireturn
func pushTokenSource(cfg *config.ClientConfig) device.TokenSource {
	if cfg.PushTokenFile != "" {
		return device.FileTokenSource(cfg.PushTokenFile)
	}
	return device.EnvTokenSource(cfg.PushTokenEnv)
}
