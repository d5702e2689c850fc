// Package device provides the device-identity and push-token collaborators
// the push registration engine depends on. Real hardware identifiers are not
// portably available, so the identity is a stable pseudo id: coarse platform
// hints plus random entropy, generated once and persisted.
package device

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curaflow/appcore/store"
)

// Provider hands out the stable pseudo device id.
type Provider struct {
	store store.Store
}

// NewProvider creates a new Provider backed by the given store.
func NewProvider(s store.Store) *Provider {
	return &Provider{store: s}
}

// ID returns the persisted device id, generating and persisting one on first
// use. The id is stable for the lifetime of the store contents.
func (p *Provider) ID(ctx context.Context) (string, error) {
	existing, err := p.store.Get(ctx, store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "h"
	}
	parts := []string{
		runtime.GOOS,
		runtime.GOARCH,
		host,
		uuid.NewString()[:8],
	}
	id := strings.Join(parts, "-")

	if err := p.store.Set(ctx, store.KeyDeviceID, id); err != nil {
		// Still usable for this process; it just will not be stable
		// across restarts.
		log.Warn().Err(err).Msg("failed to persist device id")
	}
	return id, nil
}
