package store

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Fallback wraps a primary store with a secondary one. When the primary
// errors, the operation is silently retried on the secondary and the caller
// sees success. Callers must tolerate the weaker durability of the secondary;
// the degradation is logged but never surfaced.
type Fallback struct {
	primary   Store
	secondary Store
}

// NewFallback wraps primary with secondary.
func NewFallback(primary, secondary Store) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Get implements Store.Get.
func (f *Fallback) Get(ctx context.Context, key string) (string, error) {
	val, err := f.primary.Get(ctx, key)
	if err == nil {
		return val, nil
	}
	log.Debug().Err(err).Str("key", key).Msg("primary store get failed, using fallback")
	return f.secondary.Get(ctx, key)
}

// Set implements Store.Set.
func (f *Fallback) Set(ctx context.Context, key, value string) error {
	if err := f.primary.Set(ctx, key, value); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("primary store set failed, using fallback")
		return f.secondary.Set(ctx, key, value)
	}
	return nil
}

// Delete implements Store.Delete. The key is removed from both stores so a
// value written during a degraded period cannot resurface.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	err := f.primary.Delete(ctx, key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("primary store delete failed")
	}
	if ferr := f.secondary.Delete(ctx, key); ferr != nil {
		log.Warn().Err(ferr).Str("key", key).Msg("fallback store delete failed, stale value may remain")
		if err != nil {
			return ferr
		}
	}
	return nil
}
