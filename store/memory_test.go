package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	val, err := s.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.Set(ctx, KeyDeviceID, "dev-1"))
	val, err = s.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", val)

	require.NoError(t, s.Delete(ctx, KeyDeviceID))
	val, err = s.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Empty(t, val)
}
