package sessionreuse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	known, err := store.Known(ctx, "/weather", "0xpayer")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, store.Record(ctx, "/weather", "0xPayer", time.Hour))

	known, err = store.Known(ctx, "/weather", "0xpayer")
	require.NoError(t, err)
	assert.True(t, known, "payer identity lookup is case-insensitive")

	known, err = store.Known(ctx, "/weather", "0XPAYER")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = store.Known(ctx, "/joke", "0xpayer")
	require.NoError(t, err)
	assert.False(t, known, "sessions bind to one resource")

	known, err = store.Known(ctx, "/weather", "0xother")
	require.NoError(t, err)
	assert.False(t, known, "sessions bind to one payer")
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "/weather", "0xpayer", 10*time.Millisecond))

	known, err := store.Known(ctx, "/weather", "0xpayer")
	require.NoError(t, err)
	assert.True(t, known)

	time.Sleep(20 * time.Millisecond)

	known, err = store.Known(ctx, "/weather", "0xpayer")
	require.NoError(t, err)
	assert.False(t, known, "expired sessions are gone")

	// Re-recording restores access.
	require.NoError(t, store.Record(ctx, "/weather", "0xpayer", time.Hour))
	known, err = store.Known(ctx, "/weather", "0xpayer")
	require.NoError(t, err)
	assert.True(t, known)
}
