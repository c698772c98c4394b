// ABOUTME: Tests for the SyncStore adapter over the protocol key table.
// ABOUTME: Verifies sync tokens round-trip and rotation triggers the update hook.

package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/store"
)

func setupSyncStore(t *testing.T, onUpdate func()) *syncStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newSyncStore(s, onUpdate)
}

func TestSyncStore_NextBatchRoundTrip(t *testing.T) {
	ss := setupSyncStore(t, nil)
	ctx := context.Background()
	user := id.UserID("@relay:example.org")

	token, err := ss.LoadNextBatch(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, ss.SaveNextBatch(ctx, user, "s123_456"))

	token, err = ss.LoadNextBatch(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "s123_456", token)
}

func TestSyncStore_FilterIDRoundTrip(t *testing.T) {
	ss := setupSyncStore(t, nil)
	ctx := context.Background()
	user := id.UserID("@relay:example.org")

	require.NoError(t, ss.SaveFilterID(ctx, user, "filter-1"))

	fid, err := ss.LoadFilterID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "filter-1", fid)
}

func TestSyncStore_RotationFiresUpdateHook(t *testing.T) {
	updates := 0
	ss := setupSyncStore(t, func() { updates++ })
	ctx := context.Background()
	user := id.UserID("@relay:example.org")

	require.NoError(t, ss.SaveNextBatch(ctx, user, "s1"))
	require.NoError(t, ss.SaveNextBatch(ctx, user, "s2"))
	assert.Equal(t, 2, updates)
}
