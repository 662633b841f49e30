package syncer

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/testutil"
	"cell-tracker-go/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regions(ids ...string) models.Regions {
	rs := make(models.Regions, 0, len(ids))
	for _, id := range ids {
		rs = append(rs, models.Region{ID: id, Vertices: []models.Vertex{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.2}, {X: 0.2, Y: 0.4}}})
	}
	return rs
}

func TestSyncFrameWritesCanonicalDocument(t *testing.T) {
	ctx := context.Background()
	store := archive.NewMemoryStore()
	tmpDir := t.TempDir()
	c := NewCoordinator(store, testutil.NewLogger(), tmpDir)

	rs := regions("a")
	rs[0].SetLink("p")

	name, err := c.SyncFrame(ctx, "E1", "alice", 2, rs)
	require.NoError(t, err)
	assert.Equal(t, "E1/data/user_segmentation/alice/frame2.json", name)

	data, err := store.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a","vertices":[[0.2,0.1],[0.2,0.3],[0.4,0.2]],"link_id":"p"}]`, string(data))

	back, err := c.ReadFrame(ctx, "E1", "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, rs, back)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncFrameCleansUpOnUploadFailure(t *testing.T) {
	store := archive.NewMemoryStore()
	store.PutErr = errors.New("irods unavailable")
	tmpDir := t.TempDir()
	c := NewCoordinator(store, testutil.NewLogger(), tmpDir)

	_, err := c.SyncFrame(context.Background(), "E1", "", 1, regions("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.PutErr))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncPowerUserEditBacksUpSystemCopy(t *testing.T) {
	ctx := context.Background()
	store := archive.NewMemoryStore()
	c := NewCoordinator(store, testutil.NewLogger(), t.TempDir())

	_, err := c.SyncFrame(ctx, "E1", "", 1, regions("old"))
	require.NoError(t, err)

	require.NoError(t, c.SyncPowerUserEdit(ctx, "E1", "pu", 1, regions("new")))

	system, err := c.ReadFrame(ctx, "E1", "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, system.IDs())

	user, err := c.ReadFrame(ctx, "E1", "pu", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, user.IDs())

	var backups []string
	for _, k := range store.Keys() {
		if strings.HasPrefix(k, "E1/data/segmentation/backup/") {
			backups = append(backups, k)
		}
	}
	require.Len(t, backups, 1)
	data, err := store.Get(ctx, backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"old"`)
}

func TestSyncPowerUserEditWithoutSystemCopy(t *testing.T) {
	ctx := context.Background()
	store := archive.NewMemoryStore()
	c := NewCoordinator(store, testutil.NewLogger(), t.TempDir())

	require.NoError(t, c.SyncPowerUserEdit(ctx, "E1", "pu", 4, regions("n")))
	assert.Equal(t, []string{
		"E1/data/segmentation/frame4.json",
		"E1/data/user_segmentation/pu/frame4.json",
	}, store.Keys())
}

func TestDeleteFrame(t *testing.T) {
	ctx := context.Background()
	store := archive.NewMemoryStore()
	c := NewCoordinator(store, testutil.NewLogger(), t.TempDir())

	_, err := c.SyncFrame(ctx, "E1", "u", 1, regions("a"))
	require.NoError(t, err)
	require.NoError(t, c.DeleteFrame(ctx, "E1", "u", 1))

	_, err = c.ReadFrame(ctx, "E1", "u", 1)
	assert.True(t, errors.Is(err, archive.ErrNotExist))
}
