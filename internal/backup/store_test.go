package backup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dividash/modelops/internal/backup"
)

func newTestStore(t *testing.T) *backup.Store {
	t.Helper()
	// A ticking fake clock keeps snapshot names unique within a test.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store, err := backup.NewStore(backup.StoreConfig{
		Root:   filepath.Join(t.TempDir(), "backups"),
		Logger: zerolog.Nop(),
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	})
	require.NoError(t, err)
	return store
}

func writeModelFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestStore_BackupRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	source := t.TempDir()
	files := map[string]string{
		"dividend_growth.pkl":          "regression-weights",
		"dividend_growth.metrics.json": `{"r2":0.84}`,
		"sub/payout_classifier.pkl":    "classifier-weights",
	}
	writeModelFiles(t, source, files)

	snap, err := store.Backup(source)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, snap, store.Latest())

	target := t.TempDir()
	require.NoError(t, store.Restore(snap, target))

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(target, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), "file %s must round-trip byte-identical", name)
	}
}

func TestStore_BackupMissingSourceIsNotFatal(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Backup(filepath.Join(t.TempDir(), "does-not-exist"))

	assert.NoError(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, store.Latest())
}

func TestStore_RestoreMissingSnapshotFailsLoudly(t *testing.T) {
	store := newTestStore(t)

	err := store.Restore(&backup.Snapshot{Path: "/nonexistent/snapshot"}, t.TempDir())
	assert.ErrorIs(t, err, backup.ErrSnapshotMissing)

	err = store.Restore(nil, t.TempDir())
	assert.ErrorIs(t, err, backup.ErrSnapshotMissing)
}

func TestStore_PruneKeepsMostRecent(t *testing.T) {
	store := newTestStore(t)

	source := t.TempDir()
	writeModelFiles(t, source, map[string]string{"model.pkl": "weights"})

	for i := 0; i < 10; i++ {
		_, err := store.Backup(source)
		require.NoError(t, err)
	}

	before, err := store.Snapshots()
	require.NoError(t, err)
	require.Len(t, before, 10)
	latest := store.Latest()

	removed, err := store.Prune(7)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	after, err := store.Snapshots()
	require.NoError(t, err)
	require.Len(t, after, 7)
	// The three oldest are gone, the seven most recent remain.
	assert.Equal(t, before[3:], after)
	// The latest pointer is untouched by pruning.
	assert.Equal(t, latest, store.Latest())
}

func TestStore_PruneNoopWhenUnderLimit(t *testing.T) {
	store := newTestStore(t)

	source := t.TempDir()
	writeModelFiles(t, source, map[string]string{"model.pkl": "weights"})
	_, err := store.Backup(source)
	require.NoError(t, err)

	removed, err := store.Prune(7)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestNewStore_RecoversLatestFromDisk(t *testing.T) {
	root := filepath.Join(t.TempDir(), "backups")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	store, err := backup.NewStore(backup.StoreConfig{Root: root, Logger: zerolog.Nop(), Clock: clock})
	require.NoError(t, err)

	source := t.TempDir()
	writeModelFiles(t, source, map[string]string{"model.pkl": "weights"})
	snap, err := store.Backup(source)
	require.NoError(t, err)

	// A fresh store over the same root sees the existing snapshot.
	reopened, err := backup.NewStore(backup.StoreConfig{Root: root, Logger: zerolog.Nop(), Clock: clock})
	require.NoError(t, err)
	require.NotNil(t, reopened.Latest())
	assert.Equal(t, snap.Path, reopened.Latest().Path)
}
