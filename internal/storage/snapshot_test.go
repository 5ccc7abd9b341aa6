package storage

import (
	"context"
	"testing"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStore_roundTrip(t *testing.T) {
	db := newTestSQLite(t)
	snaps := NewSnapshotStore(db, nil)
	ctx := context.Background()

	entries := []SnapshotEntry{
		{ID: "a.md", Version: 10, Sketch: sketch.NewMinHashSketch([]uint32{1, 2, 3, 4})},
		{ID: "b.md", Version: 20, Sketch: sketch.NewMinHashSketch([]uint32{5, 6, 7, 8})},
	}
	require.NoError(t, snaps.Save(ctx, "fp-1", entries))

	got, err := snaps.Load(ctx, "fp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[string]SnapshotEntry{}
	for _, e := range got {
		byID[e.ID] = e
	}
	assert.Equal(t, int64(20), byID["b.md"].Version)
	assert.True(t, entries[0].Sketch.Equal(byID["a.md"].Sketch))

	require.NoError(t, snaps.Save(ctx, "fp-1", entries[:1]))
	got, err = snaps.Load(ctx, "fp-1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "save replaces the previous snapshot")
}

func TestSnapshotStore_fingerprintMismatchDiscards(t *testing.T) {
	db := newTestSQLite(t)
	snaps := NewSnapshotStore(db, nil)
	ctx := context.Background()

	require.NoError(t, snaps.Save(ctx, "minhash:h=128", []SnapshotEntry{
		{ID: "a", Version: 1, Sketch: sketch.NewSimHashSketch(7, 64, false)},
	}))

	got, err := snaps.Load(ctx, "minhash:h=64")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = snaps.Load(ctx, "minhash:h=128")
	require.NoError(t, err)
	assert.Empty(t, got, "a discarded snapshot is gone for every fingerprint")
}

func TestSnapshotStore_corruptRowDiscards(t *testing.T) {
	db := newTestSQLite(t)
	snaps := NewSnapshotStore(db, nil)
	ctx := context.Background()

	require.NoError(t, snaps.Save(ctx, "fp", []SnapshotEntry{
		{ID: "a", Version: 1, Sketch: sketch.NewMinHashSketch([]uint32{1})},
	}))
	_, err := db.DB().ExecContext(ctx, `INSERT INTO sketch_snapshots (id, version, sketch) VALUES ('bad', 1, x'ff00')`)
	require.NoError(t, err)

	got, err := snaps.Load(ctx, "fp")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotStore_empty(t *testing.T) {
	snaps := NewSnapshotStore(newTestSQLite(t), nil)
	got, err := snaps.Load(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
}
