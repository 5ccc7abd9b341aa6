package similarity

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

// Fingerprint identifies every parameter a stored sketch depends on. Snapshots
// written under another fingerprint must not be restored.
func (e *Engine) Fingerprint() string {
	sh := e.cfg.Shingle
	return fmt.Sprintf("%s;shingle=%s/%d/%d/%d/%d;bands=%dx%d;chunks=%d",
		e.hasher.Fingerprint(),
		sh.Mode, sh.Size, sh.LargeDocThreshold, sh.LargeDocStride, sh.MaxShingles,
		e.cfg.MinHash.Bands, e.cfg.MinHash.Rows,
		e.cfg.SimHash.ChunkCount)
}

// Snapshot returns every indexed document's version and sketch, ordered by id.
func (e *Engine) Snapshot() []storage.SnapshotEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]storage.SnapshotEntry, 0, len(e.docs))
	for id, d := range e.docs {
		out = append(out, storage.SnapshotEntry{ID: id, Version: d.Version, Sketch: d.Sketch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore installs previously saved sketches. Entries whose sketch does not fit
// the engine's family and parameters are skipped. It returns the number restored.
func (e *Engine) Restore(entries []storage.SnapshotEntry) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	restored := 0
	for _, entry := range entries {
		if entry.ID == "" || !e.compatible(entry.Sketch) {
			e.logger.Warn("skipping incompatible snapshot entry", zap.String("doc_id", entry.ID))
			continue
		}
		doc := &Document{ID: entry.ID, Version: entry.Version, Sketch: entry.Sketch, Indexed: true}
		if err := e.installLocked(doc, "", false); err != nil {
			e.logger.Warn("skipping snapshot entry", zap.String("doc_id", entry.ID), zap.Error(err))
			continue
		}
		restored++
	}
	e.adaptLocked()
	e.metrics.SetDocuments(len(e.docs), e.relaxed)
	return restored
}

func (e *Engine) compatible(s sketch.Sketch) bool {
	switch s.Family() {
	case sketch.FamilyMinHash:
		return e.bands != nil && len(s.Signature()) == e.cfg.MinHash.NumHashes
	case sketch.FamilySimHash:
		return e.chunks != nil && s.Bits() == e.cfg.SimHash.HashBits
	}
	return false
}

// SaveSnapshot writes Snapshot to snaps under the engine fingerprint.
func (e *Engine) SaveSnapshot(ctx context.Context, snaps *storage.SnapshotStore) error {
	entries := e.Snapshot()
	if err := snaps.Save(ctx, e.Fingerprint(), entries); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	e.logger.Info("snapshot saved", zap.Int("documents", len(entries)))
	return nil
}

// LoadSnapshot restores the snapshot in snaps when it matches the engine fingerprint.
func (e *Engine) LoadSnapshot(ctx context.Context, snaps *storage.SnapshotStore) (int, error) {
	entries, err := snaps.Load(ctx, e.Fingerprint())
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	n := e.Restore(entries)
	e.logger.Info("snapshot restored", zap.Int("documents", n))
	return n, nil
}
