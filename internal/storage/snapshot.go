package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
)

const fingerprintKey = "fingerprint"

// SnapshotEntry is one persisted document sketch.
type SnapshotEntry struct {
	ID      string
	Version int64
	Sketch  sketch.Sketch
}

// SnapshotStore persists engine sketches in the SQLite database, tagged with the
// engine fingerprint. A snapshot written under another fingerprint is never reused.
type SnapshotStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSnapshotStore returns a snapshot store sharing s's database.
func NewSnapshotStore(s *SQLiteStorage, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{db: s.DB(), logger: logger}
}

// Save replaces the stored snapshot with entries.
func (s *SnapshotStore) Save(ctx context.Context, fingerprint string, entries []SnapshotEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sketch_snapshots`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fingerprintKey, fingerprint); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sketch_snapshots (id, version, sketch) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		data, err := e.Sketch.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode sketch %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Version, data); err != nil {
			return fmt.Errorf("write sketch %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the stored entries when the snapshot was written under fingerprint.
// On a fingerprint mismatch or an undecodable row the whole snapshot is deleted
// and Load returns no entries.
func (s *SnapshotStore) Load(ctx context.Context, fingerprint string) ([]SnapshotEntry, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshot_meta WHERE key = ?`, fingerprintKey).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored != fingerprint {
		s.logger.Info("discarding snapshot written under different parameters",
			zap.String("stored", stored), zap.String("current", fingerprint))
		return nil, s.Clear(ctx)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, version, sketch FROM sketch_snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotEntry
	for rows.Next() {
		var e SnapshotEntry
		var data []byte
		if err := rows.Scan(&e.ID, &e.Version, &data); err != nil {
			return nil, err
		}
		if err := e.Sketch.UnmarshalBinary(data); err != nil {
			_ = rows.Close()
			s.logger.Warn("discarding corrupt snapshot", zap.String("doc_id", e.ID), zap.Error(err))
			return nil, s.Clear(ctx)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes the snapshot and its fingerprint.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sketch_snapshots`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_meta WHERE key = ?`, fingerprintKey); err != nil {
		return err
	}
	return tx.Commit()
}
