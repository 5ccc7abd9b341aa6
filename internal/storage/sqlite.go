package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/docid"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
)

// SQLiteStorage stores documents ingested through the API. It implements DocumentStore.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS snapshot_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sketch_snapshots (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		sketch BLOB NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// UpsertDocument inserts doc or replaces the title and content of an existing one.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content,
		   updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	return &doc, nil
}

// DeleteDocument removes a document by ID. It reports whether a row was deleted.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Content returns the content of document id.
func (s *SQLiteStorage) Content(ctx context.Context, id string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return content, err
}

// List returns every document ordered by most recent update. The version marker
// is a hash of the content, so re-saving identical text does not force a reindex.
func (s *SQLiteStorage) List(ctx context.Context) ([]models.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, updated_at FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentInfo
	for rows.Next() {
		var info models.DocumentInfo
		var title sql.NullString
		var content string
		if err := rows.Scan(&info.ID, &title, &content, &info.ModTime); err != nil {
			return nil, err
		}
		info.Title = title.String
		info.Size = int64(len(content))
		info.Version = docid.ContentVersion([]byte(content))
		out = append(out, info)
	}
	return out, rows.Err()
}

// DB returns the underlying handle, shared with SnapshotStore.
func (s *SQLiteStorage) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
