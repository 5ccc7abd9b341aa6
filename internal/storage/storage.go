// Package storage provides the document stores the similarity engine reads from
// and the SQLite-backed persistence for API documents and sketch snapshots.
package storage

import (
	"context"
	"errors"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
)

// ErrNotFound is returned when a document does not exist in a store.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the read side the engine indexes from.
type DocumentStore interface {
	// Content returns the text of document id, or an error wrapping ErrNotFound.
	Content(ctx context.Context, id string) (string, error)
	// List returns every document with its modification time and version marker.
	List(ctx context.Context) ([]models.DocumentInfo, error)
}

// MultiStore serves documents from several stores. List concatenates the stores'
// listings, keeping the first entry for a duplicated id; Content asks each store in turn.
type MultiStore []DocumentStore

// Content returns the first store's content for id that is not ErrNotFound.
func (m MultiStore) Content(ctx context.Context, id string) (string, error) {
	for _, s := range m {
		text, err := s.Content(ctx, id)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// List returns the union of every store's listing.
func (m MultiStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	seen := make(map[string]bool)
	var out []models.DocumentInfo
	for _, s := range m {
		infos, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if seen[info.ID] {
				continue
			}
			seen[info.ID] = true
			out = append(out, info)
		}
	}
	return out, nil
}
