// Package models defines core data structures for documents, related-document queries, and results.
package models

import "time"

// Document represents a document ingested through the API and stored in SQLite.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for creating or updating a document.
type DocumentInput struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// DocumentInfo is the listing entry a document store returns for each document.
// Version is the content version marker: modification time in Unix nanoseconds,
// or a content hash when no timestamp is known.
type DocumentInfo struct {
	ID      string    `json:"id"`
	Title   string    `json:"title,omitempty"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	Version int64     `json:"version"`
}
