// Package lsh provides sub-linear candidate lookup over sketches: a banded bucket
// table for MinHash signatures and a chunked table for SimHash fingerprints.
//
// Indexes are not safe for concurrent mutation. Concurrent Query calls are safe
// as long as no Insert, Remove or Reset runs at the same time.
package lsh

import (
	"sort"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
)

// Candidate is a document structurally flagged as similar, with its estimated similarity.
type Candidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Source gives an index read access to the current sketch of every indexed document.
type Source interface {
	Sketch(id string) (sketch.Sketch, bool)
	Range(fn func(id string, s sketch.Sketch) bool)
}

// Stats describes partition table occupancy.
type Stats struct {
	Partitions    int     `json:"partitions"`
	Buckets       int     `json:"buckets"`
	MaxBucketSize int     `json:"max_bucket_size"`
	AvgBucketSize float64 `json:"avg_bucket_size"`
	Documents     int     `json:"documents"`
}

// Index is a candidate lookup structure for one sketch family.
type Index interface {
	// Insert indexes id under s, replacing any previous keys for id.
	Insert(id string, s sketch.Sketch) error
	// Remove drops every key of id. It reports whether id was indexed.
	Remove(id string) bool
	Contains(id string) bool
	// Query returns the candidates of a document with sketch s, excluding id itself,
	// ordered by descending score.
	Query(id string, s sketch.Sketch, src Source) []Candidate
	Stats() Stats
	Reset()
	Len() int
}

// MapSource is a Source backed by a map. Useful for tests and one-shot tools.
type MapSource map[string]sketch.Sketch

// Sketch returns the sketch for id.
func (m MapSource) Sketch(id string) (sketch.Sketch, bool) {
	s, ok := m[id]
	return s, ok
}

// Range calls fn for every entry until fn returns false.
func (m MapSource) Range(fn func(id string, s sketch.Sketch) bool) {
	for id, s := range m {
		if !fn(id, s) {
			return
		}
	}
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].ID < c[j].ID
	})
}
