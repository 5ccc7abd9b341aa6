package lsh

import (
	"fmt"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
)

// BandOptions configures a BandIndex.
type BandOptions struct {
	Bands int
	Rows  int
	// MinCandidates is the banded result size below which Query falls back to a
	// brute-force scan of every indexed signature.
	MinCandidates int
	// MaxResults caps how many brute-force results are added.
	MaxResults int
	// MinSimilarity is the lowest brute-force score kept.
	MinSimilarity float64
}

// BandIndex buckets MinHash signatures by band: band -> key -> ids.
type BandIndex struct {
	opts  BandOptions
	table partitionTable
}

// NewBandIndex returns an empty band index.
func NewBandIndex(opts BandOptions) (*BandIndex, error) {
	if opts.Bands <= 0 || opts.Rows <= 0 {
		return nil, fmt.Errorf("bands and rows must be positive, got %d x %d", opts.Bands, opts.Rows)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}
	return &BandIndex{opts: opts, table: newPartitionTable(opts.Bands)}, nil
}

// Banding returns the current bands and rows.
func (b *BandIndex) Banding() (bands, rows int) {
	return b.opts.Bands, b.opts.Rows
}

func (b *BandIndex) keysFor(s sketch.Sketch) ([]uint64, error) {
	if s.Family() != sketch.FamilyMinHash {
		return nil, fmt.Errorf("band index needs a minhash sketch, got %q", s.Family())
	}
	if s.Empty() {
		return nil, nil
	}
	return sketch.BandKeys(s.Signature(), b.opts.Bands, b.opts.Rows)
}

// Insert indexes the signature's band keys. Empty signatures are recorded without keys.
func (b *BandIndex) Insert(id string, s sketch.Sketch) error {
	keys, err := b.keysFor(s)
	if err != nil {
		return err
	}
	b.table.put(id, keys)
	return nil
}

// Remove drops id from every bucket.
func (b *BandIndex) Remove(id string) bool { return b.table.drop(id) }

// Contains reports whether id is indexed.
func (b *BandIndex) Contains(id string) bool { return b.table.has(id) }

// Len returns the number of indexed documents.
func (b *BandIndex) Len() int { return len(b.table.keys) }

// Reset empties the index.
func (b *BandIndex) Reset() { b.table.reset(b.opts.Bands) }

// Stats returns bucket occupancy.
func (b *BandIndex) Stats() Stats { return b.table.stats() }

// Query returns every document sharing a band bucket with s. When that yields
// fewer than MinCandidates documents, the best brute-force matches scoring at
// least MinSimilarity are added. Banded candidates are always returned.
func (b *BandIndex) Query(id string, s sketch.Sketch, src Source) []Candidate {
	keys, ok := b.table.keys[id]
	if !ok {
		var err error
		if keys, err = b.keysFor(s); err != nil {
			return nil
		}
	}

	seen := make(map[string]struct{})
	var out []Candidate
	for p, k := range keys {
		for other := range b.table.members(p, k) {
			if other == id {
				continue
			}
			if _, dup := seen[other]; dup {
				continue
			}
			seen[other] = struct{}{}
			out = append(out, Candidate{ID: other, Score: score(s, other, src)})
		}
	}

	if len(out) < b.opts.MinCandidates && src != nil {
		out = append(out, b.bruteForce(id, s, seen, src)...)
	}
	sortCandidates(out)
	return out
}

func (b *BandIndex) bruteForce(id string, s sketch.Sketch, seen map[string]struct{}, src Source) []Candidate {
	var extra []Candidate
	src.Range(func(other string, os sketch.Sketch) bool {
		if other == id || !b.table.has(other) {
			return true
		}
		if _, dup := seen[other]; dup {
			return true
		}
		sim := sketch.MinHashSimilarity(s, os)
		if sim > 0 && sim >= b.opts.MinSimilarity {
			extra = append(extra, Candidate{ID: other, Score: sim})
		}
		return true
	})
	sortCandidates(extra)
	if len(extra) > b.opts.MaxResults {
		extra = extra[:b.opts.MaxResults]
	}
	return extra
}

// Rebucket switches to a new banding and re-inserts every indexed document from src.
func (b *BandIndex) Rebucket(bands, rows int, src Source) error {
	if bands <= 0 || rows <= 0 {
		return fmt.Errorf("bands and rows must be positive, got %d x %d", bands, rows)
	}
	ids := make([]string, 0, len(b.table.keys))
	for id := range b.table.keys {
		ids = append(ids, id)
	}
	next := &BandIndex{opts: b.opts, table: newPartitionTable(bands)}
	next.opts.Bands, next.opts.Rows = bands, rows
	for _, id := range ids {
		s, ok := src.Sketch(id)
		if !ok {
			return fmt.Errorf("rebucket: no sketch for %s", id)
		}
		if err := next.Insert(id, s); err != nil {
			return fmt.Errorf("rebucket %s: %w", id, err)
		}
	}
	*b = *next
	return nil
}

func score(s sketch.Sketch, other string, src Source) float64 {
	if src == nil {
		return 0
	}
	os, ok := src.Sketch(other)
	if !ok {
		return 0
	}
	switch s.Family() {
	case sketch.FamilyMinHash:
		return sketch.MinHashSimilarity(s, os)
	case sketch.FamilySimHash:
		return sketch.SimHashSimilarity(s, os)
	}
	return 0
}
