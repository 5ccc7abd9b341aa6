package lsh

import (
	"fmt"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
)

// ChunkOptions configures a ChunkIndex.
type ChunkOptions struct {
	HashBits    int
	ChunkCount  int
	MaxDistance int
}

// ChunkIndex buckets SimHash fingerprints by chunk: chunk -> value -> ids.
type ChunkIndex struct {
	hashBits     int
	chunkCount   int
	bitsPerChunk int
	maxDistance  int
	table        partitionTable
}

// NewChunkIndex returns an empty chunk index. HashBits must be divisible by ChunkCount.
func NewChunkIndex(opts ChunkOptions) (*ChunkIndex, error) {
	if opts.HashBits < 1 || opts.HashBits > 64 {
		return nil, fmt.Errorf("hash bits must be in 1..64, got %d", opts.HashBits)
	}
	if opts.ChunkCount <= 0 || opts.HashBits%opts.ChunkCount != 0 {
		return nil, fmt.Errorf("hash bits %d is not divisible by chunk count %d", opts.HashBits, opts.ChunkCount)
	}
	if opts.MaxDistance < 0 {
		return nil, fmt.Errorf("max distance must not be negative")
	}
	return &ChunkIndex{
		hashBits:     opts.HashBits,
		chunkCount:   opts.ChunkCount,
		bitsPerChunk: opts.HashBits / opts.ChunkCount,
		maxDistance:  opts.MaxDistance,
		table:        newPartitionTable(opts.ChunkCount),
	}, nil
}

// MaxDistance returns the Hamming distance bound applied by Query.
func (c *ChunkIndex) MaxDistance() int { return c.maxDistance }

// SetMaxDistance changes the Hamming distance bound. Buckets are unaffected.
func (c *ChunkIndex) SetMaxDistance(d int) {
	if d >= 0 {
		c.maxDistance = d
	}
}

// MinMatchingChunks is the number of chunks a candidate must share with the
// query to reach the exact distance check: chunkCount - ceil(maxDistance/bitsPerChunk),
// at least 1.
func (c *ChunkIndex) MinMatchingChunks() int {
	need := c.chunkCount - (c.maxDistance+c.bitsPerChunk-1)/c.bitsPerChunk
	if need < 1 {
		need = 1
	}
	return need
}

func (c *ChunkIndex) keysFor(s sketch.Sketch) ([]uint64, error) {
	if s.Family() != sketch.FamilySimHash {
		return nil, fmt.Errorf("chunk index needs a simhash sketch, got %q", s.Family())
	}
	if s.Bits() != c.hashBits {
		return nil, fmt.Errorf("fingerprint width %d, index expects %d", s.Bits(), c.hashBits)
	}
	if s.Empty() {
		return nil, nil
	}
	return sketch.Chunks(s.Fingerprint(), c.hashBits, c.chunkCount)
}

// Insert indexes the fingerprint's chunks. Empty fingerprints are recorded without keys.
func (c *ChunkIndex) Insert(id string, s sketch.Sketch) error {
	keys, err := c.keysFor(s)
	if err != nil {
		return err
	}
	c.table.put(id, keys)
	return nil
}

// Remove drops id from every chunk bucket.
func (c *ChunkIndex) Remove(id string) bool { return c.table.drop(id) }

// Contains reports whether id is indexed.
func (c *ChunkIndex) Contains(id string) bool { return c.table.has(id) }

// Len returns the number of indexed documents.
func (c *ChunkIndex) Len() int { return len(c.table.keys) }

// Reset empties the index.
func (c *ChunkIndex) Reset() { c.table.reset(c.chunkCount) }

// Stats returns bucket occupancy.
func (c *ChunkIndex) Stats() Stats { return c.table.stats() }

// Query gathers documents sharing at least one chunk with s, drops those sharing
// fewer than MinMatchingChunks, and keeps the rest whose exact Hamming distance is
// within MaxDistance, scored 1 - distance/hashBits.
func (c *ChunkIndex) Query(id string, s sketch.Sketch, src Source) []Candidate {
	keys, ok := c.table.keys[id]
	if !ok {
		var err error
		if keys, err = c.keysFor(s); err != nil {
			return nil
		}
	}

	matches := make(map[string]int)
	for p, k := range keys {
		for other := range c.table.members(p, k) {
			if other != id {
				matches[other]++
			}
		}
	}

	need := c.MinMatchingChunks()
	var out []Candidate
	for other, m := range matches {
		if m < need || src == nil {
			continue
		}
		os, ok := src.Sketch(other)
		if !ok {
			continue
		}
		d := sketch.Hamming(s.Fingerprint(), os.Fingerprint())
		if d > c.maxDistance {
			continue
		}
		out = append(out, Candidate{ID: other, Score: 1 - float64(d)/float64(c.hashBits)})
	}
	sortCandidates(out)
	return out
}
