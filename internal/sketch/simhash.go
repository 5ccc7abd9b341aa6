package sketch

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/shingle"
)

// SimHasher computes weighted SimHash fingerprints of 1..64 bits.
type SimHasher struct {
	hashBits int
	opts     options
}

// NewSimHasher returns a hasher producing hashBits-wide fingerprints.
func NewSimHasher(hashBits int, opts ...Option) (*SimHasher, error) {
	if hashBits < 1 || hashBits > 64 {
		return nil, fmt.Errorf("simhash width must be in 1..64, got %d", hashBits)
	}
	return &SimHasher{hashBits: hashBits, opts: buildOptions(opts)}, nil
}

// Family returns FamilySimHash.
func (h *SimHasher) Family() Family { return FamilySimHash }

// HashBits returns the fingerprint width.
func (h *SimHasher) HashBits() int { return h.hashBits }

// Fingerprint identifies the fingerprint width.
func (h *SimHasher) Fingerprint() string {
	return fmt.Sprintf("simhash:bits=%d", h.hashBits)
}

// Sketch returns the fingerprint of set, each shingle weighted by its count.
// Bit i is set iff the weighted vote for bit i is positive.
func (h *SimHasher) Sketch(ctx context.Context, set shingle.Set) (Sketch, error) {
	v := make([]int64, h.hashBits)
	err := forEachChunk(ctx, set, h.opts, func(s string, w int) {
		x := xxhash.Sum64String(s)
		for i := range v {
			if x>>uint(i)&1 == 1 {
				v[i] += int64(w)
			} else {
				v[i] -= int64(w)
			}
		}
	})
	if err != nil {
		return Sketch{}, err
	}
	var fp uint64
	for i, c := range v {
		if c > 0 {
			fp |= 1 << uint(i)
		}
	}
	return NewSimHashSketch(fp, h.hashBits, len(set) == 0), nil
}

// Similarity returns 1 - hamming/hashBits. Empty fingerprints score 0.
func (h *SimHasher) Similarity(a, b Sketch) float64 {
	return SimHashSimilarity(a, b)
}

// SimHashSimilarity returns 1 - hamming/bits for two fingerprints of the same width.
func SimHashSimilarity(a, b Sketch) float64 {
	if a.family != FamilySimHash || b.family != FamilySimHash || a.bits != b.bits || a.bits == 0 {
		return 0
	}
	if a.empty || b.empty {
		return 0
	}
	return 1 - float64(Hamming(a.fp, b.fp))/float64(a.bits)
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Chunks splits a fingerprint into count contiguous chunks of bits/count bits,
// lowest bits first. bits must be divisible by count.
func Chunks(fp uint64, bitWidth, count int) ([]uint64, error) {
	if count <= 0 || bitWidth <= 0 || bitWidth%count != 0 {
		return nil, fmt.Errorf("hash bits %d is not divisible by chunk count %d", bitWidth, count)
	}
	per := bitWidth / count
	m := mask(per)
	out := make([]uint64, count)
	for i := range out {
		out[i] = fp >> uint(i*per) & m
	}
	return out, nil
}
