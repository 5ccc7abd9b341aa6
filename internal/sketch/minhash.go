package sketch

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/shingle"
)

// Prime is the modulus of the MinHash hash family, 2^31 - 1.
const Prime uint64 = 1<<31 - 1

// bandBase is the multiplier of the rolling hash that folds a band into a key.
const bandBase uint64 = 16777619

// MinHasher computes MinHash signatures with H hash functions
// h_i(x) = (a_i*x + b_i) mod Prime. The coefficients are drawn once.
type MinHasher struct {
	numHashes int
	a, b      []uint64
	seed      uint64
	opts      options
	digest    uint64
}

// NewMinHasher returns a hasher with numHashes hash functions.
// Without WithSeed the coefficients are drawn from a random seed.
func NewMinHasher(numHashes int, opts ...Option) (*MinHasher, error) {
	if numHashes <= 0 {
		return nil, fmt.Errorf("minhash needs a positive number of hashes, got %d", numHashes)
	}
	o := buildOptions(opts)
	if !o.seeded {
		o.seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	m := &MinHasher{
		numHashes: numHashes,
		a:         make([]uint64, numHashes),
		b:         make([]uint64, numHashes),
		seed:      o.seed,
		opts:      o,
	}
	d := xxhash.New()
	var buf [8]byte
	for i := 0; i < numHashes; i++ {
		m.a[i] = 1 + rng.Uint64N(Prime-1)
		m.b[i] = rng.Uint64N(Prime)
		binary.LittleEndian.PutUint64(buf[:], m.a[i])
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], m.b[i])
		_, _ = d.Write(buf[:])
	}
	m.digest = d.Sum64()
	return m, nil
}

// Family returns FamilyMinHash.
func (m *MinHasher) Family() Family { return FamilyMinHash }

// NumHashes returns the signature length.
func (m *MinHasher) NumHashes() int { return m.numHashes }

// Seed returns the seed the coefficients were drawn from.
func (m *MinHasher) Seed() uint64 { return m.seed }

// Fingerprint identifies the signature length and the coefficients.
func (m *MinHasher) Fingerprint() string {
	return fmt.Sprintf("minhash:h=%d:coef=%016x", m.numHashes, m.digest)
}

// Sketch returns the signature of set. An empty set yields EmptySlot in every slot.
func (m *MinHasher) Sketch(ctx context.Context, set shingle.Set) (Sketch, error) {
	sig := make([]uint32, m.numHashes)
	for i := range sig {
		sig[i] = EmptySlot
	}
	err := forEachChunk(ctx, set, m.opts, func(s string, _ int) {
		x := xxhash.Sum64String(s) % Prime
		for i := range sig {
			if v := uint32((m.a[i]*x + m.b[i]) % Prime); v < sig[i] {
				sig[i] = v
			}
		}
	})
	if err != nil {
		return Sketch{}, err
	}
	return Sketch{family: FamilyMinHash, sig: sig, empty: len(set) == 0}, nil
}

// Similarity returns the fraction of slots on which the signatures agree.
// Slots still holding EmptySlot never agree.
func (m *MinHasher) Similarity(a, b Sketch) float64 {
	return MinHashSimilarity(a, b)
}

// MinHashSimilarity estimates the Jaccard similarity of two MinHash sketches.
// Sketches of different families or lengths score 0.
func MinHashSimilarity(a, b Sketch) float64 {
	if a.family != FamilyMinHash || b.family != FamilyMinHash || len(a.sig) != len(b.sig) || len(a.sig) == 0 {
		return 0
	}
	agree := 0
	for i, v := range a.sig {
		if v == b.sig[i] && v != EmptySlot {
			agree++
		}
	}
	return float64(agree) / float64(len(a.sig))
}

// BandKeys splits sig into bands of rows contiguous values and folds each band
// into a key with a rolling hash mod Prime. bands*rows must equal len(sig).
func BandKeys(sig []uint32, bands, rows int) ([]uint64, error) {
	if bands <= 0 || rows <= 0 || bands*rows != len(sig) {
		return nil, fmt.Errorf("signature length %d is not bands %d x rows %d", len(sig), bands, rows)
	}
	keys := make([]uint64, bands)
	for b := 0; b < bands; b++ {
		var k uint64
		for _, v := range sig[b*rows : (b+1)*rows] {
			k = (k*bandBase + uint64(v)) % Prime
		}
		keys[b] = k
	}
	return keys, nil
}
