// Package sketch computes MinHash signatures and SimHash fingerprints over shingle sets.
package sketch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/batch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/shingle"
)

// Family identifies a sketch technique.
type Family string

const (
	FamilyMinHash Family = "minhash"
	FamilySimHash Family = "simhash"
)

// EmptySlot is the MinHash value of every slot of an empty set's signature.
const EmptySlot = math.MaxUint32

// Sketch is an immutable MinHash signature or SimHash fingerprint.
type Sketch struct {
	family Family
	sig    []uint32
	fp     uint64
	bits   int
	empty  bool
}

// NewMinHashSketch wraps a signature. The slice is copied.
func NewMinHashSketch(sig []uint32) Sketch {
	s := Sketch{family: FamilyMinHash, sig: append([]uint32(nil), sig...), empty: true}
	for _, v := range sig {
		if v != EmptySlot {
			s.empty = false
			break
		}
	}
	return s
}

// NewSimHashSketch wraps a fingerprint of the given width. Bits above the width are cleared.
func NewSimHashSketch(fp uint64, bits int, empty bool) Sketch {
	return Sketch{family: FamilySimHash, fp: fp & mask(bits), bits: bits, empty: empty}
}

// Family returns the sketch technique.
func (s Sketch) Family() Family { return s.family }

// Signature returns the MinHash signature. Callers must not modify it.
func (s Sketch) Signature() []uint32 { return s.sig }

// Fingerprint returns the SimHash fingerprint.
func (s Sketch) Fingerprint() uint64 { return s.fp }

// Bits returns the SimHash fingerprint width.
func (s Sketch) Bits() int { return s.bits }

// Empty reports whether the sketch was computed from an empty shingle set.
func (s Sketch) Empty() bool { return s.empty }

// IsZero reports whether s is the zero Sketch.
func (s Sketch) IsZero() bool { return s.family == "" }

// Equal reports whether two sketches are identical.
func (s Sketch) Equal(o Sketch) bool {
	if s.family != o.family || s.empty != o.empty {
		return false
	}
	if s.family == FamilySimHash {
		return s.fp == o.fp && s.bits == o.bits
	}
	if len(s.sig) != len(o.sig) {
		return false
	}
	for i := range s.sig {
		if s.sig[i] != o.sig[i] {
			return false
		}
	}
	return true
}

const (
	tagMinHash byte = 1
	tagSimHash byte = 2
)

// MarshalBinary encodes the sketch for snapshots.
func (s Sketch) MarshalBinary() ([]byte, error) {
	switch s.family {
	case FamilyMinHash:
		buf := make([]byte, 1+4*len(s.sig))
		buf[0] = tagMinHash
		for i, v := range s.sig {
			binary.LittleEndian.PutUint32(buf[1+4*i:], v)
		}
		return buf, nil
	case FamilySimHash:
		buf := make([]byte, 11)
		buf[0] = tagSimHash
		buf[1] = byte(s.bits)
		if s.empty {
			buf[2] = 1
		}
		binary.LittleEndian.PutUint64(buf[3:], s.fp)
		return buf, nil
	}
	return nil, errors.New("cannot encode zero sketch")
}

// UnmarshalBinary decodes a sketch written by MarshalBinary.
func (s *Sketch) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty sketch encoding")
	}
	switch data[0] {
	case tagMinHash:
		if (len(data)-1)%4 != 0 {
			return fmt.Errorf("minhash encoding length %d is not a whole number of slots", len(data)-1)
		}
		sig := make([]uint32, (len(data)-1)/4)
		for i := range sig {
			sig[i] = binary.LittleEndian.Uint32(data[1+4*i:])
		}
		*s = NewMinHashSketch(sig)
		return nil
	case tagSimHash:
		if len(data) != 11 {
			return fmt.Errorf("simhash encoding length %d, want 11", len(data))
		}
		bits := int(data[1])
		if bits < 1 || bits > 64 {
			return fmt.Errorf("simhash width %d out of range", bits)
		}
		*s = NewSimHashSketch(binary.LittleEndian.Uint64(data[3:]), bits, data[2] == 1)
		return nil
	}
	return fmt.Errorf("unknown sketch tag %d", data[0])
}

// Hasher computes sketches of one family under fixed parameters.
type Hasher interface {
	Family() Family
	// Sketch computes the sketch of set. Work is split into chunks with a yield
	// between chunks; a cancelled context returns an error wrapping batch.ErrCancelled.
	Sketch(ctx context.Context, set shingle.Set) (Sketch, error)
	// Similarity estimates the similarity of two sketches in [0, 1].
	Similarity(a, b Sketch) float64
	// Fingerprint identifies the hasher's parameters and coefficients.
	Fingerprint() string
}

type options struct {
	seed      uint64
	seeded    bool
	chunkSize int
	yield     batch.Yielder
}

// Option configures a hasher.
type Option func(*options)

// WithSeed makes MinHash coefficients deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithChunkSize sets how many shingles are hashed between yields.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithYielder sets the yield function called between chunks.
func WithYielder(y batch.Yielder) Option {
	return func(o *options) {
		if y != nil {
			o.yield = y
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{chunkSize: 1000, yield: batch.Check}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// forEachChunk calls fn for consecutive chunks of the set's entries, yielding in
// between. A yielder carried by ctx takes precedence over the configured one.
func forEachChunk(ctx context.Context, set shingle.Set, o options, fn func(s string, w int)) error {
	if err := batch.Check(ctx); err != nil {
		return err
	}
	yield := batch.YielderFrom(ctx, o.yield)
	n := 0
	for s, w := range set {
		if n > 0 && n%o.chunkSize == 0 {
			if err := yield(ctx); err != nil {
				return err
			}
		}
		fn(s, w)
		n++
	}
	return nil
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	if bits <= 0 {
		return 0
	}
	return 1<<uint(bits) - 1
}
