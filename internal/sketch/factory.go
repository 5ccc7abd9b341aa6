package sketch

import (
	"fmt"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
)

// NewHasher creates the hasher for the configured family.
// Supported families: "minhash" (default), "simhash". MinHash coefficients use
// the configured seed unless opts override it.
func NewHasher(cfg config.SimilarityConfig, opts ...Option) (Hasher, error) {
	base := []Option{WithChunkSize(cfg.SketchChunkSize)}
	switch Family(cfg.Family) {
	case FamilyMinHash, "":
		base = append(base, WithSeed(cfg.MinHash.Seed))
		return NewMinHasher(cfg.MinHash.NumHashes, append(base, opts...)...)
	case FamilySimHash:
		return NewSimHasher(cfg.SimHash.HashBits, append(base, opts...)...)
	default:
		return nil, fmt.Errorf("unknown similarity family: %s (supported: minhash, simhash)", cfg.Family)
	}
}
