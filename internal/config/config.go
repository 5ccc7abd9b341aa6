// Package config provides configuration loading and structs for the relnotes server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Similarity families.
const (
	FamilyMinHash = "minhash"
	FamilySimHash = "simhash"
)

// Shingle modes.
const (
	ShingleModeWord = "word"
	ShingleModeChar = "char"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Vault      VaultConfig      `yaml:"vault"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Similarity SimilarityConfig `yaml:"similarity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the SQLite database path used for API documents and sketch snapshots.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// VaultConfig holds the directories that make up the file corpus.
type VaultConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to walk vault directories recursively; defaults to true when unset.
func (v *VaultConfig) RecursiveOrDefault() bool {
	if v.Recursive != nil {
		return *v.Recursive
	}
	return true
}

// IndexingConfig controls bulk batching and the live update queue.
type IndexingConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	Concurrency      int           `yaml:"concurrency"`
	Debounce         time.Duration `yaml:"debounce"`
	MinBatchInterval time.Duration `yaml:"min_batch_interval"`
	FetchRetries     int           `yaml:"fetch_retries"`
	ContentCacheSize int           `yaml:"content_cache_size"`
	// YieldInterval paces bulk indexing: yield points wait until at least this
	// long has passed since the previous one. 0 only yields the processor.
	YieldInterval time.Duration `yaml:"yield_interval"`
}

// SimilarityConfig selects the sketch family and its retrieval parameters.
type SimilarityConfig struct {
	Family               string  `yaml:"family"`
	MinSimilarity        float64 `yaml:"min_similarity"`
	MinCandidates        int     `yaml:"min_candidates"`
	MaxResults           int     `yaml:"max_results"`
	LargeCorpusThreshold int     `yaml:"large_corpus_threshold"`
	MaxIndexedDocuments  int     `yaml:"max_indexed_documents"`
	// ScoreBoost multiplies display scores while the corpus is sampled or relaxed.
	// It is cosmetic: ComputeSimilarity never applies it. 1 disables it.
	ScoreBoost      float64       `yaml:"score_boost"`
	SketchChunkSize int           `yaml:"sketch_chunk_size"`
	Shingle         ShingleConfig `yaml:"shingle"`
	MinHash         MinHashConfig `yaml:"minhash"`
	SimHash         SimHashConfig `yaml:"simhash"`
}

// ShingleConfig controls text featurization.
type ShingleConfig struct {
	Size              int    `yaml:"size"`
	Mode              string `yaml:"mode"`
	LargeDocThreshold int    `yaml:"large_doc_threshold"`
	LargeDocStride    int    `yaml:"large_doc_stride"`
	MaxShingles       int    `yaml:"max_shingles"`
}

// MinHashConfig holds signature length and banding. NumHashes must equal Bands*Rows
// and LargeCorpusBands*LargeCorpusRows.
type MinHashConfig struct {
	NumHashes        int    `yaml:"num_hashes"`
	Bands            int    `yaml:"bands"`
	Rows             int    `yaml:"rows"`
	LargeCorpusBands int    `yaml:"large_corpus_bands"`
	LargeCorpusRows  int    `yaml:"large_corpus_rows"`
	Seed             uint64 `yaml:"seed"`
}

// SimHashConfig holds fingerprint width and chunked lookup parameters.
type SimHashConfig struct {
	HashBits               int `yaml:"hash_bits"`
	ChunkCount             int `yaml:"chunk_count"`
	MaxDistance            int `yaml:"max_distance"`
	LargeCorpusMaxDistance int `yaml:"large_corpus_max_distance"`
}

// Validate returns the joined list of invariants the similarity settings violate, or nil.
func (c *SimilarityConfig) Validate() error {
	var errs []error
	switch c.Family {
	case FamilyMinHash:
		m := c.MinHash
		if m.NumHashes <= 0 || m.Bands <= 0 || m.Rows <= 0 {
			errs = append(errs, fmt.Errorf("minhash num_hashes, bands and rows must be positive"))
		} else if m.Bands*m.Rows != m.NumHashes {
			errs = append(errs, fmt.Errorf("minhash num_hashes %d is not bands %d x rows %d", m.NumHashes, m.Bands, m.Rows))
		}
		if m.LargeCorpusBands <= 0 || m.LargeCorpusRows <= 0 {
			errs = append(errs, fmt.Errorf("minhash large_corpus_bands and large_corpus_rows must be positive"))
		} else if m.LargeCorpusBands*m.LargeCorpusRows != m.NumHashes {
			errs = append(errs, fmt.Errorf("minhash num_hashes %d is not large_corpus_bands %d x large_corpus_rows %d",
				m.NumHashes, m.LargeCorpusBands, m.LargeCorpusRows))
		} else if m.Rows > 1 && m.LargeCorpusRows >= m.Rows {
			errs = append(errs, fmt.Errorf("minhash large_corpus_rows %d must be below rows %d", m.LargeCorpusRows, m.Rows))
		}
	case FamilySimHash:
		s := c.SimHash
		if s.HashBits <= 0 || s.HashBits > 64 {
			errs = append(errs, fmt.Errorf("simhash hash_bits must be in 1..64, got %d", s.HashBits))
		}
		if s.ChunkCount <= 0 {
			errs = append(errs, fmt.Errorf("simhash chunk_count must be positive"))
		} else if s.HashBits%s.ChunkCount != 0 {
			errs = append(errs, fmt.Errorf("simhash hash_bits %d is not divisible by chunk_count %d", s.HashBits, s.ChunkCount))
		}
		if s.MaxDistance < 0 || s.LargeCorpusMaxDistance < 0 {
			errs = append(errs, fmt.Errorf("simhash distances must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown similarity family %q", c.Family))
	}
	switch c.Shingle.Mode {
	case ShingleModeWord, ShingleModeChar:
	default:
		errs = append(errs, fmt.Errorf("unknown shingle mode %q", c.Shingle.Mode))
	}
	if c.Shingle.Size <= 0 {
		errs = append(errs, fmt.Errorf("shingle size must be positive"))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("min_similarity must be in [0,1], got %g", c.MinSimilarity))
	}
	if c.ScoreBoost < 1 {
		errs = append(errs, fmt.Errorf("score_boost must be >= 1, got %g", c.ScoreBoost))
	}
	return errors.Join(errs...)
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Vault.Directories {
		cfg.Vault.Directories[i] = expandPath(cfg.Vault.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
