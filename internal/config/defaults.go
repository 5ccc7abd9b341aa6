package config

import "time"

// DefaultSeed seeds MinHash coefficients when the config leaves seed unset, so that
// sketch snapshots stay valid across restarts.
const DefaultSeed uint64 = 0x5eed1e55

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/relnotes/relnotes.db"
	}
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md", ".txt", ".rst", ".pdf", ".docx", ".xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Vault.Directories) > 0 && cfg.Vault.Recursive == nil {
		t := true
		cfg.Vault.Recursive = &t
	}
	applyIndexingDefaults(&cfg.Indexing)
	ApplySimilarityDefaults(&cfg.Similarity)
}

func applyIndexingDefaults(ic *IndexingConfig) {
	if ic.BatchSize == 0 {
		ic.BatchSize = 50
	}
	if ic.Concurrency == 0 {
		ic.Concurrency = 4
	}
	if ic.Debounce == 0 {
		ic.Debounce = 2 * time.Second
	}
	if ic.MinBatchInterval == 0 {
		ic.MinBatchInterval = 100 * time.Millisecond
	}
	if ic.FetchRetries == 0 {
		ic.FetchRetries = 3
	}
	if ic.ContentCacheSize == 0 {
		ic.ContentCacheSize = 512
	}
}

// ApplySimilarityDefaults fills zero similarity settings. Exposed separately so that
// library callers can build a SimilarityConfig without a full Config.
func ApplySimilarityDefaults(sc *SimilarityConfig) {
	if sc.Family == "" {
		sc.Family = FamilyMinHash
	}
	if sc.MinSimilarity == 0 {
		sc.MinSimilarity = 0.1
	}
	if sc.MinCandidates == 0 {
		sc.MinCandidates = 2
	}
	if sc.MaxResults == 0 {
		sc.MaxResults = 20
	}
	if sc.LargeCorpusThreshold == 0 {
		sc.LargeCorpusThreshold = 10000
	}
	if sc.MaxIndexedDocuments == 0 {
		sc.MaxIndexedDocuments = 20000
	}
	if sc.ScoreBoost == 0 {
		sc.ScoreBoost = 1
	}
	if sc.SketchChunkSize == 0 {
		sc.SketchChunkSize = 1000
	}

	sh := &sc.Shingle
	if sh.Size == 0 {
		sh.Size = 2
	}
	if sh.Mode == "" {
		sh.Mode = ShingleModeWord
	}
	if sh.LargeDocThreshold == 0 {
		sh.LargeDocThreshold = 20000
	}
	if sh.LargeDocStride == 0 {
		sh.LargeDocStride = 2
	}
	if sh.MaxShingles == 0 {
		sh.MaxShingles = 4000
	}

	mh := &sc.MinHash
	if mh.NumHashes == 0 && mh.Bands == 0 && mh.Rows == 0 {
		mh.NumHashes, mh.Bands, mh.Rows = 128, 32, 4
	}
	if mh.LargeCorpusBands == 0 && mh.LargeCorpusRows == 0 {
		// Same signature length with fewer rows per band: half the rows when
		// they split evenly, otherwise one row per band.
		switch {
		case mh.Rows%2 == 0:
			mh.LargeCorpusBands, mh.LargeCorpusRows = mh.Bands*2, mh.Rows/2
		case mh.Rows > 1:
			mh.LargeCorpusBands, mh.LargeCorpusRows = mh.NumHashes, 1
		default:
			mh.LargeCorpusBands, mh.LargeCorpusRows = mh.Bands, mh.Rows
		}
	}
	if mh.Seed == 0 {
		mh.Seed = DefaultSeed
	}

	s := &sc.SimHash
	if s.HashBits == 0 {
		s.HashBits = 64
	}
	if s.ChunkCount == 0 {
		s.ChunkCount = 4
	}
	if s.MaxDistance == 0 {
		s.MaxDistance = 10
	}
	if s.LargeCorpusMaxDistance == 0 {
		s.LargeCorpusMaxDistance = s.MaxDistance + s.MaxDistance/2
	}
}
