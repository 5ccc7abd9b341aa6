package similarity

import "github.com/mrboxtobox/obsidian-related-notes-sub001/internal/lsh"

// Stats is a point-in-time view of the engine.
type Stats struct {
	Family       string    `json:"family"`
	Documents    int       `json:"documents"`
	Index        lsh.Stats `json:"index"`
	CacheEntries int       `json:"cache_entries"`
	CacheHits    int64     `json:"cache_hits"`
	CacheMisses  int64     `json:"cache_misses"`
	OnDemandAdds int64     `json:"on_demand_adds"`
	Initialized  bool      `json:"initialized"`
	Sampled      bool      `json:"sampled"`
	Relaxed      bool      `json:"relaxed"`
	Running      bool      `json:"running"`
	Bands        int       `json:"bands,omitempty"`
	Rows         int       `json:"rows,omitempty"`
	MaxDistance  int       `json:"max_distance,omitempty"`
}

// Statistics returns document, index and cache counters.
func (e *Engine) Statistics() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hits, misses := e.cache.Stats()
	s := Stats{
		Family:       string(e.hasher.Family()),
		Documents:    len(e.docs),
		Index:        e.index.Stats(),
		CacheEntries: e.cache.Len(),
		CacheHits:    hits,
		CacheMisses:  misses,
		OnDemandAdds: e.onDemand.Load(),
		Initialized:  e.initialized,
		Sampled:      e.sampled,
		Relaxed:      e.relaxed,
		Running:      e.scheduler.Running(),
	}
	if e.bands != nil {
		s.Bands, s.Rows = e.bands.Banding()
	}
	if e.chunks != nil {
		s.MaxDistance = e.chunks.MaxDistance()
	}
	return s
}
