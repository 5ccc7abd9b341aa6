package similarity

import (
	"context"
	"fmt"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/lsh"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

// Candidates returns the documents structurally similar to id, best first.
// An unindexed id has no candidates.
func (e *Engine) Candidates(id string) []lsh.Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.docs[id]
	if !ok {
		return []lsh.Candidate{}
	}
	out := e.index.Query(id, doc.Sketch, arena(e.docs))
	if out == nil {
		out = []lsh.Candidate{}
	}
	return out
}

// Related returns up to limit candidates of id with titles, ranks and display
// scores. limit <= 0 uses the configured MaxResults.
func (e *Engine) Related(id string, limit int) []models.RelatedResult {
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []models.RelatedResult{}
	doc, ok := e.docs[id]
	if !ok {
		return out
	}
	candidates := e.index.Query(id, doc.Sketch, arena(e.docs))
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i, c := range candidates {
		r := models.RelatedResult{
			ID:           c.ID,
			Score:        c.Score,
			DisplayScore: e.displayScoreLocked(c.Score),
			Rank:         i + 1,
		}
		if d, ok := e.docs[c.ID]; ok {
			r.Title = d.Title
		}
		out = append(out, r)
	}
	e.metrics.ObserveCandidates(len(out))
	return out
}

// displayScoreLocked applies the cosmetic score boost while the corpus is
// sampled or relaxed.
func (e *Engine) displayScoreLocked(score float64) float64 {
	if !e.sampled && !e.relaxed {
		return score
	}
	return utils.ClampUnit(score * e.cfg.ScoreBoost)
}

// ComputeSimilarity returns the estimated similarity of a and b. Scores are
// cached per pair; endpoints that are not indexed are added first.
func (e *Engine) ComputeSimilarity(ctx context.Context, a, b string) (float64, error) {
	if a == "" || b == "" {
		return 0, ErrEmptyID
	}
	if a == b {
		if err := e.ensure(ctx, a); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if score, ok := e.cache.Get(a, b); ok {
		e.metrics.CacheLookup(true)
		return score, nil
	}
	e.metrics.CacheLookup(false)

	for _, id := range []string{a, b} {
		if err := e.ensure(ctx, id); err != nil {
			return 0, err
		}
	}

	// Scoring and caching happen under the read lock so that no update can
	// invalidate the pair between the two steps.
	e.mu.RLock()
	defer e.mu.RUnlock()
	da, ok := e.docs[a]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotFound, a)
	}
	db, ok := e.docs[b]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotFound, b)
	}
	score := e.hasher.Similarity(da.Sketch, db.Sketch)
	e.cache.Set(a, b, score)
	return score, nil
}

// ensure indexes id from the store unless it is already indexed. Concurrent
// callers for the same id share one fetch.
func (e *Engine) ensure(ctx context.Context, id string) error {
	e.mu.RLock()
	_, ok := e.docs[id]
	e.mu.RUnlock()
	if ok {
		return nil
	}
	_, err, _ := e.flight.Do(id, func() (any, error) {
		return nil, e.AddDocument(ctx, id, nil)
	})
	return err
}
