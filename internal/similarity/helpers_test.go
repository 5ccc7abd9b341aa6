package similarity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

type memDoc struct {
	content string
	modTime time.Time
	fail    error
}

// memStore is an in-memory DocumentStore.
type memStore struct {
	mu   sync.RWMutex
	docs map[string]memDoc
	base time.Time
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]memDoc), base: time.Unix(1_700_000_000, 0)}
}

// put stores content for id; later puts get later modification times.
func (m *memStore) put(id, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = m.base.Add(time.Second)
	m.docs[id] = memDoc{content: content, modTime: m.base}
}

func (m *memStore) failing(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = m.base.Add(time.Second)
	m.docs[id] = memDoc{fail: err, modTime: m.base}
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

func (m *memStore) Content(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if d.fail != nil {
		return "", d.fail
	}
	return d.content, nil
}

func (m *memStore) List(context.Context) ([]models.DocumentInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DocumentInfo, 0, len(m.docs))
	for id, d := range m.docs {
		out = append(out, models.DocumentInfo{
			ID:      id,
			Title:   strings.TrimSuffix(id, ".md"),
			ModTime: d.modTime,
			Size:    int64(len(d.content)),
			Version: d.modTime.UnixNano(),
		})
	}
	return out, nil
}

// gatedStore blocks Content for id, or List when id is empty, until release
// is closed. entered is closed when the first blocked call arrives.
type gatedStore struct {
	*memStore
	id      string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(m *memStore, id string) *gatedStore {
	return &gatedStore{memStore: m, id: id, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) wait(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedStore) Content(ctx context.Context, id string) (string, error) {
	if g.id != "" && id == g.id {
		if err := g.wait(ctx); err != nil {
			return "", err
		}
	}
	return g.memStore.Content(ctx, id)
}

func (g *gatedStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	if g.id == "" {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
	}
	return g.memStore.List(ctx)
}

type runResult struct {
	rep *Report
	err error
}

// initializeAsync starts Initialize and returns a channel with its result.
func initializeAsync(e *Engine) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		rep, err := e.Initialize(context.Background(), nil)
		done <- runResult{rep, err}
	}()
	return done
}

// words returns n distinct words drawn from vocabulary v.
func words(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", v, i)
	}
	return out
}

func text(v string, n int) string {
	return strings.Join(words(v, n), " ")
}

// nearDuplicate returns text(v, n) with its last word replaced.
func nearDuplicate(v string, n int) string {
	w := words(v, n)
	w[n-1] = "changed"
	return strings.Join(w, " ")
}

func minhashConfig() config.SimilarityConfig {
	return config.SimilarityConfig{
		Family: config.FamilyMinHash,
		MinHash: config.MinHashConfig{
			NumHashes: 16, Bands: 8, Rows: 2,
			LargeCorpusBands: 16, LargeCorpusRows: 1,
		},
	}
}

func simhashConfig() config.SimilarityConfig {
	return config.SimilarityConfig{
		Family:  config.FamilySimHash,
		SimHash: config.SimHashConfig{HashBits: 64, ChunkCount: 4, MaxDistance: 10, LargeCorpusMaxDistance: 16},
	}
}

func newEngine(t *testing.T, cfg config.SimilarityConfig, store storage.DocumentStore, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, store, opts...)
	require.NoError(t, err)
	return e
}

func strPtr(s string) *string { return &s }

func candidateIDs(e *Engine, id string) []string {
	var ids []string
	for _, c := range e.Candidates(id) {
		ids = append(ids, c.ID)
	}
	return ids
}
