// Package similarity maintains the related-document index. It featurizes and
// sketches documents, keeps the sketches in a candidate index, caches pairwise
// scores and adapts its retrieval parameters to the corpus size.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/batch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/lsh"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/metrics"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/shingle"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/simcache"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

var (
	// ErrInvalidConfig wraps every construction error caused by bad parameters.
	ErrInvalidConfig = errors.New("invalid similarity configuration")
	// ErrNoStore is returned when content must be fetched but the engine has no store.
	ErrNoStore = errors.New("no document store configured")
	// ErrEmptyID is returned for operations on an empty document id.
	ErrEmptyID = errors.New("document id must not be empty")
	// ErrBusy is returned when a bulk operation is started while another runs.
	ErrBusy = errors.New("a bulk operation is already running")
)

const maxTitleLen = 80

// Document is the engine's record of one indexed document.
type Document struct {
	ID    string
	Title string
	// Version is the store's modification marker the sketch was computed from.
	Version int64
	Sketch  sketch.Sketch
	Indexed bool
}

// arena exposes the engine's documents to the candidate index. Callers hold e.mu.
type arena map[string]*Document

func (a arena) Sketch(id string) (sketch.Sketch, bool) {
	d, ok := a[id]
	if !ok {
		return sketch.Sketch{}, false
	}
	return d.Sketch, true
}

func (a arena) Range(fn func(id string, s sketch.Sketch) bool) {
	for id, d := range a {
		if !fn(id, d.Sketch) {
			return
		}
	}
}

// Engine is the similarity index over one document store.
type Engine struct {
	cfg        config.SimilarityConfig
	store      storage.DocumentStore
	featurizer *shingle.Featurizer
	hasher     sketch.Hasher
	index      lsh.Index
	bands      *lsh.BandIndex
	chunks     *lsh.ChunkIndex
	cache      *simcache.Cache
	scheduler  *batch.Scheduler

	logger      *zap.Logger
	metrics     *metrics.Metrics
	yielder     batch.Yielder
	batchSize   int
	concurrency int

	mu          sync.RWMutex
	docs        map[string]*Document
	// dirty holds ids added, updated or removed outside the running bulk
	// operation since it started; nil when none runs. The run leaves them alone.
	dirty       map[string]struct{}
	initialized bool
	sampled     bool
	relaxed     bool

	onDemand atomic.Int64
	bulk     sync.Mutex
	flight   singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithYielder sets the yield function used between batches and sketch chunks of
// bulk operations. Single-document operations always use batch.DefaultYielder.
func WithYielder(y batch.Yielder) Option {
	return func(e *Engine) { e.yielder = y }
}

// WithBatchSize sets the number of documents per bulk batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency sets how many documents of a batch are sketched in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New builds an engine for cfg over store. Zero settings take their defaults.
// store may be nil when every document is supplied with its content.
// Parameter violations return an error wrapping ErrInvalidConfig.
func New(cfg config.SimilarityConfig, store storage.DocumentStore, opts ...Option) (*Engine, error) {
	config.ApplySimilarityDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e := &Engine{
		cfg:         cfg,
		store:       store,
		cache:       simcache.New(),
		logger:      zap.NewNop(),
		batchSize:   50,
		concurrency: 4,
		docs:        make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scheduler = batch.NewScheduler(e.batchSize,
		batch.WithYielder(e.yielder),
		batch.WithLogger(e.logger))

	var err error
	if e.featurizer, err = shingle.New(cfg.Shingle); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if e.hasher, err = sketch.NewHasher(cfg, sketch.WithYielder(batch.DefaultYielder)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch e.hasher.Family() {
	case sketch.FamilyMinHash:
		e.bands, err = lsh.NewBandIndex(lsh.BandOptions{
			Bands:         cfg.MinHash.Bands,
			Rows:          cfg.MinHash.Rows,
			MinCandidates: cfg.MinCandidates,
			MaxResults:    cfg.MaxResults,
			MinSimilarity: cfg.MinSimilarity,
		})
		e.index = e.bands
	case sketch.FamilySimHash:
		e.chunks, err = lsh.NewChunkIndex(lsh.ChunkOptions{
			HashBits:    cfg.SimHash.HashBits,
			ChunkCount:  cfg.SimHash.ChunkCount,
			MaxDistance: cfg.SimHash.MaxDistance,
		})
		e.index = e.chunks
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e.logger.Debug("similarity engine created",
		zap.String("family", string(e.hasher.Family())),
		zap.String("fingerprint", e.Fingerprint()))
	return e, nil
}

// Family returns the sketch family in use.
func (e *Engine) Family() sketch.Family { return e.hasher.Family() }

// Cancel asks the running Initialize or ForceReindex to stop at its next yield
// point. It does not affect single-document operations.
func (e *Engine) Cancel() { e.scheduler.Cancel() }

// Running reports whether a bulk operation is in progress.
func (e *Engine) Running() bool { return e.scheduler.Running() }

// sketchText featurizes and sketches text and returns the shingle count.
func (e *Engine) sketchText(ctx context.Context, text string) (sketch.Sketch, int, error) {
	start := time.Now()
	set := e.featurizer.Shingles(text)
	s, err := e.hasher.Sketch(ctx, set)
	if err != nil {
		return sketch.Sketch{}, 0, err
	}
	e.metrics.ObserveSketch(time.Since(start))
	return s, set.Len(), nil
}
