package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/batch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/sketch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

// Failure is a document a bulk run could not index.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Report summarizes one Initialize or ForceReindex run.
type Report struct {
	RunID   string        `json:"run_id"`
	Outcome batch.Outcome `json:"outcome"`
	// Corpus is the number of documents the store listed; Total is how many
	// were selected for indexing after sampling.
	Corpus      int           `json:"corpus"`
	Total       int           `json:"total"`
	Processed   int           `json:"processed"`
	Skipped     int           `json:"skipped"`
	Removed     int           `json:"removed"`
	// Superseded counts documents changed or removed by other callers while
	// the run was fetching them; their newer state is kept.
	Superseded  int           `json:"superseded"`
	Failed      []Failure     `json:"failed,omitempty"`
	Sampled     bool          `json:"sampled"`
	AvgShingles float64       `json:"avg_shingles"`
	Duration    time.Duration `json:"duration"`
}

// Initialize indexes the store's documents, most recently modified first, in
// fixed-size batches. Documents whose restored sketch matches the listed version
// are skipped and indexed documents missing from the listing are dropped.
// Per-document failures are recorded in the report. Cancellation through Cancel
// or ctx returns a report with OutcomeCancelled and a nil error.
func (e *Engine) Initialize(ctx context.Context, progress batch.Progress) (*Report, error) {
	if err := e.claim(); err != nil {
		return nil, err
	}
	defer e.release()
	return e.initialize(ctx, progress)
}

// ForceReindex clears every document, index key, cached score and counter and
// runs Initialize again.
func (e *Engine) ForceReindex(ctx context.Context, progress batch.Progress) (*Report, error) {
	if err := e.claim(); err != nil {
		return nil, err
	}
	defer e.release()
	return e.forceReindex(ctx, progress)
}

// Start runs Initialize, or ForceReindex when force is set, on a new goroutine
// and passes its result to done. The bulk operation is claimed before Start
// returns, so ErrBusy and ErrNoStore are reported synchronously and Cancel
// reaches the run from then on.
func (e *Engine) Start(ctx context.Context, force bool, progress batch.Progress, done func(*Report, error)) error {
	if err := e.claim(); err != nil {
		return err
	}
	go func() {
		defer e.release()
		var (
			rep *Report
			err error
		)
		if force {
			rep, err = e.forceReindex(ctx, progress)
		} else {
			rep, err = e.initialize(ctx, progress)
		}
		if done != nil {
			done(rep, err)
		}
	}()
	return nil
}

func (e *Engine) claim() error {
	if e.store == nil {
		return ErrNoStore
	}
	if !e.bulk.TryLock() {
		return ErrBusy
	}
	if !e.scheduler.Begin() {
		e.bulk.Unlock()
		return ErrBusy
	}
	return nil
}

func (e *Engine) release() {
	e.scheduler.End()
	e.bulk.Unlock()
}

func (e *Engine) forceReindex(ctx context.Context, progress batch.Progress) (*Report, error) {
	e.mu.Lock()
	e.docs = make(map[string]*Document)
	e.dirty = make(map[string]struct{})
	if e.relaxed {
		e.setRelaxedLocked(false)
	}
	e.index.Reset()
	e.cache.Reset()
	e.onDemand.Store(0)
	e.initialized = false
	e.sampled = false
	e.metrics.SetDocuments(0, false)
	e.mu.Unlock()

	return e.initialize(ctx, progress)
}

type runIDKey struct{}

// WithRunID returns a context that makes a bulk run started with it report id
// as its run id. Without it every run gets a fresh UUID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type sketched struct {
	info     models.DocumentInfo
	sketch   sketch.Sketch
	shingles int
	title    string
}

func (e *Engine) initialize(ctx context.Context, progress batch.Progress) (*Report, error) {
	start := time.Now()
	rep := &Report{RunID: runIDFrom(ctx)}
	log := e.logger.With(zap.String("run_id", rep.RunID))

	e.mu.Lock()
	if e.dirty == nil {
		e.dirty = make(map[string]struct{})
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.dirty = nil
		e.mu.Unlock()
	}()

	infos, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if e.scheduler.Cancelled() || ctx.Err() != nil {
		rep.Outcome = batch.OutcomeCancelled
		rep.Duration = time.Since(start)
		e.metrics.ObserveBulkRun(rep.Outcome.String(), rep.Duration, 0)
		log.Info("indexing cancelled before planning")
		return rep, nil
	}
	selected, sampled := selectDocuments(infos, e.cfg.MaxIndexedDocuments)
	rep.Corpus, rep.Total, rep.Sampled = len(infos), len(selected), sampled

	work := e.plan(selected, sampled, rep)
	log.Info("indexing started",
		zap.Int("corpus", rep.Corpus),
		zap.Int("selected", rep.Total),
		zap.Int("to_sketch", len(work)),
		zap.Int("unchanged", rep.Skipped),
		zap.Bool("sampled", sampled))

	var shingles []int
	report := func(processed, total int) {
		if progress != nil {
			progress(rep.Skipped+processed, rep.Skipped+total)
		}
	}
	outcome, runErr := e.scheduler.Run(ctx, len(work), report, func(ctx context.Context, from, to int) error {
		done, failed, err := e.sketchBatch(ctx, work[from:to])
		committed, superseded, commitFailed := e.commit(done)
		failed = append(failed, commitFailed...)
		for _, f := range failed {
			log.Warn("document not indexed", zap.String("doc_id", f.ID), zap.String("error", f.Error))
		}
		rep.Failed = append(rep.Failed, failed...)
		rep.Processed += len(committed)
		rep.Superseded += superseded
		for _, d := range committed {
			shingles = append(shingles, d.shingles)
		}
		return err
	})

	rep.Outcome = outcome
	rep.AvgShingles = utils.MeanInt(shingles)
	rep.Duration = time.Since(start)
	if outcome == batch.OutcomeCompleted {
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
	}
	e.metrics.ObserveBulkRun(outcome.String(), rep.Duration, len(rep.Failed))
	log.Info("indexing finished",
		zap.Stringer("outcome", outcome),
		zap.Int("processed", rep.Processed),
		zap.Int("superseded", rep.Superseded),
		zap.Int("failed", len(rep.Failed)),
		zap.Duration("duration", rep.Duration))
	if runErr != nil {
		return rep, fmt.Errorf("indexing run %s: %w", rep.RunID, runErr)
	}
	return rep, nil
}

// plan drops indexed documents that are no longer selected and returns the
// selected documents whose sketch is missing or stale. Documents changed by
// other callers since the run started are left as they are.
func (e *Engine) plan(selected []models.DocumentInfo, sampled bool, rep *Report) []models.DocumentInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampled = sampled

	keep := make(map[string]bool, len(selected))
	var work []models.DocumentInfo
	for _, info := range selected {
		keep[info.ID] = true
		if _, ok := e.dirty[info.ID]; ok {
			rep.Superseded++
			continue
		}
		if d, ok := e.docs[info.ID]; ok && d.Indexed && d.Version == info.Version {
			if info.Title != "" {
				d.Title = info.Title
			}
			rep.Skipped++
			continue
		}
		work = append(work, info)
	}
	for id := range e.docs {
		if _, ok := e.dirty[id]; ok {
			continue
		}
		if !keep[id] && e.removeLocked(id) {
			rep.Removed++
		}
	}
	e.adaptLocked()
	e.metrics.SetDocuments(len(e.docs), e.relaxed)
	return work
}

// sketchBatch fetches and sketches infos in parallel. Per-document failures are
// returned as such; the error is non-nil only when the run was cancelled.
func (e *Engine) sketchBatch(ctx context.Context, infos []models.DocumentInfo) ([]sketched, []Failure, error) {
	results := make([]*sketched, len(infos))
	failures := make([]*Failure, len(infos))

	g, gctx := errgroup.WithContext(ctx)
	gctx = batch.WithContextYielder(gctx, e.scheduler.Yield)
	g.SetLimit(e.concurrency)
	for i, info := range infos {
		g.Go(func() error {
			text, err := e.store.Content(gctx, info.ID)
			if err != nil {
				if cerr := batch.Check(gctx); cerr != nil {
					return cerr
				}
				failures[i] = &Failure{ID: info.ID, Error: err.Error()}
				return nil
			}
			s, n, err := e.sketchText(gctx, text)
			if err != nil {
				if errors.Is(err, batch.ErrCancelled) {
					return err
				}
				failures[i] = &Failure{ID: info.ID, Error: err.Error()}
				return nil
			}
			results[i] = &sketched{info: info, sketch: s, shingles: n, title: utils.Title(text, maxTitleLen)}
			return nil
		})
	}
	err := g.Wait()

	var done []sketched
	var failed []Failure
	for i := range infos {
		if results[i] != nil {
			done = append(done, *results[i])
		}
		if failures[i] != nil {
			failed = append(failed, *failures[i])
		}
	}
	return done, failed, err
}

// commit installs a batch of sketches under one write lock and returns the
// installed ones. Ids changed by other callers while the batch was being
// fetched are skipped and counted as superseded.
func (e *Engine) commit(done []sketched) (committed []sketched, superseded int, failed []Failure) {
	if len(done) == 0 {
		return nil, 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range done {
		if _, ok := e.dirty[d.info.ID]; ok {
			superseded++
			continue
		}
		doc := &Document{
			ID:      d.info.ID,
			Title:   d.info.Title,
			Version: d.info.Version,
			Sketch:  d.sketch,
			Indexed: true,
		}
		if err := e.installLocked(doc, d.title, false); err != nil {
			failed = append(failed, Failure{ID: d.info.ID, Error: err.Error()})
			continue
		}
		committed = append(committed, d)
	}
	e.adaptLocked()
	e.metrics.SetDocuments(len(e.docs), e.relaxed)
	return committed, superseded, failed
}

// selectDocuments orders infos by modification time, most recent first, and
// keeps the first limit when there are more.
func selectDocuments(infos []models.DocumentInfo, limit int) ([]models.DocumentInfo, bool) {
	out := append([]models.DocumentInfo(nil), infos...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		return out[:limit], true
	}
	return out, false
}
