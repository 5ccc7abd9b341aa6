package similarity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/docid"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

// AddDocument indexes id, or re-indexes it when already present. A nil content
// is fetched from the store. Adding an id that was not indexed after Initialize
// has completed counts as an on-demand add.
func (e *Engine) AddDocument(ctx context.Context, id string, content *string) error {
	return e.upsert(ctx, models.DocumentInput{ID: id}, content, 0, true)
}

// UpdateDocument recomputes the sketch of id from content (fetched when nil) and
// swaps it in. Readers see either the old or the new sketch, never neither.
func (e *Engine) UpdateDocument(ctx context.Context, id string, content *string) error {
	return e.upsert(ctx, models.DocumentInput{ID: id}, content, 0, true)
}

// Ingest indexes a document supplied with its title and content.
func (e *Engine) Ingest(ctx context.Context, in models.DocumentInput) error {
	return e.upsert(ctx, in, &in.Content, 0, true)
}

// RemoveDocument drops id with its index keys and cached scores. It reports
// whether id was indexed.
func (e *Engine) RemoveDocument(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markDirtyLocked(id)
	if !e.removeLocked(id) {
		return false
	}
	e.adaptLocked()
	e.metrics.SetDocuments(len(e.docs), e.relaxed)
	e.logger.Debug("document removed", zap.String("doc_id", id))
	return true
}

// Document returns a copy of the engine's record for id.
func (e *Engine) Document(id string) (Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.docs[id]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// Len returns the number of indexed documents.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

func (e *Engine) upsert(ctx context.Context, in models.DocumentInput, content *string, version int64, onDemand bool) error {
	if in.ID == "" {
		return ErrEmptyID
	}
	var text string
	if content != nil {
		text = *content
	} else {
		if e.store == nil {
			return ErrNoStore
		}
		var err error
		if text, err = e.store.Content(ctx, in.ID); err != nil {
			return fmt.Errorf("fetch %s: %w", in.ID, err)
		}
	}
	if version == 0 {
		version = docid.ContentVersion([]byte(text))
	}

	s, _, err := e.sketchText(ctx, text)
	if err != nil {
		return fmt.Errorf("sketch %s: %w", in.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.markDirtyLocked(in.ID)
	doc := &Document{ID: in.ID, Title: in.Title, Version: version, Sketch: s, Indexed: true}
	if err := e.installLocked(doc, utils.Title(text, maxTitleLen), onDemand); err != nil {
		return err
	}
	e.adaptLocked()
	e.metrics.SetDocuments(len(e.docs), e.relaxed)
	return nil
}

// installLocked replaces the keys, sketch and cached scores of doc.ID in one step.
// An empty title falls back to the previous title, then to fallbackTitle.
func (e *Engine) installLocked(doc *Document, fallbackTitle string, onDemand bool) error {
	prev, existed := e.docs[doc.ID]
	if err := e.index.Insert(doc.ID, doc.Sketch); err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	if doc.Title == "" && existed {
		doc.Title = prev.Title
	}
	if doc.Title == "" {
		doc.Title = fallbackTitle
	}
	e.docs[doc.ID] = doc
	e.cache.Invalidate(doc.ID)

	if !existed && onDemand && e.initialized {
		e.onDemand.Add(1)
		e.metrics.OnDemandAdd()
		e.logger.Debug("on-demand add", zap.String("doc_id", doc.ID))
	}
	return nil
}

// markDirtyLocked keeps a running bulk operation from overwriting or
// resurrecting id.
func (e *Engine) markDirtyLocked(id string) {
	if e.dirty != nil {
		e.dirty[id] = struct{}{}
	}
}

func (e *Engine) removeLocked(id string) bool {
	if _, ok := e.docs[id]; !ok {
		return false
	}
	delete(e.docs, id)
	e.index.Remove(id)
	e.cache.Invalidate(id)
	return true
}
