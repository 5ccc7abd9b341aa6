package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/docid"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/extract"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	Roots      []string
	Extensions []string
	Recursive  bool
	// CacheSize is the number of extracted documents kept in memory. 0 disables the cache.
	CacheSize int
	Logger    *zap.Logger
}

type cachedContent struct {
	modTime time.Time
	size    int64
	text    string
}

// FileStore serves the files of one or more vault directories as documents.
// Document IDs are vault-relative slash paths (see docid).
type FileStore struct {
	resolver   *docid.Resolver
	extractor  *extract.Extractor
	extensions map[string]bool
	recursive  bool
	cache      *lru.Cache[string, cachedContent]
	logger     *zap.Logger
}

// NewFileStore returns a store over cfg.Roots.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("file store needs at least one vault directory")
	}
	resolver, err := docid.NewResolver(cfg.Roots)
	if err != nil {
		return nil, err
	}
	f := &FileStore{
		resolver:   resolver,
		extractor:  extract.NewExtractor(),
		extensions: make(map[string]bool),
		recursive:  cfg.Recursive,
		logger:     cfg.Logger,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = true
	}
	if cfg.CacheSize > 0 {
		if f.cache, err = lru.New[string, cachedContent](cfg.CacheSize); err != nil {
			return nil, fmt.Errorf("content cache: %w", err)
		}
	}
	return f, nil
}

// Resolver returns the path/ID mapping of the store.
func (f *FileStore) Resolver() *docid.Resolver { return f.resolver }

// Accepts reports whether path has one of the configured extensions and is not hidden.
func (f *FileStore) Accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if len(f.extensions) == 0 {
		return f.extractor.Supports(ext)
	}
	return f.extensions[ext]
}

// List walks the vault directories and returns every accepted file.
// Hidden directories such as .git or .obsidian are skipped.
func (f *FileStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	var out []models.DocumentInfo
	for _, root := range f.resolver.Roots() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				f.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && (strings.HasPrefix(d.Name(), ".") || !f.recursive) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !f.Accepts(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			id, ok := f.resolver.ID(path)
			if !ok {
				return nil
			}
			out = append(out, models.DocumentInfo{
				ID:      id,
				Title:   strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
				ModTime: info.ModTime(),
				Size:    info.Size(),
				Version: info.ModTime().UnixNano(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return out, nil
}

// Content extracts the text of document id. Extracted text is cached until the
// file's modification time or size changes.
func (f *FileStore) Content(ctx context.Context, id string) (string, error) {
	path, ok := f.resolver.Path(id)
	if !ok || !f.Accepts(path) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.cache != nil {
		if c, ok := f.cache.Get(id); ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
			return c.text, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := f.extractor.Extract(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", id, err)
	}
	if f.cache != nil {
		f.cache.Add(id, cachedContent{modTime: info.ModTime(), size: info.Size(), text: text})
	}
	return text, nil
}

// Forget drops the cached content of id.
func (f *FileStore) Forget(id string) {
	if f.cache != nil {
		f.cache.Remove(id)
	}
}

// CacheLen returns the number of cached documents.
func (f *FileStore) CacheLen() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.Len()
}
