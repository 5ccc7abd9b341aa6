// Package docid maps vault file paths to stable document IDs and back.
//
// An ID is the file's path relative to its vault directory with forward slashes.
// When more than one vault directory is configured, the ID is prefixed with the
// directory's base name so that IDs stay unique across roots.
package docid

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Resolver converts between absolute paths and document IDs for a fixed set of roots.
type Resolver struct {
	roots    []string
	prefixes []string
}

// NewResolver returns a resolver over the given vault directories.
// Roots are cleaned and made absolute; duplicate base names are rejected when
// more than one root is given.
func NewResolver(roots []string) (*Resolver, error) {
	r := &Resolver{}
	seen := make(map[string]bool)
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", root, err)
		}
		r.roots = append(r.roots, filepath.Clean(abs))
		prefix := ""
		if len(roots) > 1 {
			prefix = filepath.Base(abs)
			if seen[prefix] {
				return nil, fmt.Errorf("vault directories share base name %q", prefix)
			}
			seen[prefix] = true
		}
		r.prefixes = append(r.prefixes, prefix)
	}
	return r, nil
}

// Roots returns the cleaned absolute vault directories.
func (r *Resolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// ID returns the document ID for an absolute path, or false when the path lies
// outside every root.
func (r *Resolver) ID(absolutePath string) (string, bool) {
	p := filepath.Clean(absolutePath)
	for i, root := range r.roots {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		id := filepath.ToSlash(rel)
		if r.prefixes[i] != "" {
			id = r.prefixes[i] + "/" + id
		}
		return id, true
	}
	return "", false
}

// Path returns the absolute path for id, or false when id does not belong to any root.
func (r *Resolver) Path(id string) (string, bool) {
	if id == "" || strings.HasPrefix(id, "/") {
		return "", false
	}
	for i, root := range r.roots {
		rel := id
		if r.prefixes[i] != "" {
			p := r.prefixes[i] + "/"
			if !strings.HasPrefix(id, p) {
				continue
			}
			rel = strings.TrimPrefix(id, p)
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if back, ok := r.ID(abs); ok && back == id {
			return abs, true
		}
	}
	return "", false
}

// ContentVersion returns a version marker derived from content, used when a
// document has no modification time.
func ContentVersion(content []byte) int64 {
	return int64(xxhash.Sum64(content) >> 1)
}
