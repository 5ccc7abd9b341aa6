// Package extract turns vault files into plain text for featurization.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts plain text from vault files.
type Extractor struct {
	stripMarkdown bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMarkdownCleanup controls whether markdown notes lose their YAML
// front matter and wiki-link brackets before featurization. Enabled by default.
func WithMarkdownCleanup(enabled bool) Option {
	return func(e *Extractor) { e.stripMarkdown = enabled }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{stripMarkdown: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether ext (with leading dot, any case) has a dedicated extractor.
func (e *Extractor) Supports(ext string) bool {
	switch strings.ToLower(ext) {
	case ".md", ".markdown", ".txt", ".rst", ".pdf", ".docx", ".xlsx":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".md", ".markdown":
		text := extractPlain(content)
		if e.stripMarkdown {
			text = cleanMarkdown(text)
		}
		return text, nil
	default:
		return extractPlain(content), nil
	}
}
