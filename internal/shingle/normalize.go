package shingle

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unitokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// newWordAnalyzer builds the word-mode chain: unicode tokenizer -> lowercase.
func newWordAnalyzer() (analysis.Analyzer, error) {
	cache := registry.NewCache()
	tokenizer, err := cache.TokenizerNamed(unitokenizer.Name)
	if err != nil {
		return nil, err
	}
	lower, err := cache.TokenFilterNamed(lowercase.Name)
	if err != nil {
		return nil, err
	}
	return &analysis.DefaultAnalyzer{
		Tokenizer:    tokenizer,
		TokenFilters: []analysis.TokenFilter{lower},
	}, nil
}

// words returns the lowercased word tokens of text.
func words(a analysis.Analyzer, text string) []string {
	tokens := a.Analyze([]byte(text))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Term) > 0 {
			out = append(out, string(tok.Term))
		}
	}
	return out
}

// normalizeChars lowercases text, trims it and collapses every whitespace run to one space.
func normalizeChars(text string) []rune {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return []rune(b.String())
}
