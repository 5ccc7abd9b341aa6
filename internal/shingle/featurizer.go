// Package shingle turns raw text into weighted sets of word or character n-grams.
package shingle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
)

// Set maps each distinct shingle to its occurrence count.
type Set map[string]int

// Len returns the number of distinct shingles.
func (s Set) Len() int { return len(s) }

// Sorted returns the shingles in lexicographic order.
func (s Set) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Jaccard returns |a ∩ b| / |a ∪ b| over distinct shingles. Two empty sets give 0.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Featurizer extracts shingle sets. It is safe for concurrent use.
type Featurizer struct {
	size              int
	mode              string
	largeDocThreshold int
	stride            int
	maxShingles       int
	analyzer          analysis.Analyzer
}

// New returns a featurizer for cfg. Zero thresholds disable large-document handling.
func New(cfg config.ShingleConfig) (*Featurizer, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("shingle size must be positive, got %d", cfg.Size)
	}
	f := &Featurizer{
		size:              cfg.Size,
		mode:              cfg.Mode,
		largeDocThreshold: cfg.LargeDocThreshold,
		stride:            cfg.LargeDocStride,
		maxShingles:       cfg.MaxShingles,
	}
	if f.stride <= 0 {
		f.stride = 1
	}
	switch cfg.Mode {
	case config.ShingleModeWord, "":
		f.mode = config.ShingleModeWord
		a, err := newWordAnalyzer()
		if err != nil {
			return nil, fmt.Errorf("build word analyzer: %w", err)
		}
		f.analyzer = a
	case config.ShingleModeChar:
	default:
		return nil, fmt.Errorf("unknown shingle mode %q", cfg.Mode)
	}
	return f, nil
}

// Size returns the shingle length in units.
func (f *Featurizer) Size() int { return f.size }

// Mode returns the shingle mode.
func (f *Featurizer) Mode() string { return f.mode }

// Shingles returns the shingle set of text.
// Empty text gives an empty set; text shorter than the shingle size gives one
// shingle holding the whole normalized text.
func (f *Featurizer) Shingles(text string) Set {
	if f.mode == config.ShingleModeChar {
		runes := normalizeChars(text)
		units := make([]string, len(runes))
		for i, r := range runes {
			units[i] = string(r)
		}
		return f.build(units, "")
	}
	return f.build(words(f.analyzer, text), " ")
}

func (f *Featurizer) build(units []string, sep string) Set {
	n := len(units)
	set := make(Set)
	if n == 0 {
		return set
	}
	if n < f.size {
		set[strings.Join(units, sep)] = 1
		return set
	}
	large := f.largeDocThreshold > 0 && n > f.largeDocThreshold
	step := 1
	if large {
		step = f.stride
	}
	for i := 0; i+f.size <= n; i += step {
		set[strings.Join(units[i:i+f.size], sep)]++
	}
	if large && f.maxShingles > 0 && len(set) > f.maxShingles {
		set = topFrequent(set, f.maxShingles)
	}
	return set
}

// topFrequent keeps the max most frequent shingles, breaking ties lexicographically.
func topFrequent(set Set, max int) Set {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if set[keys[i]] != set[keys[j]] {
			return set[keys[i]] > set[keys[j]]
		}
		return keys[i] < keys[j]
	})
	out := make(Set, max)
	for _, k := range keys[:max] {
		out[k] = set[k]
	}
	return out
}
