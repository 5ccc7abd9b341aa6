package shingle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeaturizer(t *testing.T, cfg config.ShingleConfig) *Featurizer {
	t.Helper()
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func TestShingles_wordBigrams(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{Size: 2, Mode: config.ShingleModeWord})

	set := f.Shingles("The quick, brown FOX")
	assert.Equal(t, Set{"the quick": 1, "quick brown": 1, "brown fox": 1}, set)
}

func TestShingles_countsRepeats(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{Size: 2, Mode: config.ShingleModeWord})

	set := f.Shingles("a b a b a b")
	assert.Equal(t, 3, set["a b"])
	assert.Equal(t, 2, set["b a"])
	assert.Equal(t, 2, set.Len())
}

func TestShingles_charMode(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{Size: 3, Mode: config.ShingleModeChar})

	set := f.Shingles("  Ab\t\n cd ")
	assert.Equal(t, Set{"ab ": 1, "b c": 1, " cd": 1}, set)
}

func TestShingles_emptyText(t *testing.T) {
	for _, mode := range []string{config.ShingleModeWord, config.ShingleModeChar} {
		f := newFeaturizer(t, config.ShingleConfig{Size: 2, Mode: mode})
		assert.Empty(t, f.Shingles(""), mode)
		assert.Empty(t, f.Shingles("   \n\t "), mode)
	}
}

func TestShingles_shorterThanSize(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{Size: 3, Mode: config.ShingleModeWord})
	assert.Equal(t, Set{"hello world": 1}, f.Shingles("Hello   world"))

	c := newFeaturizer(t, config.ShingleConfig{Size: 5, Mode: config.ShingleModeChar})
	assert.Equal(t, Set{"hi": 1}, c.Shingles(" HI "))
}

func TestShingles_largeDocumentStrideAndCap(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{
		Size:              1,
		Mode:              config.ShingleModeWord,
		LargeDocThreshold: 10,
		LargeDocStride:    1,
		MaxShingles:       3,
	})
	// w0 appears 5 times, w1 4 times, w2 and w3 3 times each, the rest once.
	var parts []string
	for i, n := range []int{5, 4, 3, 3, 1, 1} {
		for j := 0; j < n; j++ {
			parts = append(parts, fmt.Sprintf("w%d", i))
		}
	}
	set := f.Shingles(strings.Join(parts, " "))
	assert.Equal(t, Set{"w0": 5, "w1": 4, "w2": 3}, set, "ties broken lexicographically")
}

func TestShingles_largeDocumentStride(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{
		Size:              1,
		Mode:              config.ShingleModeWord,
		LargeDocThreshold: 4,
		LargeDocStride:    2,
	})
	set := f.Shingles("a b c d e f")
	assert.Equal(t, Set{"a": 1, "c": 1, "e": 1}, set)

	small := f.Shingles("a b c d")
	assert.Equal(t, 4, small.Len(), "documents at the threshold are not strided")
}

func TestShingles_deterministic(t *testing.T) {
	f := newFeaturizer(t, config.ShingleConfig{Size: 2, Mode: config.ShingleModeWord})
	text := "Notes about MinHash, banding and the Jaccard index."
	assert.Equal(t, f.Shingles(text), f.Shingles(text))
}

func TestNew_invalid(t *testing.T) {
	_, err := New(config.ShingleConfig{Size: 0, Mode: config.ShingleModeWord})
	assert.Error(t, err)
	_, err = New(config.ShingleConfig{Size: 2, Mode: "sentence"})
	assert.Error(t, err)
}

func TestJaccard(t *testing.T) {
	a := Set{"x": 1, "y": 2, "z": 1}
	b := Set{"y": 1, "z": 5, "w": 1}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(Set{}, Set{}))
	assert.Equal(t, 1.0, Jaccard(a, a))
}

func TestSet_Sorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Set{"c": 1, "a": 1, "b": 2}.Sorted())
}
