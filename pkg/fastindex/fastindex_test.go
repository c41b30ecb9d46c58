package fastindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/pkg/metadata"
)

func layersWith(keywords []string, hash string) metadata.BlockMetadataLayers {
	return metadata.BlockMetadataLayers{
		Public: metadata.PublicMetadata{
			GeneralKeywords: keywords,
			HashFingerprint: hash,
		},
	}
}

func TestSearchFastScoresExactHits(t *testing.T) {
	idx := New()
	idx.Index("abc", layersWith([]string{"invoice", "2024", "eur"}, "abc"))

	results := idx.SearchFast("invoice 2024", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].BlockID)
	// 3.0 (invoice) + 3.0 (2024) + 0.1*richness(1.0+0.1*3 keywords)
	assert.InDelta(t, 6.13, results[0].Score, 1e-9)
}

func TestSearchFastFuzzyScoring(t *testing.T) {
	idx := New()
	idx.Index("p1", layersWith([]string{"patient"}, "p1"))

	results := idx.SearchFast("patien", 5)
	require.Len(t, results, 1)
	// "patien" is a substring of "patient", so the fuzzy hit scores the
	// substring score 1.5, plus 0.1*richness(1.0+0.1*1 keyword).
	expected := 1.5 + 0.1*1.1
	assert.InDelta(t, expected, results[0].Score, 1e-9)
}

func TestIdempotentIndexing(t *testing.T) {
	idx := New()
	layers := layersWith([]string{"alpha", "beta"}, "x")

	idx.Index("x", layers)
	first := idx.SearchFast("alpha beta", 10)

	idx.Index("x", layers)
	idx.Index("x", layers)
	second := idx.SearchFast("alpha beta", 10)

	assert.Equal(t, first, second)
}

func TestRemovalCompleteness(t *testing.T) {
	idx := New()
	idx.Index("x", layersWith([]string{"a", "b"}, "x"))
	idx.Remove("x")

	assert.Equal(t, 0, idx.Len())
	results := idx.SearchFast("a b", 10)
	assert.Empty(t, results)
	assert.Empty(t, idx.keywordIndex)
}

func TestScoreOrderingDescending(t *testing.T) {
	idx := New()
	idx.Index("low", layersWith([]string{"alpha"}, "low"))
	idx.Index("high", layersWith([]string{"alpha", "beta"}, "high"))

	results := idx.SearchFast("alpha beta", 10)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestMaxResultsTruncates(t *testing.T) {
	idx := New()
	for i := 0; i < 5; i++ {
		idx.Index(string(rune('a'+i)), layersWith([]string{"invoice"}, string(rune('a'+i))))
	}
	results := idx.SearchFast("invoice", 2)
	assert.Len(t, results, 2)
}

func TestSearchByContentType(t *testing.T) {
	idx := New()
	idx.Index("json1", metadata.BlockMetadataLayers{Public: metadata.PublicMetadata{
		GeneralKeywords: []string{"invoice"}, ContentType: "application/json", HashFingerprint: "json1",
	}})
	idx.Index("text1", metadata.BlockMetadataLayers{Public: metadata.PublicMetadata{
		GeneralKeywords: []string{"invoice"}, ContentType: "text/plain", HashFingerprint: "text1",
	}})

	results := idx.SearchByContentType("invoice", "application/json", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "json1", results[0].BlockID)
}

func TestDeduplication(t *testing.T) {
	idx := New()
	idx.Index("x", layersWith([]string{"alpha"}, "x"))
	results := idx.SearchFast("alpha alpha", 10)
	require.Len(t, results, 1)
}
