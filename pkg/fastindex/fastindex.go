// Package fastindex implements the O(1) exact-match and ranked fuzzy
// inverted index over public metadata. Posting lists are guarded by a
// single RWMutex: reads (the hot path under the sub-50ms/1M-block target)
// never block each other, and writes only block other writes and in-flight
// reads briefly.
package fastindex

import (
	"sort"
	"sync"

	"github.com/rbatllet/private-blockchain-search/pkg/metadata"
	"github.com/rbatllet/private-blockchain-search/pkg/query"
)

// Result is a single ranked hit.
type Result struct {
	BlockID string
	Score   float64
}

type postingSet = map[string]struct{}

// FastIndex is the in-memory inverted index over PublicMetadata.
type FastIndex struct {
	mu sync.RWMutex

	keywordIndex     map[string]postingSet
	timeRangeIndex   map[string]postingSet
	contentTypeIndex map[string]postingSet
	blocks           map[string]metadata.BlockMetadataLayers

	seq     map[string]int
	nextSeq int
}

// New builds an empty FastIndex.
func New() *FastIndex {
	return &FastIndex{
		keywordIndex:     make(map[string]postingSet),
		timeRangeIndex:   make(map[string]postingSet),
		contentTypeIndex: make(map[string]postingSet),
		blocks:           make(map[string]metadata.BlockMetadataLayers),
		seq:              make(map[string]int),
	}
}

// Index inserts or overwrites blockID's entry in every posting list.
// Re-indexing the same block with the same layers is idempotent: the
// posting lists end up identical to a single call, and the block keeps its
// original insertion-order tie-break rank.
func (idx *FastIndex) Index(blockID string, layers metadata.BlockMetadataLayers) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(blockID)

	if _, ok := idx.seq[blockID]; !ok {
		idx.seq[blockID] = idx.nextSeq
		idx.nextSeq++
	}
	idx.blocks[blockID] = layers

	for _, kw := range layers.Public.GeneralKeywords {
		addPosting(idx.keywordIndex, kw, blockID)
	}
	if layers.Public.TimeRange != "" {
		addPosting(idx.timeRangeIndex, layers.Public.TimeRange, blockID)
	}
	if layers.Public.ContentType != "" {
		addPosting(idx.contentTypeIndex, layers.Public.ContentType, blockID)
	}
}

// Remove deletes blockID from every posting list and prunes any now-empty
// entries.
func (idx *FastIndex) Remove(blockID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(blockID)
	delete(idx.blocks, blockID)
	delete(idx.seq, blockID)
}

func (idx *FastIndex) removeLocked(blockID string) {
	layers, ok := idx.blocks[blockID]
	if !ok {
		return
	}
	for _, kw := range layers.Public.GeneralKeywords {
		removePosting(idx.keywordIndex, kw, blockID)
	}
	if layers.Public.TimeRange != "" {
		removePosting(idx.timeRangeIndex, layers.Public.TimeRange, blockID)
	}
	if layers.Public.ContentType != "" {
		removePosting(idx.contentTypeIndex, layers.Public.ContentType, blockID)
	}
}

func addPosting(index map[string]postingSet, key, blockID string) {
	set, ok := index[key]
	if !ok {
		set = make(postingSet)
		index[key] = set
	}
	set[blockID] = struct{}{}
}

func removePosting(index map[string]postingSet, key, blockID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, blockID)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Len returns the number of indexed blocks.
func (idx *FastIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.blocks)
}

// SearchFast scores and ranks every indexed block against queryText, per
// the public-metadata scoring rules, truncated to maxResults.
func (idx *FastIndex) SearchFast(queryText string, maxResults int) []Result {
	return idx.search(queryText, maxResults, nil)
}

// SearchByContentType restricts SearchFast to blocks indexed under
// contentType.
func (idx *FastIndex) SearchByContentType(queryText, contentType string, maxResults int) []Result {
	idx.mu.RLock()
	candidates := copySet(idx.contentTypeIndex[contentType])
	idx.mu.RUnlock()
	return idx.search(queryText, maxResults, candidates)
}

// SearchByTimeRange restricts SearchFast to blocks indexed under timeRange.
func (idx *FastIndex) SearchByTimeRange(queryText, timeRange string, maxResults int) []Result {
	idx.mu.RLock()
	candidates := copySet(idx.timeRangeIndex[timeRange])
	idx.mu.RUnlock()
	return idx.search(queryText, maxResults, candidates)
}

func copySet(s postingSet) postingSet {
	out := make(postingSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// search implements the scoring algorithm. When restrict is non-nil,
// only block ids present in it are scored.
func (idx *FastIndex) search(queryText string, maxResults int, restrict postingSet) []Result {
	tokens := query.Tokenize(queryText)
	if len(tokens) == 0 || maxResults <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]float64)
	addScore := func(blockID string, delta float64) {
		if restrict != nil {
			if _, ok := restrict[blockID]; !ok {
				return
			}
		}
		scores[blockID] += delta
	}

	for _, token := range tokens {
		if set, ok := idx.keywordIndex[token]; ok {
			for blockID := range set {
				addScore(blockID, query.ScoreExact)
			}
		}
		for indexedToken, set := range idx.keywordIndex {
			if indexedToken == token {
				continue
			}
			if !query.IsFuzzyMatch(token, indexedToken) {
				continue
			}
			fuzzy := query.FuzzyScore(token, indexedToken)
			for blockID := range set {
				addScore(blockID, fuzzy)
			}
		}
	}

	for blockID := range scores {
		layers := idx.blocks[blockID]
		scores[blockID] += 0.1 * layers.Richness()
	}

	results := make([]Result, 0, len(scores))
	for blockID, score := range scores {
		results = append(results, Result{BlockID: blockID, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return idx.seq[results[i].BlockID] < idx.seq[results[j].BlockID]
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
