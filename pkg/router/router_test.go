package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/pkg/encsearch"
	"github.com/rbatllet/private-blockchain-search/pkg/fastindex"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/metadata"
)

func TestClassifySimple(t *testing.T) {
	assert.Equal(t, ComplexitySimple, Classify("invoice"))
	assert.Equal(t, ComplexitySimple, Classify("invoice 2024"))
}

func TestClassifyComplexByTokenCount(t *testing.T) {
	assert.Equal(t, ComplexityComplex, Classify("one two three four five six"))
}

func TestClassifyComplexByBooleanWord(t *testing.T) {
	assert.Equal(t, ComplexityComplex, Classify("invoice and receipt"))
}

func TestClassifyComplexByISODate(t *testing.T) {
	assert.Equal(t, ComplexityComplex, Classify("events on 2024-01-15"))
}

func TestClassifyMedium(t *testing.T) {
	assert.Equal(t, ComplexityMedium, Classify("quarterly invoice summary"))
}

func TestClassifySimpleWithSpecialCharsIsMedium(t *testing.T) {
	assert.Equal(t, ComplexityMedium, Classify(`"invoice"`))
}

func TestSelectMaximumSecurityWithPassword(t *testing.T) {
	assert.Equal(t, StrategyEncryptedContent, Select(ComplexitySimple, true, SecurityMaximum))
}

func TestSelectComplexWithPasswordIsHybrid(t *testing.T) {
	assert.Equal(t, StrategyHybridCascade, Select(ComplexityComplex, true, SecurityPerformance))
}

func TestSelectMediumWithPasswordIsEncrypted(t *testing.T) {
	assert.Equal(t, StrategyEncryptedContent, Select(ComplexityMedium, true, SecurityPerformance))
}

func TestSelectBalancedWithPasswordIsParallel(t *testing.T) {
	assert.Equal(t, StrategyParallelMulti, Select(ComplexitySimple, true, SecurityBalanced))
}

func TestSelectDefaultIsFastPublic(t *testing.T) {
	assert.Equal(t, StrategyFastPublic, Select(ComplexitySimple, false, SecurityPerformance))
}

func TestRouteFastPublicNoPassword(t *testing.T) {
	idx := fastindex.New()
	idx.Index("b1", metadata.BlockMetadataLayers{Public: metadata.PublicMetadata{GeneralKeywords: []string{"invoice"}, HashFingerprint: "b1"}})

	r := New(idx, nil, nil)
	result := r.Route(context.Background(), "invoice", "", 10, StrategyDeps{SecurityLevel: SecurityPerformance})

	assert.Equal(t, StrategyFastPublic, result.Strategy)
	assert.Len(t, result.Results, 1)
}

func TestRouteEncryptedContentWithPassword(t *testing.T) {
	idx := fastindex.New()
	mgr := metadata.NewManager(nil)
	deep := encsearch.New(encsearch.DefaultConfig(), mgr, nil)
	defer deep.Shutdown()
	deep.IndexPlaintext("b1", "invoice payload")

	r := New(idx, deep, nil)
	result := r.Route(context.Background(), "quarterly invoice summary", "pw", 10, StrategyDeps{SecurityLevel: SecurityPerformance})

	assert.Equal(t, StrategyEncryptedContent, result.Strategy)
	assert.Len(t, result.Results, 1)
}

func TestRouteWithNilDeepDegradesGracefully(t *testing.T) {
	idx := fastindex.New()
	idx.Index("b1", metadata.BlockMetadataLayers{Public: metadata.PublicMetadata{GeneralKeywords: []string{"invoice"}, HashFingerprint: "b1"}})

	r := New(idx, nil, nil)
	result := r.Route(context.Background(), "quarterly invoice summary", "pw", 10, StrategyDeps{SecurityLevel: SecurityPerformance})

	assert.Equal(t, StrategyEncryptedContent, result.Strategy)
	assert.Empty(t, result.Results)
}

// downReader fails every ledger fetch, so any strategy that reaches the
// ledger boundary errors out.
type downReader struct{}

func (downReader) GetBlockCount(ctx context.Context) (uint64, error) {
	return 0, errors.New("ledger down")
}

func (downReader) GetBlocksPaginated(ctx context.Context, offset, limit uint64) ([]ledger.Block, error) {
	return nil, errors.New("ledger down")
}

func (downReader) GetEncryptedBlocksPaginatedDesc(ctx context.Context, offset, limit uint64) ([]ledger.Block, error) {
	return nil, errors.New("ledger down")
}

func (downReader) GetEncryptedBlocksExcluding(ctx context.Context, offset, limit uint64, exclude map[string]struct{}) ([]ledger.Block, error) {
	return nil, errors.New("ledger down")
}

func (downReader) GetDecryptedBlockData(ctx context.Context, blockNumber uint64, password string) (string, bool, error) {
	return "", false, errors.New("ledger down")
}

func TestRouteFallsBackToFastPublicOnStrategyError(t *testing.T) {
	idx := fastindex.New()
	idx.Index("b1", metadata.BlockMetadataLayers{Public: metadata.PublicMetadata{GeneralKeywords: []string{"invoice"}, HashFingerprint: "b1"}})

	mgr := metadata.NewManager(nil)
	deep := encsearch.New(encsearch.DefaultConfig(), mgr, nil)
	defer deep.Shutdown()
	// The deep scan holds a plaintext entry so the strategy starts producing
	// results before the ledger boundary fails.
	deep.IndexPlaintext("b2", "invoice payload")

	r := New(idx, deep, nil)
	result := r.Route(context.Background(), "quarterly invoice summary", "pw", 10, StrategyDeps{
		SecurityLevel: SecurityPerformance,
		Reader:        downReader{},
	})

	assert.Equal(t, StrategyFastPublic, result.Strategy)
	assert.NotEmpty(t, result.FallbackError)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "b1", result.Results[0].BlockID)
}

func TestMergePreferFirstDropsLaterDuplicate(t *testing.T) {
	a := []Result{{BlockID: "x", Score: 1.0}}
	b := []Result{{BlockID: "x", Score: 9.0}, {BlockID: "y", Score: 2.0}}
	merged := mergePreferFirst(a, b, 10)

	assert.Len(t, merged, 2)
	for _, r := range merged {
		if r.BlockID == "x" {
			assert.Equal(t, 1.0, r.Score)
		}
	}
}

func TestMergePreferHigherScoreKeepsMax(t *testing.T) {
	a := []Result{{BlockID: "x", Score: 1.0}}
	b := []Result{{BlockID: "x", Score: 9.0}, {BlockID: "y", Score: 2.0}}
	merged := mergePreferHigherScore(a, b, 10)

	assert.Len(t, merged, 2)
	for _, r := range merged {
		if r.BlockID == "x" {
			assert.Equal(t, 9.0, r.Score)
		}
	}
}
