package onchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

func TestSearchPlaintextBlock(t *testing.T) {
	blocks := []ledger.Block{{
		BlockNumber: 1,
		Hash:        "h1",
		Payload:     []byte("the quarterly invoice is attached for review"),
	}}

	s := New(nil)
	results := s.Search(context.Background(), blocks, "invoice", "", 10)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].MatchCount)
	require.Len(t, results[0].Snippets, 1)
	assert.Contains(t, results[0].Snippets[0], "**invoice**")
}

func TestSearchEncryptedBlockRequiresPassword(t *testing.T) {
	meta, err := cryptoutil.EncryptWithPassword([]byte("top secret invoice data"), "pw", 1000)
	require.NoError(t, err)

	block := ledger.Block{
		BlockNumber:        1,
		Hash:               "h1",
		IsEncrypted:        true,
		EncryptionMetadata: wireformat.Render(meta),
	}

	s := New(nil)
	assert.Empty(t, s.Search(context.Background(), []ledger.Block{block}, "invoice", "", 10))

	results := s.Search(context.Background(), []ledger.Block{block}, "invoice", "pw", 10)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].MatchCount)
}

func TestSearchEncryptedBlockWrongPasswordSkipped(t *testing.T) {
	meta, err := cryptoutil.EncryptWithPassword([]byte("invoice data"), "pw", 1000)
	require.NoError(t, err)

	block := ledger.Block{
		BlockNumber:        1,
		IsEncrypted:        true,
		EncryptionMetadata: wireformat.Render(meta),
	}

	s := New(nil)
	assert.Empty(t, s.Search(context.Background(), []ledger.Block{block}, "invoice", "wrong", 10))
}

func TestSnippetCapAtFive(t *testing.T) {
	payload := ""
	for i := 0; i < 10; i++ {
		payload += "invoice "
	}
	blocks := []ledger.Block{{BlockNumber: 1, Payload: []byte(payload)}}

	s := New(nil)
	results := s.Search(context.Background(), blocks, "invoice", "", 10)

	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].MatchCount)
	assert.Len(t, results[0].Snippets, 5)
}

func TestSearchSortsByMatchCountThenBlockNumber(t *testing.T) {
	blocks := []ledger.Block{
		{BlockNumber: 2, Payload: []byte("invoice")},
		{BlockNumber: 1, Payload: []byte("invoice invoice invoice")},
	}

	s := New(nil)
	results := s.Search(context.Background(), blocks, "invoice", "", 10)

	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].BlockNumber)
	assert.Equal(t, uint64(2), results[1].BlockNumber)
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	s := New(nil)
	assert.Nil(t, s.Search(context.Background(), nil, "  ", "", 10))
}
