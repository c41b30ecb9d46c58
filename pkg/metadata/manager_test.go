package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

func TestBuildPublicLayerPlaintext(t *testing.T) {
	m := NewManager(nil)
	block := ledger.Block{
		Hash:            "abc123",
		Timestamp:       time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Payload:         []byte("invoice 2024 eur payment"),
		ContentCategory: "finance",
	}

	layers := m.Build(block, "", nil, nil)
	assert.Equal(t, "abc123", layers.Public.HashFingerprint)
	assert.Equal(t, "2024-03-05", layers.Public.TimeRange)
	assert.Contains(t, layers.Public.GeneralKeywords, "invoice")
	assert.Contains(t, layers.Public.GeneralKeywords, "2024")
	assert.False(t, layers.HasPrivateLayer())
}

func TestBuildDropsReservedCategories(t *testing.T) {
	m := NewManager(nil)
	layers := m.Build(ledger.Block{Hash: "h1"}, "", []string{"general", "user_defined", "invoice"}, nil)
	assert.NotContains(t, layers.Public.GeneralKeywords, "general")
	assert.NotContains(t, layers.Public.GeneralKeywords, "user_defined")
	assert.Contains(t, layers.Public.GeneralKeywords, "invoice")
}

func TestBuildPrivateLayerRoundTrip(t *testing.T) {
	m := NewManager(nil)
	password := "correct-horse"

	wireMeta, err := cryptoutil.EncryptWithPassword([]byte("diagnosis P-77 confidential"), password, 1700000000000)
	require.NoError(t, err)

	block := ledger.Block{
		Hash:               "enc1",
		IsEncrypted:        true,
		EncryptionMetadata: wireformat.Render(wireMeta),
		ContentCategory:    "medical",
	}

	layers := m.Build(block, password, nil, []string{"diagnosis", "P-77"})
	require.True(t, layers.HasPrivateLayer())

	private, ok := m.DecryptPrivate(*layers.EncryptedPrivateLayer, password)
	require.True(t, ok)
	assert.Contains(t, private.DetailedKeywords, "diagnosis")
	assert.Contains(t, private.DetailedKeywords, "p-77")
	assert.Equal(t, "medical", private.ContentCategory)
}

func TestDecryptPrivateWrongPassword(t *testing.T) {
	m := NewManager(nil)
	wireMeta, err := cryptoutil.EncryptWithPassword([]byte("secret"), "right", 1700000000000)
	require.NoError(t, err)

	_, ok := m.DecryptPrivate(wireformat.Render(wireMeta), "wrong")
	assert.False(t, ok)
}

func TestDecryptPrivateMalformedCiphertext(t *testing.T) {
	m := NewManager(nil)
	_, ok := m.DecryptPrivate("not-a-valid-wire-string", "whatever")
	assert.False(t, ok)
}

func TestBuildNoPrivateLayerWithoutEncryption(t *testing.T) {
	m := NewManager(nil)
	layers := m.Build(ledger.Block{Hash: "h1", IsEncrypted: false}, "pw", nil, []string{"secret"})
	assert.False(t, layers.HasPrivateLayer())
}

func TestRichness(t *testing.T) {
	layers := BlockMetadataLayers{Public: PublicMetadata{GeneralKeywords: []string{"a", "b"}}}
	assert.InDelta(t, 1.2, layers.Richness(), 1e-9)

	private := "ciphertext"
	layers.EncryptedPrivateLayer = &private
	assert.InDelta(t, 3.2, layers.Richness(), 1e-9)
}
