// Package metadata builds and decrypts the layered block metadata:
// a public layer that is always searchable and an optional encrypted
// private layer that requires the block's password.
package metadata

import "github.com/rbatllet/private-blockchain-search/pkg/ledger"

// PublicMetadata is the always-searchable metadata tier.
type PublicMetadata struct {
	GeneralKeywords []string
	BlockCategory   string
	ContentType     string
	SizeRange       ledger.SizeRange
	TimeRange       string // ISO date, e.g. "2024-03-05"
	HashFingerprint string
}

// PrivateMetadata is the password-gated metadata tier.
type PrivateMetadata struct {
	DetailedKeywords []string
	SensitiveTerms   []string
	Identifiers      []string
	ContentSummary   string
	ContentCategory  string
}

// BlockMetadataLayers pairs a block's public layer with its optional
// encrypted private layer. At least one of the two must be non-empty
// for a block to be worth indexing; Manager.Build enforces that by
// falling back to minimal layers.
type BlockMetadataLayers struct {
	Public                PublicMetadata
	EncryptedPrivateLayer *string
}

// HasPrivateLayer reports whether an encrypted private layer is present.
func (l BlockMetadataLayers) HasPrivateLayer() bool {
	return l.EncryptedPrivateLayer != nil && *l.EncryptedPrivateLayer != ""
}

// IsEmpty reports whether both layers are empty, meaning the block carries
// nothing worth indexing.
func (l BlockMetadataLayers) IsEmpty() bool {
	return len(l.Public.GeneralKeywords) == 0 &&
		l.Public.HashFingerprint == "" &&
		!l.HasPrivateLayer()
}

// Richness is the metadata-richness score used as a tie-breaking
// bonus: 1.0 plus 0.1 per public keyword, plus 2.0 if a private layer is
// present.
func (l BlockMetadataLayers) Richness() float64 {
	r := 1.0 + 0.1*float64(len(l.Public.GeneralKeywords))
	if l.HasPrivateLayer() {
		r += 2.0
	}
	return r
}
