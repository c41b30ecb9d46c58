// Package wireformat parses and renders the on-chain encryption-metadata
// wire format: a pipe-delimited ASCII string carrying the
// timestamp, KDF salt, GCM IV, ciphertext, and integrity tag for an
// encrypted block payload.
package wireformat

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the exact number of '|'-separated fields a valid
// encryption-metadata string carries.
const FieldCount = 5

// Metadata is the parsed form of the encryption_metadata field.
type Metadata struct {
	TimestampMillis int64
	SaltB64         string
	IVB64           string
	CiphertextB64   string
	IntegrityTagB64 string
}

// Parse splits raw into its five fields. Anything that does not
// parse into exactly FieldCount '|'-separated fields is an unreadable
// encrypted block: Parse returns ok=false and the block must be skipped
// silently by every decryption path, never treated as an error.
func Parse(raw string) (meta Metadata, ok bool) {
	parts := strings.Split(raw, "|")
	if len(parts) != FieldCount {
		return Metadata{}, false
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Metadata{}, false
	}

	return Metadata{
		TimestampMillis: ts,
		SaltB64:         parts[1],
		IVB64:           parts[2],
		CiphertextB64:   parts[3],
		IntegrityTagB64: parts[4],
	}, true
}

// Render renders meta back into the pipe-delimited wire form.
func Render(meta Metadata) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s",
		meta.TimestampMillis, meta.SaltB64, meta.IVB64, meta.CiphertextB64, meta.IntegrityTagB64)
}
