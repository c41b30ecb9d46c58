// Package cryptoutil implements the authenticated encryption and key
// derivation used across the search core: PBKDF2-HMAC-SHA-512 key
// derivation and AES-256-GCM authenticated encryption over the
// pipe-delimited on-chain wire format.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

const (
	// KDFIterations is the PBKDF2 iteration count.
	KDFIterations = 210_000
	// KeySize is the derived-key size in bytes (256 bits).
	KeySize = 32
	// SaltSize is the size, in bytes, of generated KDF salts.
	SaltSize = 16
)

// DeriveKey derives a 256-bit key from password and salt using
// PBKDF2-HMAC-SHA-512 with KDFIterations rounds.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KDFIterations, KeySize, sha512.New)
}

// EncryptWithPassword encrypts plaintext under a key derived from password
// and returns the wire-format metadata. The GCM authentication tag is
// embedded in the ciphertext (as Go's cipher.AEAD.Seal does by default), so
// IntegrityTagB64 is left empty; Decrypt accepts both forms.
func EncryptWithPassword(plaintext []byte, password string, timestampMillis int64) (wireformat.Metadata, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return wireformat.Metadata{}, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(DeriveKey(password, salt))
	if err != nil {
		return wireformat.Metadata{}, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return wireformat.Metadata{}, fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	return wireformat.Metadata{
		TimestampMillis: timestampMillis,
		SaltB64:         base64.StdEncoding.EncodeToString(salt),
		IVB64:           base64.StdEncoding.EncodeToString(iv),
		CiphertextB64:   base64.StdEncoding.EncodeToString(ciphertext),
		IntegrityTagB64: "",
	}, nil
}

// Decrypt decrypts the payload described by meta using a key derived from
// password. Any failure (wrong password, malformed base64, malformed
// ciphertext, auth-tag mismatch) is reported as a plain error; callers in
// the search strategies must treat every such error as a silent
// decryption failure and skip the block, never propagate it.
func Decrypt(meta wireformat.Metadata, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(meta.SaltB64)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(meta.IVB64)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(meta.CiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if meta.IntegrityTagB64 != "" {
		tag, err := base64.StdEncoding.DecodeString(meta.IntegrityTagB64)
		if err != nil {
			return nil, fmt.Errorf("decode integrity tag: %w", err)
		}
		ciphertext = append(ciphertext, tag...)
	}

	gcm, err := newGCM(DeriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid iv size %d", len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Zero overwrites buf with zeros. Every decrypted-plaintext buffer flowing
// through the search core must be zeroed before release; decrypted
// plaintexts are the only sensitive memory the core holds.
func Zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
