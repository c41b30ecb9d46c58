package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/query"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

// markerRaw or markerCompressed is prefixed to the plaintext blob before
// encryption so DecryptPrivate knows whether to gunzip the remainder.
const (
	markerRaw        byte = 0
	markerCompressed byte = 1
)

// Manager builds and decrypts BlockMetadataLayers. It never returns an
// error from Build: any internal failure degrades to a minimal layers
// value so the block stays retrievable by hash.
type Manager struct {
	logger obslog.Logger
}

// NewManager builds a Manager. A nil logger defaults to a no-op logger.
func NewManager(logger obslog.Logger) *Manager {
	if logger == nil {
		logger = obslog.NoopLogger{}
	}
	return &Manager{logger: logger}
}

// Build derives BlockMetadataLayers for block. password and the user-term
// slices are optional.
func (m *Manager) Build(block ledger.Block, password string, userPublicTerms, userPrivateTerms []string) (layers BlockMetadataLayers) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("metadata build panicked, falling back to minimal layers", obslog.Fields{
				"hash": block.Hash, "panic": fmt.Sprintf("%v", r),
			})
			layers = m.minimalLayers(block)
		}
	}()

	layers.Public = m.buildPublicLayer(block, userPublicTerms)

	if private := m.buildPrivateLayer(block, password, userPrivateTerms); private != nil {
		layers.EncryptedPrivateLayer = private
	}

	if layers.IsEmpty() {
		return m.minimalLayers(block)
	}
	return layers
}

func (m *Manager) minimalLayers(block ledger.Block) BlockMetadataLayers {
	return BlockMetadataLayers{
		Public: PublicMetadata{
			GeneralKeywords: []string{"block", "indexed"},
			HashFingerprint: block.Hash,
			TimeRange:       isoDate(block.Timestamp),
		},
	}
}

func (m *Manager) buildPublicLayer(block ledger.Block, userPublicTerms []string) PublicMetadata {
	var tokens []string
	if len(userPublicTerms) > 0 {
		tokens = query.NormalizeKeywords(userPublicTerms)
	} else {
		tokens = m.heuristicPublicTokens(block)
	}
	tokens = dropDroppedCategories(tokens)

	contentType := "application/octet-stream"
	if block.OffChainRef != nil && block.OffChainRef.ContentType != "" {
		contentType = block.OffChainRef.ContentType
	} else if !block.IsEncrypted {
		contentType = "text/plain"
	}

	return PublicMetadata{
		GeneralKeywords: tokens,
		BlockCategory:   block.ContentCategory,
		ContentType:     contentType,
		SizeRange:       ledger.ClassifySize(len(block.Payload)),
		TimeRange:       isoDate(block.Timestamp),
		HashFingerprint: block.Hash,
	}
}

// heuristicPublicTokens derives public keywords from the plaintext payload
// (only when the block is not encrypted), the content category, the size
// bucket, and the ISO date.
func (m *Manager) heuristicPublicTokens(block ledger.Block) []string {
	var tokens []string
	if !block.IsEncrypted {
		tokens = append(tokens, query.Tokenize(block.PayloadText())...)
	}
	if block.ContentCategory != "" {
		tokens = append(tokens, query.NormalizeKeyword(block.ContentCategory))
	}
	tokens = append(tokens, string(ledger.ClassifySize(len(block.Payload))))
	tokens = append(tokens, isoDate(block.Timestamp))
	return query.NormalizeKeywords(tokens)
}

// dropDroppedCategories removes the "user_defined" and "general" tokens
// from a public-keyword set.
func dropDroppedCategories(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if t == "user_defined" || t == "general" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// buildPrivateLayer derives and encrypts the private metadata layer when
// the block is encrypted, a password is supplied, and either user-supplied
// private terms exist or the decrypted payload is scannable. It
// returns nil when no private layer applies (including a block whose wire
// metadata cannot be read or decrypted and that has no user-supplied
// private terms) or when encrypting the layer fails.
func (m *Manager) buildPrivateLayer(block ledger.Block, password string, userPrivateTerms []string) *string {
	if !block.IsEncrypted || password == "" {
		return nil
	}

	var decryptedText string
	scannable := false
	if meta, ok := wireformat.Parse(block.EncryptionMetadata); ok {
		if plaintext, err := cryptoutil.Decrypt(meta, password); err == nil {
			decryptedText = string(plaintext)
			scannable = true
			cryptoutil.Zero(plaintext)
		}
	}

	if len(userPrivateTerms) == 0 && !scannable {
		return nil
	}

	private := PrivateMetadata{
		ContentCategory: block.ContentCategory,
	}
	if len(userPrivateTerms) > 0 {
		private.DetailedKeywords = query.NormalizeKeywords(userPrivateTerms)
	} else {
		private.DetailedKeywords = query.Tokenize(decryptedText)
	}
	if scannable {
		private.ContentSummary = summarize(decryptedText, 200)
	}

	ciphertext, err := m.encryptPrivate(private, password, block.Timestamp)
	if err != nil {
		m.logger.Warn("failed to encrypt private metadata layer", obslog.Fields{
			"hash": block.Hash, "err": err.Error(),
		})
		return nil
	}
	return &ciphertext
}

type privateWire struct {
	DetailedKeywords []string `json:"detailedKeywords,omitempty"`
	SensitiveTerms   []string `json:"sensitiveTerms,omitempty"`
	Identifiers      []string `json:"identifiers,omitempty"`
	ContentSummary   string   `json:"contentSummary,omitempty"`
	DetailedCategory string   `json:"detailedCategory,omitempty"`
}

func (m *Manager) encryptPrivate(private PrivateMetadata, password string, ts time.Time) (string, error) {
	wire := privateWire{
		DetailedKeywords: private.DetailedKeywords,
		SensitiveTerms:   private.SensitiveTerms,
		Identifiers:      private.Identifiers,
		ContentSummary:   private.ContentSummary,
		DetailedCategory: private.ContentCategory,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal private metadata: %w", err)
	}

	payload := raw
	marker := markerRaw
	if compressed, ok := gzipIfSmaller(raw); ok {
		payload = compressed
		marker = markerCompressed
	}

	blob := make([]byte, 0, len(payload)+1)
	blob = append(blob, marker)
	blob = append(blob, payload...)

	wireMeta, err := cryptoutil.EncryptWithPassword(blob, password, ts.UnixMilli())
	if err != nil {
		return "", err
	}
	return wireformat.Render(wireMeta), nil
}

// gzipIfSmaller gzips raw and returns it only if the compressed form is at
// least 10% smaller than raw.
func gzipIfSmaller(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if float64(buf.Len()) <= float64(len(raw))*0.90 {
		return buf.Bytes(), true
	}
	return nil, false
}

// DecryptPrivate decrypts and parses an encrypted private layer. It returns
// ok=false on any failure (wrong password, malformed data) and never
// panics or returns an error to the caller.
func (m *Manager) DecryptPrivate(ciphertext, password string) (private PrivateMetadata, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	wireMeta, parsed := wireformat.Parse(ciphertext)
	if !parsed {
		return PrivateMetadata{}, false
	}

	blob, err := cryptoutil.Decrypt(wireMeta, password)
	if err != nil {
		return PrivateMetadata{}, false
	}
	defer cryptoutil.Zero(blob)

	if len(blob) == 0 {
		return PrivateMetadata{}, false
	}
	marker, payload := blob[0], blob[1:]

	raw := payload
	if marker == markerCompressed {
		raw, err = gunzip(payload)
		if err != nil {
			return PrivateMetadata{}, false
		}
	}

	parsedJSON, err := parsePrivateJSON(raw)
	if err != nil {
		return PrivateMetadata{}, false
	}
	return parsedJSON, true
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rawPrivateJSON mirrors the private-metadata wire shape with
// json.RawMessage array
// fields so string-array elements that are not strings can be ignored
// element-wise instead of failing the whole unmarshal.
type rawPrivateJSON struct {
	SpecificKeywords json.RawMessage `json:"specificKeywords"`
	DetailedKeywords json.RawMessage `json:"detailedKeywords"`
	SensitiveTerms   json.RawMessage `json:"sensitiveTerms"`
	Identifiers      json.RawMessage `json:"identifiers"`
	ContentSummary   string          `json:"contentSummary"`
	DetailedCategory string          `json:"detailedCategory"`
}

func parsePrivateJSON(raw []byte) (PrivateMetadata, error) {
	var rj rawPrivateJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return PrivateMetadata{}, err
	}

	detailed := decodeStringArray(rj.DetailedKeywords)
	if len(detailed) == 0 {
		detailed = decodeStringArray(rj.SpecificKeywords)
	}

	return PrivateMetadata{
		DetailedKeywords: detailed,
		SensitiveTerms:   decodeStringArray(rj.SensitiveTerms),
		Identifiers:      decodeStringArray(rj.Identifiers),
		ContentSummary:   rj.ContentSummary,
		ContentCategory:  rj.DetailedCategory,
	}, nil
}

// decodeStringArray decodes a JSON array, keeping only elements that are
// strings and ignoring the rest.
func decodeStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func summarize(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}
