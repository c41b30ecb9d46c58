// Package offchain implements off-chain file search: decrypting and
// scanning the files blocks reference outside the ledger itself, dispatched
// by content type, with a short-lived result cache keyed by the query,
// password, and exact set of blocks searched.
package offchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rbatllet/private-blockchain-search/internal/cache"
	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
)

const (
	maxJSONDepth    = 50
	binaryWindow    = 50
	lineContextSize = 1
)

// Match is a single off-chain file hit.
type Match struct {
	BlockNumber uint64
	BlockHash   string
	FilePath    string
	ContentType string
	MatchCount  int
	Snippets    []string
	FileSize    int64
}

// Config holds the cache knob for this subsystem.
type Config struct {
	CacheTTL time.Duration
}

// DefaultConfig returns the default off-chain cache TTL.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Minute}
}

// Search is the off-chain file search engine.
type Search struct {
	cfg   Config
	log   obslog.Logger
	cache *cache.TTLCache[[]Match]
}

// New builds a Search.
func New(cfg Config, log obslog.Logger) *Search {
	if log == nil {
		log = obslog.NoopLogger{}
	}
	return &Search{
		cfg:   cfg,
		log:   log,
		cache: cache.NewTTLCache[[]Match](10_000, cfg.CacheTTL, nil, "offchain"),
	}
}

// Search scans every off-chain file referenced by blocks for queryText,
// decrypting via storage under password. It returns
// the ranked matches and the number of files actually opened (filesSearched
// is 0 on a cache hit).
func (s *Search) Search(ctx context.Context, blocks []ledger.Block, queryText, password string, maxResults int, storage ledger.OffChainStorage) (matches []Match, filesSearched int) {
	needle := strings.ToLower(strings.TrimSpace(queryText))
	if needle == "" || storage == nil {
		return nil, 0
	}

	key := cacheKey(queryText, password, blocks)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return truncate(cached, maxResults), 0
	}

	var results []Match
	for _, b := range blocks {
		if b.OffChainRef == nil {
			continue
		}
		ref := *b.OffChainRef

		exists, err := storage.FileExists(ctx, ref)
		if err != nil || !exists {
			continue
		}

		data, ok, err := storage.RetrieveData(ctx, ref, password)
		if err != nil || !ok {
			continue
		}
		filesSearched++

		m := s.scanFile(b, ref, data, needle)
		if m.MatchCount > 0 {
			results = append(results, m)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].MatchCount != results[j].MatchCount {
			return results[i].MatchCount > results[j].MatchCount
		}
		return results[i].BlockNumber < results[j].BlockNumber
	})

	_ = s.cache.Set(ctx, key, results)
	return truncate(results, maxResults), filesSearched
}

func (s *Search) scanFile(block ledger.Block, ref ledger.OffChainRef, data []byte, needle string) Match {
	m := Match{
		BlockNumber: block.BlockNumber,
		BlockHash:   block.Hash,
		FilePath:    ref.FilePath,
		ContentType: ref.ContentType,
		FileSize:    ref.FileSize,
	}

	if isTextContentType(ref.ContentType) {
		count, snippets := scanText(data, needle)
		m.MatchCount += count
		m.Snippets = append(m.Snippets, snippets...)
	}

	if isJSONContentType(ref.ContentType) {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			count, snippets := scanJSON(parsed, needle)
			m.MatchCount += count
			m.Snippets = append(m.Snippets, snippets...)
		} else {
			s.log.Debug("off-chain json parse failed", obslog.Fields{"path": ref.FilePath, "err": err.Error()})
		}
	}

	if !isTextContentType(ref.ContentType) && !isJSONContentType(ref.ContentType) {
		count, snippets := scanBinary(data, needle)
		m.MatchCount += count
		m.Snippets = append(m.Snippets, snippets...)
	}

	return m
}

func isTextContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/") ||
		ct == "application/json" ||
		ct == "application/xml" ||
		ct == "application/yaml"
}

func isJSONContentType(ct string) bool {
	return strings.EqualFold(ct, "application/json")
}

// scanText implements the line-based text pass.
func scanText(data []byte, needle string) (int, []string) {
	lines := strings.Split(string(data), "\n")
	count := 0
	var snippets []string
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		count++
		var b strings.Builder
		if i-lineContextSize >= 0 {
			b.WriteString(lines[i-lineContextSize])
			b.WriteString("\n")
		}
		b.WriteString(boldMatch(line, needle))
		if i+lineContextSize < len(lines) {
			b.WriteString("\n")
			b.WriteString(lines[i+lineContextSize])
		}
		snippets = append(snippets, b.String())
	}
	return count, snippets
}

// boldMatch wraps the first case-insensitive occurrence of needle in line
// with ** markers, preserving line's original casing.
func boldMatch(line, needle string) string {
	lower := strings.ToLower(line)
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return line
	}
	end := idx + len(needle)
	return line[:idx] + "**" + line[idx:end] + "**" + line[end:]
}

// scanJSON recursively walks a parsed JSON value up to maxJSONDepth,
// emitting key and value matches.
func scanJSON(value any, needle string) (int, []string) {
	count := 0
	var snippets []string
	walkJSON(value, "$", 0, needle, &count, &snippets)
	return count, snippets
}

func walkJSON(value any, path string, depth int, needle string, count *int, snippets *[]string) {
	if depth > maxJSONDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			childPath := path + "." + k
			if strings.Contains(strings.ToLower(k), needle) {
				*count++
				*snippets = append(*snippets, fmt.Sprintf("JSON key match: %s = %s", childPath, stringify(child)))
			}
			walkJSON(child, childPath, depth+1, needle, count, snippets)
		}
	case []any:
		for i, child := range v {
			childPath := path + "[" + strconv.Itoa(i) + "]"
			walkJSON(child, childPath, depth+1, needle, count, snippets)
		}
	default:
		rendered := stringify(v)
		if strings.Contains(strings.ToLower(rendered), needle) {
			*count++
			*snippets = append(*snippets, fmt.Sprintf("JSON value match: %s = **%s**", path, rendered))
		}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// scanBinary implements the binary/other fallback: a lowercased UTF-8
// substring search with a ±binaryWindow context snippet, control characters
// stripped.
func scanBinary(data []byte, needle string) (int, []string) {
	text := string(data)
	lower := strings.ToLower(text)
	count := 0
	var snippets []string

	start := 0
	for {
		idx := strings.Index(lower[start:], needle)
		if idx < 0 {
			break
		}
		abs := start + idx
		count++

		from := abs - binaryWindow
		if from < 0 {
			from = 0
		}
		to := abs + len(needle) + binaryWindow
		if to > len(text) {
			to = len(text)
		}
		snippets = append(snippets, stripControl(text[from:to]))

		start = abs + len(needle)
		if start >= len(lower) {
			break
		}
	}
	return count, snippets
}

func stripControl(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cacheKey(queryText, password string, blocks []ledger.Block) string {
	h := sha256.New()
	h.Write([]byte(queryText))
	h.Write([]byte{0})
	pwSum := sha256.Sum256([]byte(password))
	h.Write(pwSum[:])
	for _, b := range blocks {
		h.Write([]byte(b.Hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(matches []Match, maxResults int) []Match {
	if maxResults <= 0 || len(matches) <= maxResults {
		return matches
	}
	return matches[:maxResults]
}
