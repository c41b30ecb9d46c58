// Package onchain implements on-chain content search: a direct keyword
// scan of plaintext block payloads, with opportunistic decryption of
// encrypted payloads when a password is supplied.
package onchain

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

const (
	maxSnippetsPerBlock = 5
	snippetContext      = 100
)

// Result is a single on-chain content hit.
type Result struct {
	BlockNumber uint64
	BlockHash   string
	MatchCount  int
	Snippets    []string
}

// Search is the on-chain content search engine. It holds no state: every
// call scans the blocks it is given directly, since plaintext payloads are
// not cached separately from the ledger itself.
type Search struct {
	log obslog.Logger
}

// New builds a Search.
func New(log obslog.Logger) *Search {
	if log == nil {
		log = obslog.NoopLogger{}
	}
	return &Search{log: log}
}

// Search scans blocks for queryText, decrypting under password when a block
// is encrypted and a password is supplied.
func (s *Search) Search(ctx context.Context, blocks []ledger.Block, queryText, password string, maxResults int) []Result {
	needle := strings.TrimSpace(queryText)
	if needle == "" || maxResults <= 0 {
		return nil
	}

	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(needle))
	if err != nil {
		s.log.Warn("invalid on-chain query pattern", obslog.Fields{"query": queryText, "err": err.Error()})
		return nil
	}

	var results []Result
	for _, b := range blocks {
		text, ok := s.resolvePlaintext(b, password)
		if !ok {
			continue
		}

		locs := pattern.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}

		snippets := make([]string, 0, maxSnippetsPerBlock)
		for i, loc := range locs {
			if i >= maxSnippetsPerBlock {
				break
			}
			snippets = append(snippets, snippetAround(text, loc[0], loc[1]))
		}

		results = append(results, Result{
			BlockNumber: b.BlockNumber,
			BlockHash:   b.Hash,
			MatchCount:  len(locs),
			Snippets:    snippets,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].MatchCount != results[j].MatchCount {
			return results[i].MatchCount > results[j].MatchCount
		}
		return results[i].BlockNumber < results[j].BlockNumber
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// resolvePlaintext returns block's scannable text: the payload directly if
// it's plaintext, or the decrypted payload if it's encrypted and password
// successfully decrypts it. ok is false for an encrypted block with no
// password, or any decryption failure, which is always a silent skip.
func (s *Search) resolvePlaintext(b ledger.Block, password string) (string, bool) {
	if !b.IsEncrypted {
		return b.PayloadText(), true
	}
	if password == "" {
		return "", false
	}

	meta, ok := wireformat.Parse(b.EncryptionMetadata)
	if !ok {
		return "", false
	}
	plaintext, err := cryptoutil.Decrypt(meta, password)
	if err != nil {
		return "", false
	}
	defer cryptoutil.Zero(plaintext)
	return string(plaintext), true
}

func snippetAround(text string, start, end int) string {
	from := start - snippetContext
	if from < 0 {
		from = 0
	}
	to := end + snippetContext
	if to > len(text) {
		to = len(text)
	}
	return text[from:start] + "**" + text[start:end] + "**" + text[end:to]
}
