// Package encsearch implements the encrypted-content deep search: the
// password-gated scan of private metadata, plus bounded, parallel,
// early-terminating query-time decryption of block payloads.
package encsearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rbatllet/private-blockchain-search/internal/cache"
	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/metadata"
	"github.com/rbatllet/private-blockchain-search/pkg/query"
	"github.com/rbatllet/private-blockchain-search/pkg/searcherr"
)

// Result is a single ranked deep-search hit.
type Result struct {
	BlockID           string
	Score             float64
	HasSensitiveMatch bool
}

// Config holds the knobs relevant to this subsystem.
type Config struct {
	CacheTTL                time.Duration // content/metadata/decrypted caches
	EncryptedPageCacheTTL   time.Duration
	EncryptedPageCacheSize  int
	MaxEncryptedBlocksQuery int
	ParallelDecryptBatch    int
	DecryptionPoolSize      int
}

// DefaultConfig returns the standard defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:                5 * time.Minute,
		EncryptedPageCacheTTL:   60 * time.Second,
		EncryptedPageCacheSize:  500,
		MaxEncryptedBlocksQuery: 500,
		ParallelDecryptBatch:    50,
		DecryptionPoolSize:      runtime.NumCPU(),
	}
}

// Search is the password-gated deep-search engine.
type Search struct {
	cfg Config
	log obslog.Logger

	metadataMgr *metadata.Manager

	encryptedMetadataCache *cache.TTLCache[string]
	contentCache           *cache.TTLCache[string]
	decryptedCache         *cache.TTLCache[metadata.PrivateMetadata]
	paginationCache        *cache.PaginationCache

	// lastAccess maps a block id to the wall-clock instant it was last
	// stashed or read, driving the periodic cleanup sweep.
	lastAccess sync.Map

	sweepStop chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// New builds a Search with the given config and metadata manager (used for
// decrypting private layers). A nil logger defaults to a no-op logger. The
// returned Search runs a background cleanup sweeper; call Shutdown to stop
// it.
func New(cfg Config, mgr *metadata.Manager, log obslog.Logger) *Search {
	if log == nil {
		log = obslog.NoopLogger{}
	}
	s := &Search{
		cfg:                    cfg,
		log:                    log,
		metadataMgr:            mgr,
		encryptedMetadataCache: cache.NewTTLCache[string](100_000, cfg.CacheTTL, nil, "encmeta"),
		contentCache:           cache.NewTTLCache[string](100_000, cfg.CacheTTL, nil, "content"),
		decryptedCache:         cache.NewTTLCache[metadata.PrivateMetadata](100_000, cfg.CacheTTL, nil, "decrypted"),
		paginationCache:        cache.NewPaginationCache(cfg.EncryptedPageCacheSize, cfg.EncryptedPageCacheTTL),
		sweepStop:              make(chan struct{}),
		sweepDone:              make(chan struct{}),
	}
	go s.runSweeper()
	return s
}

// sweepInterval is how often the background sweep runs: a fraction of the
// entry TTL, floored so short test TTLs don't spin.
func (s *Search) sweepInterval() time.Duration {
	interval := s.cfg.CacheTTL / 5
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (s *Search) runSweeper() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes every block id whose last access is older than the
// cache TTL. Removing an expired encrypted id also removes the same id from
// the content cache, so the two never drift apart.
func (s *Search) sweepExpired() {
	ctx := context.Background()
	now := time.Now()
	s.lastAccess.Range(func(key, value any) bool {
		blockID := key.(string)
		if now.Sub(value.(time.Time)) <= s.cfg.CacheTTL {
			return true
		}
		s.lastAccess.Delete(blockID)
		s.encryptedMetadataCache.Delete(ctx, blockID)
		s.contentCache.Delete(ctx, blockID)
		s.decryptedCache.Purge(func(k string) bool {
			return strings.HasPrefix(k, blockID+":")
		})
		return true
	})
}

func (s *Search) touch(blockID string) {
	s.lastAccess.Store(blockID, time.Now())
}

// IndexEncrypted stashes blockID's encrypted private layer for deep search,
// and invalidates the pagination cache.
func (s *Search) IndexEncrypted(blockID, ciphertext string) {
	_ = s.encryptedMetadataCache.Set(context.Background(), blockID, ciphertext)
	s.touch(blockID)
	s.paginationCache.Invalidate()
}

// IndexPlaintext stashes blockID's plaintext payload for password-less
// content search, and invalidates the pagination cache.
func (s *Search) IndexPlaintext(blockID, payloadText string) {
	_ = s.contentCache.Set(context.Background(), blockID, payloadText)
	s.touch(blockID)
	s.paginationCache.Invalidate()
}

// Clear drops the pagination cache snapshot.
func (s *Search) Clear() {
	s.paginationCache.Invalidate()
}

// Shutdown stops the cleanup sweeper and clears every cache this subsystem
// owns. metadata.Manager.DecryptPrivate zeroes its decrypted buffer before
// returning; the parsed private metadata held in the decrypted cache and
// the plaintext strings the parallel-decrypt path receives from the ledger
// reader are dropped, not overwritten. This drops the cache references so
// nothing outlives the call.
func (s *Search) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.sweepStop)
		<-s.sweepDone
	})
	s.encryptedMetadataCache.Purge(func(string) bool { return true })
	s.contentCache.Purge(func(string) bool { return true })
	s.decryptedCache.Purge(func(string) bool { return true })
	s.paginationCache.Invalidate()
	s.lastAccess.Range(func(key, _ any) bool {
		s.lastAccess.Delete(key)
		return true
	})
}

// Remove purges every cache entry for blockID, including every
// (blockID, *) decrypted-cache entry.
func (s *Search) Remove(blockID string) {
	ctx := context.Background()
	s.lastAccess.Delete(blockID)
	s.encryptedMetadataCache.Delete(ctx, blockID)
	s.contentCache.Delete(ctx, blockID)
	s.decryptedCache.Purge(func(key string) bool {
		return strings.HasPrefix(key, blockID+":")
	})
}

// Search always scans the plaintext content cache, optionally deep-scans
// the private-metadata cache with password, and optionally fans out bounded
// parallel decryption against the ledger when more results are still
// needed. reader may be nil, in which case the parallel-decryption pass is
// skipped entirely, degrading to fewer results rather than an error.
//
// Per-block decryption and parse failures are always silent. The returned
// error is non-nil only when a ledger page fetch fails mid-scan (a
// StorageUnavailable condition); the results gathered up to that point are
// still returned with it, so callers can choose between partial results and
// a fallback strategy.
func (s *Search) Search(ctx context.Context, queryText, password string, maxResults int, reader ledger.Reader) ([]Result, error) {
	tokens := query.Tokenize(queryText)
	if len(tokens) == 0 || maxResults <= 0 {
		return nil, nil
	}

	foundIDs := make(map[string]struct{})
	results := make([]Result, 0, maxResults)

	results = s.scanContentCache(ctx, tokens, foundIDs, results)

	if password != "" && s.encryptedMetadataCache.Len() > 0 {
		results = s.scanEncryptedMetadata(ctx, tokens, password, foundIDs, results)
	}

	var fetchErr error
	if password != "" && reader != nil && len(results) < maxResults {
		extra, err := s.parallelDecrypt(ctx, tokens, password, reader, foundIDs, maxResults-len(results))
		results = append(results, extra...)
		fetchErr = err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, fetchErr
}

func (s *Search) scanContentCache(ctx context.Context, tokens []string, foundIDs map[string]struct{}, results []Result) []Result {
	for _, blockID := range s.contentCache.Keys() {
		text, ok := s.contentCache.Get(ctx, blockID)
		if !ok {
			continue
		}
		s.touch(blockID)
		matched := countSubstringMatches(tokens, strings.ToLower(text))
		if matched == 0 {
			continue
		}
		results = append(results, Result{BlockID: blockID, Score: float64(matched) / float64(len(tokens))})
		foundIDs[blockID] = struct{}{}
	}
	return results
}

func (s *Search) scanEncryptedMetadata(ctx context.Context, tokens []string, password string, foundIDs map[string]struct{}, results []Result) []Result {
	pwHash := hashPassword(password)
	for _, blockID := range s.encryptedMetadataCache.Keys() {
		if _, done := foundIDs[blockID]; done {
			continue
		}
		private, ok := s.decryptedPrivateLayer(ctx, blockID, pwHash, password)
		if !ok {
			continue
		}
		score, sensitive := scorePrivateMetadata(tokens, private)
		if score <= 0 {
			continue
		}
		// A hit on a block that carries sensitive terms is flagged even when
		// the matched token was a keyword or identifier, so callers can
		// handle the result's display accordingly.
		sensitive = sensitive || len(private.SensitiveTerms) > 0
		results = append(results, Result{BlockID: blockID, Score: score, HasSensitiveMatch: sensitive})
		foundIDs[blockID] = struct{}{}
	}
	return results
}

// decryptedPrivateLayer returns blockID's private metadata under password,
// reusing the decrypted cache when possible. A parse/decrypt failure is
// silent: the block is skipped but stays in encryptedMetadataCache for
// future attempts.
func (s *Search) decryptedPrivateLayer(ctx context.Context, blockID, pwHash, password string) (metadata.PrivateMetadata, bool) {
	cacheKey := blockID + ":" + pwHash
	if cached, ok := s.decryptedCache.Get(ctx, cacheKey); ok {
		return cached, true
	}

	ciphertext, ok := s.encryptedMetadataCache.Get(ctx, blockID)
	if !ok {
		return metadata.PrivateMetadata{}, false
	}

	private, ok := s.metadataMgr.DecryptPrivate(ciphertext, password)
	if !ok {
		s.log.Debug("private metadata decrypt failed", obslog.Fields{"block_id": blockID})
		return metadata.PrivateMetadata{}, false
	}

	_ = s.decryptedCache.Set(ctx, cacheKey, private)
	s.touch(blockID)
	return private, true
}

// Stats is a point-in-time view of the deep-search cache state.
type Stats struct {
	EncryptedMetadataEntries int
	ContentEntries           int
	DecryptedEntries         int
	Pagination               cache.Stats
}

// CacheStats returns the current cache sizes and pagination counters.
func (s *Search) CacheStats() Stats {
	return Stats{
		EncryptedMetadataEntries: s.encryptedMetadataCache.Len(),
		ContentEntries:           s.contentCache.Len(),
		DecryptedEntries:         s.decryptedCache.Len(),
		Pagination:               s.paginationCache.Stats(),
	}
}

// scorePrivateMetadata scores a block's private metadata against the query
// tokens.
func scorePrivateMetadata(tokens []string, private metadata.PrivateMetadata) (score float64, sensitive bool) {
	for _, tok := range tokens {
		for _, kw := range private.DetailedKeywords {
			if query.ContainsToken(kw, tok) {
				score += 2.0
			}
		}
		if query.ContainsToken(private.ContentSummary, tok) {
			score += 1.5
		}
		for _, id := range private.Identifiers {
			if query.ContainsToken(id, tok) {
				score += 3.0
			}
		}
		for _, term := range private.SensitiveTerms {
			if query.ContainsToken(term, tok) {
				score += 2.5
				sensitive = true
			}
		}
	}
	return score, sensitive
}

// parallelDecrypt is the bounded, parallel, early-terminating decryption
// pass over blocks not already found. It attempts at most
// MaxEncryptedBlocksQuery decryptions total regardless of ledger size, in
// pages of ParallelDecryptBatch, and stops submitting new work as soon as
// target results have been collected. A page-fetch failure ends the scan
// and is returned alongside whatever was already collected.
func (s *Search) parallelDecrypt(ctx context.Context, tokens []string, password string, reader ledger.Reader, foundIDs map[string]struct{}, target int) ([]Result, error) {
	if target <= 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var collected []Result
	isDone := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(collected) >= target
	}

	sem := make(chan struct{}, s.cfg.DecryptionPoolSize)
	var wg sync.WaitGroup

	var fetchErr error
	attempted := 0
	offset := uint64(0)
	for attempted < s.cfg.MaxEncryptedBlocksQuery && !isDone() {
		page, err := s.nextPage(ctx, reader, offset, foundIDs)
		if err != nil {
			fetchErr = err
			break
		}
		if len(page) == 0 {
			break
		}
		offset += uint64(len(page))

		for _, block := range page {
			if attempted >= s.cfg.MaxEncryptedBlocksQuery || isDone() {
				break
			}
			if _, skip := foundIDs[block.Hash]; skip {
				continue
			}
			attempted++

			wg.Add(1)
			sem <- struct{}{}
			go func(b ledger.Block) {
				defer wg.Done()
				defer func() { <-sem }()
				if isDone() {
					return
				}
				plaintext, ok, err := reader.GetDecryptedBlockData(ctx, b.BlockNumber, password)
				if err != nil || !ok {
					return
				}
				matched := countSubstringMatches(tokens, strings.ToLower(plaintext))
				if matched == 0 {
					return
				}
				score := float64(matched) / float64(len(tokens))
				mu.Lock()
				if len(collected) < target {
					collected = append(collected, Result{BlockID: b.Hash, Score: score})
				}
				mu.Unlock()
			}(block)
		}

		if len(page) < s.cfg.ParallelDecryptBatch {
			break
		}
	}
	wg.Wait()

	for _, r := range collected {
		foundIDs[r.BlockID] = struct{}{}
	}
	return collected, fetchErr
}

// nextPage returns the next page of encrypted blocks to attempt, starting
// the scan from the pagination cache (or a fresh ledger fetch on a cache
// miss) and falling back to GetEncryptedBlocksExcluding once some blocks
// have already been found, so repeated pages don't re-offer known matches.
// A failed ledger fetch is returned as a StorageUnavailable error.
func (s *Search) nextPage(ctx context.Context, reader ledger.Reader, offset uint64, foundIDs map[string]struct{}) ([]ledger.Block, error) {
	if len(foundIDs) > 0 {
		blocks, err := reader.GetEncryptedBlocksExcluding(ctx, offset, uint64(s.cfg.ParallelDecryptBatch), foundIDs)
		if err != nil {
			return nil, s.fetchFailed(err)
		}
		return blocks, nil
	}

	if offset == 0 {
		if blocks, ok := s.paginationCache.Snapshot(); ok {
			return firstPage(blocks, s.cfg.ParallelDecryptBatch), nil
		}
		blocks, err := reader.GetEncryptedBlocksPaginatedDesc(ctx, 0, uint64(s.cfg.MaxEncryptedBlocksQuery))
		if err != nil {
			return nil, s.fetchFailed(err)
		}
		s.paginationCache.Populate(blocks)
		return firstPage(blocks, s.cfg.ParallelDecryptBatch), nil
	}

	if blocks, ok := s.paginationCache.Snapshot(); ok {
		return slicePage(blocks, offset, s.cfg.ParallelDecryptBatch), nil
	}

	blocks, err := reader.GetEncryptedBlocksPaginatedDesc(ctx, offset, uint64(s.cfg.ParallelDecryptBatch))
	if err != nil {
		return nil, s.fetchFailed(err)
	}
	return blocks, nil
}

func (s *Search) fetchFailed(err error) error {
	s.log.Warn("encrypted block fetch failed", obslog.Fields{"error": err.Error()})
	return searcherr.New(searcherr.KindStorageUnavailable, "encrypted_search", true, err)
}

func firstPage(blocks []ledger.Block, size int) []ledger.Block {
	if len(blocks) > size {
		return blocks[:size]
	}
	return blocks
}

func slicePage(blocks []ledger.Block, offset uint64, size int) []ledger.Block {
	if offset >= uint64(len(blocks)) {
		return nil
	}
	end := offset + uint64(size)
	if end > uint64(len(blocks)) {
		end = uint64(len(blocks))
	}
	return blocks[offset:end]
}

func countSubstringMatches(tokens []string, lowerText string) int {
	m := 0
	for _, tok := range tokens {
		if strings.Contains(lowerText, tok) {
			m++
		}
	}
	return m
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
