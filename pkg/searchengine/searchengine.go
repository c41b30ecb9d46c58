// Package searchengine implements the search engine façade: a thin
// composition layer wiring MetadataLayerManager, FastIndex,
// EncryptedContentSearch, OnChainContentSearch, OffChainFileSearch,
// StrategyRouter, and PasswordRegistry into the handful of operations
// callers actually need.
package searchengine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/encsearch"
	"github.com/rbatllet/private-blockchain-search/pkg/fastindex"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/metadata"
	"github.com/rbatllet/private-blockchain-search/pkg/offchain"
	"github.com/rbatllet/private-blockchain-search/pkg/onchain"
	"github.com/rbatllet/private-blockchain-search/pkg/password"
	"github.com/rbatllet/private-blockchain-search/pkg/router"
	"github.com/rbatllet/private-blockchain-search/pkg/searchconfig"
	"github.com/rbatllet/private-blockchain-search/pkg/searcherr"
)

// exhaustiveScanCap bounds how many ledger blocks SearchExhaustiveOffchain
// pulls for its on-chain and off-chain passes, mirroring the deep-search
// max-blocks-per-query bound so this expensive mode stays predictable
// regardless of ledger size.
const exhaustiveScanCap = 500

// Hit is a single ranked search result.
type Hit struct {
	BlockID string
	Score   float64
}

// Result is what every search operation returns: a populated or empty hit
// list, plus which strategy actually ran and an optional fallback error;
// partial results are acceptable and expected.
type Result struct {
	Strategy      router.Strategy
	Hits          []Hit
	FallbackError string
}

// Stats is a point-in-time view of engine-level counters and cache state.
type Stats struct {
	IndexedBlocks int
	FailedIndexes int
	FastIndexSize int
	DeepSearch    encsearch.Stats
}

// Engine is the SearchEngine façade.
type Engine struct {
	cfg *searchconfig.Config
	log obslog.Logger

	reader  ledger.Reader
	storage ledger.OffChainStorage

	metadataMgr *metadata.Manager
	fast        *fastindex.FastIndex
	deep        *encsearch.Search
	onchainSrc  *onchain.Search
	offchainSrc *offchain.Search
	routerSrc   *router.Router
	passwords   *password.Registry

	closed atomic.Bool

	mu            sync.Mutex
	indexedBlocks int
	failedIndexes int
}

// New builds an Engine. reader and storage may be nil; operations that need
// them degrade to fewer results, not an error, when they are.
func New(cfg *searchconfig.Config, reader ledger.Reader, storage ledger.OffChainStorage, log obslog.Logger) *Engine {
	if log == nil {
		log = obslog.NoopLogger{}
	}
	metadataMgr := metadata.NewManager(log)
	fast := fastindex.New()
	deep := encsearch.New(cfg.EncSearchConfig(), metadataMgr, log)

	return &Engine{
		cfg:         cfg,
		log:         log,
		reader:      reader,
		storage:     storage,
		metadataMgr: metadataMgr,
		fast:        fast,
		deep:        deep,
		onchainSrc:  onchain.New(log),
		offchainSrc: offchain.New(cfg.OffChainConfig(), log),
		routerSrc:   router.New(fast, deep, log),
		passwords:   password.New(),
	}
}

// IndexBlock derives and indexes metadata for block: user-defined keywords
// route to the private layer for an encrypted block, or the public layer
// for a plaintext one; otherwise indexing falls back to heuristic
// derivation. Indexing never fails outwardly; a panic during indexing
// degrades to minimal metadata and increments the failed-index counter.
// Failures that metadata.Manager.Build handles itself (it falls back to
// minimal layers internally) are not counted.
func (e *Engine) IndexBlock(block ledger.Block, pass string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("index_block panicked, degrading to minimal metadata", obslog.Fields{
				"hash": block.Hash, "panic": r,
			})
			e.recordFailure()
			e.fast.Index(block.Hash, metadata.BlockMetadataLayers{
				Public: metadata.PublicMetadata{GeneralKeywords: []string{"block", "indexed"}, HashFingerprint: block.Hash},
			})
		}
	}()

	var publicTerms, privateTerms []string
	if len(block.ManualKeywords) > 0 {
		if block.IsEncrypted {
			privateTerms = block.ManualKeywords
		} else {
			publicTerms = block.ManualKeywords
		}
	}

	layers := e.metadataMgr.Build(block, pass, publicTerms, privateTerms)
	e.fast.Index(block.Hash, layers)

	if layers.EncryptedPrivateLayer != nil {
		e.deep.IndexEncrypted(block.Hash, *layers.EncryptedPrivateLayer)
	}
	if !block.IsEncrypted {
		e.deep.IndexPlaintext(block.Hash, block.PayloadText())
	}
	if pass != "" {
		e.passwords.Register(block.Hash, pass)
	}

	e.mu.Lock()
	e.indexedBlocks++
	e.mu.Unlock()
}

// IndexBlockchain paginates through reader and indexes every block, using
// IndexingPoolSize concurrent workers.
func (e *Engine) IndexBlockchain(ctx context.Context, reader ledger.Reader, pass string) error {
	if reader == nil {
		return searcherr.New(searcherr.KindStorageUnavailable, "index_blockchain", true, errors.New("nil ledger reader"))
	}

	total, err := reader.GetBlockCount(ctx)
	if err != nil {
		return searcherr.New(searcherr.KindStorageUnavailable, "index_blockchain", true, err)
	}

	const pageSize = 100
	sem := make(chan struct{}, maxInt(e.cfg.IndexingPoolSize, 1))
	var wg sync.WaitGroup

	for offset := uint64(0); offset < total; offset += pageSize {
		blocks, err := reader.GetBlocksPaginated(ctx, offset, pageSize)
		if err != nil {
			return searcherr.New(searcherr.KindStorageUnavailable, "index_blockchain", true, err)
		}
		for _, b := range blocks {
			wg.Add(1)
			sem <- struct{}{}
			go func(block ledger.Block) {
				defer wg.Done()
				defer func() { <-sem }()
				e.IndexBlock(block, pass)
			}(b)
		}
	}
	wg.Wait()
	return nil
}

// RemoveBlock purges blockID from every index and cache.
func (e *Engine) RemoveBlock(blockID string) {
	e.fast.Remove(blockID)
	e.deep.Remove(blockID)
	e.passwords.Forget(blockID)
}

// Search routes queryText through the strategy router. Every call is
// tagged with a fresh correlation id attached to its log fields, so a
// single query's route selection and any fallback can be traced through
// the log stream.
func (e *Engine) Search(ctx context.Context, queryText, pass string, maxResults int) (Result, error) {
	if err := e.checkReady(); err != nil {
		return Result{}, err
	}
	if err := validateQuery(queryText, maxResults); err != nil {
		return Result{}, err
	}

	requestID := uuid.New().String()
	e.log.Debug("search routed", obslog.Fields{"request_id": requestID, "max_results": maxResults})

	route := e.routerSrc.Route(ctx, queryText, pass, maxResults, router.StrategyDeps{
		SecurityLevel: e.cfg.SecurityLevelValue(),
		Reader:        e.reader,
	})
	if route.FallbackError != "" {
		e.log.Warn("search fell back", obslog.Fields{"request_id": requestID, "strategy": string(route.Strategy), "reason": route.FallbackError})
	}
	return Result{Strategy: route.Strategy, Hits: toHits(route.Results), FallbackError: route.FallbackError}, nil
}

// SearchPublicOnly runs FAST_PUBLIC directly, bypassing the router.
func (e *Engine) SearchPublicOnly(queryText string, maxResults int) (Result, error) {
	if err := e.checkReady(); err != nil {
		return Result{}, err
	}
	if err := validateQuery(queryText, maxResults); err != nil {
		return Result{}, err
	}
	hits := e.fast.SearchFast(queryText, maxResults)
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, Hit{BlockID: h.BlockID, Score: h.Score})
	}
	return Result{Strategy: router.StrategyFastPublic, Hits: out}, nil
}

// SearchEncryptedOnly runs ENCRYPTED_CONTENT directly. An absent password
// is InvalidQuery.
func (e *Engine) SearchEncryptedOnly(ctx context.Context, queryText, pass string, maxResults int) (Result, error) {
	if err := e.checkReady(); err != nil {
		return Result{}, err
	}
	if err := validateQuery(queryText, maxResults); err != nil {
		return Result{}, err
	}
	if pass == "" {
		return Result{}, searcherr.New(searcherr.KindInvalidQuery, "search_encrypted_only", false, errors.New("password required"))
	}
	hits, deepErr := e.deep.Search(ctx, queryText, pass, maxResults, e.reader)
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, Hit{BlockID: h.BlockID, Score: h.Score})
	}
	res := Result{Strategy: router.StrategyEncryptedContent, Hits: out}
	if deepErr != nil {
		res.FallbackError = deepErr.Error()
	}
	return res, nil
}

// SearchExhaustiveOffchain runs ENCRYPTED_CONTENT, then OnChainContentSearch,
// then OffChainFileSearch over blocks with off-chain refs, merging by id
// (first-seen wins) with the configured merge score bonuses (default +15.0
// on-chain, +20.0 off-chain), sorted and truncated.
func (e *Engine) SearchExhaustiveOffchain(ctx context.Context, queryText, pass string, maxResults int) (Result, error) {
	if err := e.checkReady(); err != nil {
		return Result{}, err
	}
	if err := validateQuery(queryText, maxResults); err != nil {
		return Result{}, err
	}
	if pass == "" {
		return Result{}, searcherr.New(searcherr.KindInvalidQuery, "search_exhaustive_offchain", false, errors.New("password required"))
	}

	byID := make(map[string]Hit)
	order := make([]string, 0)
	upsert := func(id string, score float64) {
		if _, ok := byID[id]; ok {
			return
		}
		byID[id] = Hit{BlockID: id, Score: score}
		order = append(order, id)
	}

	deepHits, deepErr := e.deep.Search(ctx, queryText, pass, maxResults, e.reader)
	for _, h := range deepHits {
		upsert(h.BlockID, h.Score)
	}

	blocks := e.fetchBoundedBlocks(ctx)

	for _, h := range e.onchainSrc.Search(ctx, blocks, queryText, pass, maxResults) {
		upsert(h.BlockHash, float64(h.MatchCount)+e.cfg.OnChainScoreBonus)
	}

	var offChainBlocks []ledger.Block
	for _, b := range blocks {
		if b.OffChainRef != nil {
			offChainBlocks = append(offChainBlocks, b)
		}
	}
	matches, _ := e.offchainSrc.Search(ctx, offChainBlocks, queryText, pass, maxResults, e.storage)
	for _, m := range matches {
		upsert(m.BlockHash, float64(m.MatchCount)+e.cfg.OffChainScoreBonus)
	}

	hits := make([]Hit, 0, len(order))
	for _, id := range order {
		hits = append(hits, byID[id])
	}
	sortHitsDesc(hits)
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	res := Result{Strategy: router.StrategyHybridCascade, Hits: hits}
	if deepErr != nil {
		res.FallbackError = deepErr.Error()
	}
	return res, nil
}

func (e *Engine) fetchBoundedBlocks(ctx context.Context) []ledger.Block {
	if e.reader == nil {
		return nil
	}
	blocks, err := e.reader.GetBlocksPaginated(ctx, 0, exhaustiveScanCap)
	if err != nil {
		e.log.Warn("exhaustive off-chain scan: ledger fetch failed", obslog.Fields{"err": err.Error()})
		return nil
	}
	return blocks
}

// Shutdown clears the deep-search caches and the password registry. The
// off-chain result cache is not cleared; its entries expire by TTL. It
// does not attempt to cancel in-flight
// searches; callers that need that should cancel their own context before
// calling Shutdown. After Shutdown every search operation returns NotReady.
func (e *Engine) Shutdown() {
	e.closed.Store(true)
	e.deep.Shutdown()
	e.passwords.Shutdown()
}

// checkReady rejects operations on a shut-down engine.
func (e *Engine) checkReady() error {
	if e.closed.Load() {
		return searcherr.New(searcherr.KindNotReady, "search", false, errors.New("engine is shut down"))
	}
	return nil
}

// Stats returns the current counters and cache state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	indexed, failed := e.indexedBlocks, e.failedIndexes
	e.mu.Unlock()
	return Stats{
		IndexedBlocks: indexed,
		FailedIndexes: failed,
		FastIndexSize: e.fast.Len(),
		DeepSearch:    e.deep.CacheStats(),
	}
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	e.failedIndexes++
	e.mu.Unlock()
}

func validateQuery(queryText string, maxResults int) error {
	if strings.TrimSpace(queryText) == "" {
		return searcherr.New(searcherr.KindInvalidQuery, "search", false, errors.New("empty query"))
	}
	if maxResults <= 0 {
		return searcherr.New(searcherr.KindInvalidQuery, "search", false, errors.New("max_results must be positive"))
	}
	return nil
}

func toHits(results []router.Result) []Hit {
	out := make([]Hit, 0, len(results))
	for _, r := range results {
		out = append(out, Hit{BlockID: r.BlockID, Score: r.Score})
	}
	return out
}

func sortHitsDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
