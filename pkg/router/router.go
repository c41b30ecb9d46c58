// Package router implements the strategy router: query classification
// and the table that picks which search strategy (or combination) answers a
// given query, with automatic fallback to FAST_PUBLIC on any strategy
// failure.
package router

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rbatllet/private-blockchain-search/internal/obslog"
	"github.com/rbatllet/private-blockchain-search/pkg/encsearch"
	"github.com/rbatllet/private-blockchain-search/pkg/fastindex"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
)

// Complexity classifies a query's shape.
type Complexity string

const (
	ComplexitySimple  Complexity = "SIMPLE"
	ComplexityMedium  Complexity = "MEDIUM"
	ComplexityComplex Complexity = "COMPLEX"
)

// SecurityLevel picks the default strategy-selection bias.
type SecurityLevel string

const (
	SecurityMaximum     SecurityLevel = "MAXIMUM"
	SecurityBalanced    SecurityLevel = "BALANCED"
	SecurityPerformance SecurityLevel = "PERFORMANCE"
)

// Strategy is a selected execution path.
type Strategy string

const (
	StrategyFastPublic       Strategy = "FAST_PUBLIC"
	StrategyEncryptedContent Strategy = "ENCRYPTED_CONTENT"
	StrategyHybridCascade    Strategy = "HYBRID_CASCADE"
	StrategyParallelMulti    Strategy = "PARALLEL_MULTI"
)

var isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

var booleanWords = []string{" and ", " or ", " not "}

// Classify implements the complexity rules over queryText.
func Classify(queryText string) Complexity {
	lower := strings.ToLower(queryText)
	tokens := strings.Fields(lower)

	switch {
	case len(tokens) <= 2 && !hasSpecialChars(queryText):
		return ComplexitySimple
	case len(tokens) > 5 || hasBooleanWords(lower) || strings.ContainsAny(lower, "()") || isoDatePattern.MatchString(lower):
		return ComplexityComplex
	default:
		return ComplexityMedium
	}
}

func hasSpecialChars(s string) bool {
	return strings.ContainsAny(s, `*?":`)
}

func hasBooleanWords(lower string) bool {
	padded := " " + lower + " "
	for _, w := range booleanWords {
		if strings.Contains(padded, w) {
			return true
		}
	}
	return false
}

// Select implements the strategy-selection table.
func Select(complexity Complexity, hasPassword bool, level SecurityLevel) Strategy {
	switch {
	case level == SecurityMaximum && hasPassword:
		return StrategyEncryptedContent
	case complexity == ComplexityComplex && hasPassword:
		return StrategyHybridCascade
	case complexity == ComplexityMedium && hasPassword:
		return StrategyEncryptedContent
	case level == SecurityBalanced && hasPassword:
		return StrategyParallelMulti
	default:
		return StrategyFastPublic
	}
}

// Result is a single routed hit, merged across whichever strategies ran.
type Result struct {
	BlockID string
	Score   float64
}

// RouteResult carries the routed results plus observability metadata: which
// strategy actually ran, and the original error if a fallback occurred.
type RouteResult struct {
	Strategy      Strategy
	Results       []Result
	FallbackError string
}

// Router executes the selected strategy against a FastIndex and an
// EncryptedContentSearch, falling back to FAST_PUBLIC on any failure.
type Router struct {
	fast *fastindex.FastIndex
	deep *encsearch.Search
	log  obslog.Logger
}

// New builds a Router over fast and deep. deep may be nil, in which case
// the encrypted-content part of every strategy contributes no results:
// ENCRYPTED_CONTENT returns an empty list, and the combined strategies
// return only their FAST_PUBLIC results.
func New(fast *fastindex.FastIndex, deep *encsearch.Search, log obslog.Logger) *Router {
	if log == nil {
		log = obslog.NoopLogger{}
	}
	return &Router{fast: fast, deep: deep, log: log}
}

// Route classifies queryText, selects a strategy, executes it, and falls
// back to FAST_PUBLIC on any failure.
func (r *Router) Route(ctx context.Context, queryText, password string, maxResults int, deps StrategyDeps) RouteResult {
	complexity := Classify(queryText)
	strategy := Select(complexity, password != "", deps.SecurityLevel)

	results, err := r.execute(ctx, strategy, queryText, password, maxResults, deps)
	if err != nil {
		r.log.Warn("strategy execution failed, falling back to FAST_PUBLIC", obslog.Fields{
			"strategy": string(strategy), "err": err.Error(),
		})
		fallback := fastResults(r.fast, queryText, maxResults)
		return RouteResult{Strategy: StrategyFastPublic, Results: fallback, FallbackError: err.Error()}
	}

	return RouteResult{Strategy: strategy, Results: results}
}

// StrategyDeps carries per-call dependencies the router needs but does not
// own (the ledger reader backing query-time decryption, and config).
type StrategyDeps struct {
	SecurityLevel SecurityLevel
	Reader        ledger.Reader
}

func (r *Router) execute(ctx context.Context, strategy Strategy, queryText, password string, maxResults int, deps StrategyDeps) ([]Result, error) {
	switch strategy {
	case StrategyFastPublic:
		return fastResults(r.fast, queryText, maxResults), nil

	case StrategyEncryptedContent:
		return r.deepResults(ctx, queryText, password, maxResults, deps)

	case StrategyHybridCascade:
		fast := fastResults(r.fast, queryText, maxResults)
		if len(fast) < maxResults/2 {
			deep, err := r.deepResults(ctx, queryText, password, maxResults, deps)
			if err != nil {
				return nil, err
			}
			return mergePreferFirst(fast, deep, maxResults), nil
		}
		return fast, nil

	case StrategyParallelMulti:
		var fast, deep []Result
		var deepErr error
		var wg doneGroup
		wg.run(func() { fast = fastResults(r.fast, queryText, maxResults) })
		wg.run(func() { deep, deepErr = r.deepResults(ctx, queryText, password, maxResults, deps) })
		wg.wait()
		if deepErr != nil {
			return nil, deepErr
		}
		return mergePreferHigherScore(fast, deep, maxResults), nil

	default:
		return fastResults(r.fast, queryText, maxResults), nil
	}
}

// deepResults runs the encrypted-content search. The error is non-nil only
// when the deep search's ledger boundary failed mid-scan; per-block
// decryption failures never surface here.
func (r *Router) deepResults(ctx context.Context, queryText, password string, maxResults int, deps StrategyDeps) ([]Result, error) {
	if r.deep == nil {
		return nil, nil
	}
	hits, err := r.deep.Search(ctx, queryText, password, maxResults, deps.Reader)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{BlockID: h.BlockID, Score: h.Score})
	}
	return out, nil
}

func fastResults(idx *fastindex.FastIndex, queryText string, maxResults int) []Result {
	if idx == nil {
		return nil
	}
	hits := idx.SearchFast(queryText, maxResults)
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{BlockID: h.BlockID, Score: h.Score})
	}
	return out
}

// mergePreferFirst merges a and b, keeping a's entry on a duplicate id
// (HYBRID_CASCADE prefers the fast result), sorted by score descending.
func mergePreferFirst(a, b []Result, maxResults int) []Result {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]Result, 0, len(a)+len(b))
	for _, r := range a {
		if _, ok := seen[r.BlockID]; ok {
			continue
		}
		seen[r.BlockID] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range b {
		if _, ok := seen[r.BlockID]; ok {
			continue
		}
		seen[r.BlockID] = struct{}{}
		merged = append(merged, r)
	}
	return sortAndTruncate(merged, maxResults)
}

// mergePreferHigherScore merges a and b, keeping the higher-scoring entry
// on a duplicate id (PARALLEL_MULTI), sorted by score descending.
func mergePreferHigherScore(a, b []Result, maxResults int) []Result {
	byID := make(map[string]Result, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))
	upsert := func(r Result) {
		if existing, ok := byID[r.BlockID]; ok {
			if r.Score > existing.Score {
				byID[r.BlockID] = r
			}
			return
		}
		byID[r.BlockID] = r
		order = append(order, r.BlockID)
	}
	for _, r := range a {
		upsert(r)
	}
	for _, r := range b {
		upsert(r)
	}
	merged := make([]Result, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return sortAndTruncate(merged, maxResults)
}

func sortAndTruncate(results []Result, maxResults int) []Result {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// doneGroup runs a fixed set of thunks concurrently and waits for all of
// them, mirroring the minimal wait-group usage PARALLEL_MULTI needs without
// pulling in a worker-pool abstraction for two fixed tasks.
type doneGroup struct {
	funcs []func()
}

func (g *doneGroup) run(f func()) { g.funcs = append(g.funcs, f) }

func (g *doneGroup) wait() {
	done := make(chan struct{}, len(g.funcs))
	for _, f := range g.funcs {
		go func(fn func()) {
			fn()
			done <- struct{}{}
		}(f)
	}
	for range g.funcs {
		<-done
	}
}
