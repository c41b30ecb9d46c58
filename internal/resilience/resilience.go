// Package resilience wraps the search core's two blocking external
// boundaries, the ledger Reader and the off-chain OffChainStorage, with a
// retrying circuit breaker, so a flaky or overloaded collaborator degrades
// a query's result set instead of hanging or cascading failures.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures a named circuit breaker.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
}

// DefaultBreakerConfig returns sane defaults for a storage boundary.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
	}
}

// RetryConfig configures bounded exponential backoff before the breaker
// sees a call as failed.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns sane defaults for a storage-boundary retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Boundary executes calls to one external collaborator (the ledger or the
// off-chain store) behind a circuit breaker with retry.
type Boundary struct {
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
	mu    sync.Mutex
	trips int
}

// NewBoundary builds a Boundary from the given configs.
func NewBoundary(bc BreakerConfig, rc RetryConfig) *Boundary {
	settings := gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bc.FailureRatio
		},
	}
	b := &Boundary{retry: rc}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		b.mu.Lock()
		if to == gobreaker.StateOpen {
			b.trips++
		}
		b.mu.Unlock()
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Trips returns how many times the breaker has opened. Exposed for stats.
func (b *Boundary) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Call runs fn behind retry-with-backoff and the circuit breaker. ctx
// cancellation aborts the retry loop early.
func (b *Boundary) Call(ctx context.Context, fn func() (any, error)) (any, error) {
	return b.cb.Execute(func() (any, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = b.retry.InitialInterval
		bo.MaxInterval = b.retry.MaxInterval
		bo.Multiplier = b.retry.Multiplier
		bo.MaxElapsedTime = b.retry.MaxElapsedTime
		bctx := backoff.WithContext(bo, ctx)

		var result any
		attempts := 0
		op := func() error {
			attempts++
			var err error
			result, err = fn()
			if err != nil && attempts > b.retry.MaxRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(op, bctx); err != nil {
			return nil, err
		}
		return result, nil
	})
}
