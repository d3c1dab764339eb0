package store

import (
	"context"

	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/reload"
)

// Store is a policy backend. Each Load call returns the complete current
// table in a stable order; callers never receive partial sets on error.
type Store interface {
	LoadCircuitBreakers(ctx context.Context) ([]policy.Record[policy.CircuitBreaker], error)
	LoadBlacklistRules(ctx context.Context) ([]policy.Record[policy.BlacklistRule], error)
	Close() error
}

// CircuitBreakerSource exposes the circuit breaker table of s to a reload
// coordinator.
func CircuitBreakerSource(s Store) reload.SourceFunc[policy.CircuitBreaker] {
	return s.LoadCircuitBreakers
}

// BlacklistSource exposes the blacklist table of s to a reload coordinator.
func BlacklistSource(s Store) reload.SourceFunc[policy.BlacklistRule] {
	return s.LoadBlacklistRules
}
