package chain

import (
	"context"
	"math/big"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Session scopes the latest block number to a single wallet query. "Latest"
// drifts, so sessions must not be reused across unrelated queries.
type Session struct {
	*Pool

	group  singleflight.Group
	mu     sync.Mutex
	latest *big.Int
}

// NewSession starts a query-scoped view of the pool.
func (p *Pool) NewSession() *Session {
	return &Session{Pool: p}
}

// LatestBlockNumber returns the cached head, fetching it once. Concurrent
// callers share one in-flight request; failures are not cached.
func (s *Session) LatestBlockNumber(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	if s.latest != nil {
		n := new(big.Int).Set(s.latest)
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("latest", func() (any, error) {
		s.mu.Lock()
		cached := s.latest
		s.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		n, err := s.Pool.LatestBlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.latest = n
		s.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.(*big.Int)), nil
}
