package relayer

import (
	"context"
	"math/rand"
	"sync"

	"github.com/chainvrf/vrf-relay/internal/pkg/metrics"
)

// Strategy picks a starting index into a pool of accounts; the pool then
// probes candidates starting there, in order, modulo the pool size.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyUniformRandom Strategy = "uniform_random"
)

// scheduler selects an available account from a fixed-size pool. It does not
// hold the accounts themselves — only the cursor state needed to pick a
// starting point fairly across calls.
type scheduler struct {
	strategy Strategy
	cursor   Cursor
}

// Cursor abstracts the monotonic index a round-robin scheduler advances.
// The in-process implementation is a plain counter; DistCursor (distindex.go)
// backs it with Redis so multiple engine processes share one rotation.
type Cursor interface {
	Next(ctx context.Context, poolSize int) (int, error)
}

func newScheduler(strategy Strategy, c Cursor) *scheduler {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &scheduler{strategy: strategy, cursor: c}
}

// batchFilter is applied to candidate accounts when the caller only wants
// ones delegated a batch executor.
type batchFilter int

const (
	anyAccount batchFilter = iota
	batchCapableOnly
)

// pick probes accounts starting from a strategy-chosen index, in pool
// order, until one reports available or every candidate has been tried. It
// returns the chosen account or (nil, false) on exhaustion ("all_busy").
func (s *scheduler) pick(ctx context.Context, accounts []*Account, filter batchFilter) (*Account, bool) {
	n := len(accounts)
	if n == 0 {
		return nil, false
	}

	start, err := s.start(ctx, n)
	if err != nil {
		start = 0
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		acc := accounts[idx]
		if filter == batchCapableOnly && !acc.SupportsBatch() {
			continue
		}
		ok, reason := acc.IsAvailable(ctx)
		if ok {
			return acc, true
		}
		metrics.RelayerSkipsTotal.WithLabelValues(reason).Inc()
	}
	return nil, false
}

func (s *scheduler) start(ctx context.Context, n int) (int, error) {
	switch s.strategy {
	case StrategyUniformRandom:
		return rand.Intn(n), nil
	default:
		return s.cursor.Next(ctx, n)
	}
}

// localCursor is an in-process round-robin cursor for single-instance
// deployments; DistCursor replaces it when Redis-backed coordination across
// processes is configured (spec §8 fairness property under horizontal
// scale-out). It guards its own state so concurrent batch cycles can each
// pick a starting index without serializing behind the pool's own lock.
type localCursor struct {
	mu   sync.Mutex
	next int
}

func (c *localCursor) Next(_ context.Context, n int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.next % n
	c.next = (c.next + 1) % n
	return i, nil
}
