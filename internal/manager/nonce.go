// Package manager holds the NonceManager: the single authority for the
// sequence of nonces a relayer account submits under.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainvrf/vrf-relay/internal/chain"
	"github.com/chainvrf/vrf-relay/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NonceManager guarantees that every transaction signed under a single
// account receives a unique, gap-free nonce in submission order. It owns
// exactly one account; the Relayer pool holds one NonceManager per account.
//
// The lock is held across the RPC submission itself, not released before
// it: releasing early would let a second caller grab the next nonce before
// the chain has accepted the first, risking a gap if the first submission
// fails. current only advances after SendTransaction returns without
// error.
type NonceManager struct {
	provider chain.Provider
	address  common.Address

	mu      sync.Mutex
	current uint64
	seeded  bool
}

func New(provider chain.Provider, address common.Address) *NonceManager {
	return &NonceManager{provider: provider, address: address}
}

// Send stamps tx with the next nonce, submits it, and only on success
// advances the counter. sign is called with the stamped (nonce-bearing,
// still unsigned) transaction and must return the signed transaction ready
// to broadcast. On any failure the nonce is not consumed and the caller may
// retry.
func (m *NonceManager) Send(ctx context.Context, build func(nonce uint64) (*types.Transaction, error), sign func(*types.Transaction) (*types.Transaction, error)) (uint64, *types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seeded {
		if err := m.seedLocked(ctx); err != nil {
			return 0, nil, err
		}
	}

	nonce := m.current

	unsigned, err := build(nonce)
	if err != nil {
		return 0, nil, fmt.Errorf("build transaction: %w", err)
	}
	signed, err := sign(unsigned)
	if err != nil {
		return 0, nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := m.provider.SendTransaction(ctx, signed); err != nil {
		return 0, nil, err
	}

	m.current++
	return nonce, signed, nil
}

// ResetFromChain rereads the chain's current transaction count for the
// account and sets current to that value. Used at initialization and for
// recovery after a nonce-too-low/nonce-gap error.
func (m *NonceManager) ResetFromChain(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seedLocked(ctx)
}

// seedLocked must be called with mu held.
func (m *NonceManager) seedLocked(ctx context.Context) error {
	fetched, err := m.provider.NonceAt(ctx, m.address)
	if err != nil {
		return fmt.Errorf("failed to fetch chain nonce: %w", err)
	}
	m.current = fetched
	m.seeded = true
	logger.Info("nonce manager synced", "address", m.address.Hex(), "nonce", fetched)
	return nil
}

// Peek returns the next nonce that would be used, without consuming it.
// Intended for diagnostics and tests only; never use it to pre-stamp a
// transaction outside of Send's locked section.
func (m *NonceManager) Peek() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.seeded
}
