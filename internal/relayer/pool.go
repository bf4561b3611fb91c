package relayer

import (
	"context"

	"github.com/chainvrf/vrf-relay/internal/oracle"
	"github.com/chainvrf/vrf-relay/internal/pkg/apperrors"
)

// ErrAllBusy is returned by NextAvailable/NextAvailableBatch when every
// account in the pool was probed and none was available.
var ErrAllBusy = apperrors.New(apperrors.ErrTransientRPC, "no relayer account available", nil)

// Pool is the Relayer: it owns every configured Account and is the only
// component that ever addresses one directly. Callers obtain a *Handle for
// exactly one submission; the Account itself never leaves the pool.
//
// accounts is fixed at construction and never mutated afterward, so
// concurrent NextAvailable/NextAvailableBatch calls (one per in-flight batch
// cycle) need no lock of their own; the only shared mutable state is the
// scheduler's cursor, which guards itself.
type Pool struct {
	accounts  []*Account
	scheduler *scheduler
	builder   *oracle.Builder
}

// NewPool wires up a fixed set of accounts under one scheduling strategy. c
// is the round-robin cursor backing that strategy — pass nil for a
// single-process deployment (an in-memory counter is used) or a
// *DistCursor when multiple engine processes share this pool's accounts.
func NewPool(accounts []*Account, strategy Strategy, c Cursor, builder *oracle.Builder) *Pool {
	if c == nil {
		c = &localCursor{}
	}
	return &Pool{
		accounts:  accounts,
		scheduler: newScheduler(strategy, c),
		builder:   builder,
	}
}

// Handle is a short-lived reference to one account, valid for exactly one
// submission. Callers must not retain it past that call.
type Handle struct {
	account *Account
}

func (h *Handle) Address() string { return h.account.Address().Hex() }

// NextAvailable selects an account via the configured scheduling strategy,
// restricted to none (any account may take a single fulfillment).
func (p *Pool) NextAvailable(ctx context.Context) (*Handle, error) {
	acc, ok := p.scheduler.pick(ctx, p.accounts, anyAccount)
	if !ok {
		return nil, ErrAllBusy
	}
	return &Handle{account: acc}, nil
}

// NextAvailableBatch selects an account restricted to those with a
// delegated batch executor.
func (p *Pool) NextAvailableBatch(ctx context.Context) (*Handle, error) {
	acc, ok := p.scheduler.pick(ctx, p.accounts, batchCapableOnly)
	if !ok {
		return nil, ErrAllBusy
	}
	return &Handle{account: acc}, nil
}

// Submit dispatches a single fulfillment call through the handle's account.
func (p *Pool) Submit(ctx context.Context, h *Handle, call oracle.Call) (*Result, error) {
	return h.account.Send(ctx, call)
}

// SubmitBatch dispatches a batch of fulfillment calls through the handle's
// account, via the pool's oracle.Builder for the executor calling
// convention.
func (p *Pool) SubmitBatch(ctx context.Context, h *Handle, calls []oracle.Call) (*Result, error) {
	return h.account.SendBatch(ctx, p.builder, calls)
}

// Size reports how many accounts the pool owns, for health/diagnostic
// surfaces.
func (p *Pool) Size() int {
	return len(p.accounts)
}

// AnyBatchCapable reports whether at least one account has a batch executor
// delegated, letting the Queue Processor decide up front whether to run the
// batch path or fall back to single-request submission (spec.md §4.7).
func (p *Pool) AnyBatchCapable() bool {
	for _, acc := range p.accounts {
		if acc.SupportsBatch() {
			return true
		}
	}
	return false
}
