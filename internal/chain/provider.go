// Package chain is the thin façade over the RPC client that every other
// component in the fulfillment engine depends on: the chain log
// scanner/decoder that actually enqueues requests is out of scope (spec.md
// §1), but the operations of Provider below are the ones this engine's own
// components need from a chain connection.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Provider is the interface the rest of the engine programs against, so
// tests can substitute a fake without dialing a real node.
type Provider interface {
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// CallContract replays a call against the state at blockNumber, used to
	// recover the revert reason of a transaction that already reverted
	// on-chain (the mined receipt carries no reason, only a status byte).
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCProvider implements Provider over a real go-ethereum client, throttled
// by a token bucket so a burst of relayer accounts submitting at once
// cannot trip the RPC node's own rate limiting — the same role
// golang.org/x/time/rate plays per-tenant in an HTTP gateway, here applied
// once per provider since every account shares one RPC endpoint.
type RPCProvider struct {
	client  *ethclient.Client
	limiter *rate.Limiter
}

// NewRPCProvider dials rpcURL and wraps the client with a limiter allowing
// requestsPerSecond steady-state calls and a burst of the same size.
func NewRPCProvider(rpcURL string, requestsPerSecond float64) (*RPCProvider, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is empty")
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to eth client: %w", err)
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RPCProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}, nil
}

func (p *RPCProvider) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NonceAt returns the mined transaction count for addr, the authoritative
// value NonceManager.ResetFromChain re-syncs against.
func (p *RPCProvider) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.client.NonceAt(ctx, addr, nil)
}

func (p *RPCProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.client.SendTransaction(ctx, tx)
}

func (p *RPCProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.TransactionReceipt(ctx, txHash)
}

func (p *RPCProvider) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.BalanceAt(ctx, addr, nil)
}

func (p *RPCProvider) BlockNumber(ctx context.Context) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.client.BlockNumber(ctx)
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.ChainID(ctx)
}

// SuggestGasTipCap returns the node's recommended priority fee, used as the
// tip cap of the dynamic-fee transactions relayer accounts submit.
func (p *RPCProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.SuggestGasTipCap(ctx)
}

// SuggestGasPrice returns the node's legacy gas-price suggestion, used to
// derive the fee cap of a dynamic-fee transaction.
func (p *RPCProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.SuggestGasPrice(ctx)
}

// CallContract replays msg against the state at blockNumber. ethclient.Client
// already satisfies bind.ContractCaller with exactly this signature.
func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.client.CallContract(ctx, msg, blockNumber)
}
