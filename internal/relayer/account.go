// Package relayer owns the pool of funded accounts that submit fulfillment
// transactions on-chain, and the policy that decides which account gets the
// next job.
package relayer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chainvrf/vrf-relay/internal/chain"
	"github.com/chainvrf/vrf-relay/internal/manager"
	"github.com/chainvrf/vrf-relay/internal/oracle"
	"github.com/chainvrf/vrf-relay/internal/pkg/apperrors"
	"github.com/chainvrf/vrf-relay/internal/pkg/logger"
	"github.com/chainvrf/vrf-relay/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the narrow slice of signer.Signer an account needs; declared
// here so tests can substitute a fake without a real ECDSA key.
type Signer interface {
	SignTx(tx *types.Transaction) (*types.Transaction, error)
	Address() common.Address
}

// Account wraps one funded keypair: its NonceManager, its availability
// thresholds, and (optionally) the batch-executor calling convention it has
// been delegated to execute via an external EIP-7702 authorization. The
// Relayer pool owns one Account per configured private key.
type Account struct {
	signer   Signer
	provider chain.Provider
	nonceMgr *manager.NonceManager

	minGasWei            *big.Int
	maxPendingThreshold  int32
	batchExecutorAddress *common.Address
	receiptTimeout       time.Duration
	failureCooldown      time.Duration
	balanceCache         *BalanceCache // nil when Redis is not configured

	pendingCount    atomic.Int32
	lastFailureUnix atomic.Int64 // unix nanos; zero means "no recorded failure"
}

// NewAccount constructs an Account. batchExecutorAddress may be the zero
// address, meaning this account has not been delegated a batch executor and
// is excluded from NextAvailableBatch.
func NewAccount(signer Signer, provider chain.Provider, minGasWei *big.Int, maxPendingThreshold int, batchExecutorAddress common.Address, receiptTimeout, failureCooldown time.Duration) *Account {
	a := &Account{
		signer:              signer,
		provider:            provider,
		nonceMgr:            manager.New(provider, signer.Address()),
		minGasWei:           new(big.Int).Set(minGasWei),
		maxPendingThreshold: int32(maxPendingThreshold),
		receiptTimeout:      receiptTimeout,
		failureCooldown:     failureCooldown,
	}
	if batchExecutorAddress != (common.Address{}) {
		addr := batchExecutorAddress
		a.batchExecutorAddress = &addr
	}
	return a
}

func (a *Account) Address() common.Address { return a.signer.Address() }

func (a *Account) SupportsBatch() bool { return a.batchExecutorAddress != nil }

// WithBalanceCache attaches a Redis-backed balance cache, used in place of a
// BalanceAt RPC call on every availability probe. Returns a for chaining at
// construction time.
func (a *Account) WithBalanceCache(c *BalanceCache) *Account {
	a.balanceCache = c
	return a
}

// IsAvailable reports whether the account currently has enough balance,
// enough free in-flight capacity, and no recent failure within its cooldown
// window. It does not itself record a metric; callers that skip an account
// because of a false result are expected to tag the reason themselves.
func (a *Account) IsAvailable(ctx context.Context) (bool, string) {
	if until := a.lastFailureUnix.Load(); until > 0 {
		if time.Since(time.Unix(0, until)) < a.failureCooldown {
			return false, "recent_failure"
		}
	}
	if a.pendingCount.Load() >= a.maxPendingThreshold {
		return false, "too_many_pending"
	}

	balance, err := a.balance(ctx)
	if err != nil {
		logger.LogError(ctx, err, "failed to check relayer account balance", "account", a.Address().Hex())
		return false, "balance_check_failed"
	}
	if balance.Cmp(a.minGasWei) < 0 {
		return false, "low_balance"
	}
	return true, ""
}

// balance consults the Redis balance cache before falling back to the RPC
// node, so a pool of N accounts probed every dequeue cycle costs at most one
// BalanceAt call per account per cache TTL rather than per cycle.
func (a *Account) balance(ctx context.Context) (*big.Int, error) {
	addr := a.Address().Hex()
	if a.balanceCache != nil {
		if cached, ok := a.balanceCache.Get(ctx, addr); ok {
			if parsed, ok := new(big.Int).SetString(cached, 10); ok {
				return parsed, nil
			}
		}
	}

	balance, err := a.provider.BalanceAt(ctx, a.Address())
	if err != nil {
		return nil, err
	}
	if a.balanceCache != nil {
		if err := a.balanceCache.Set(ctx, addr, balance.String()); err != nil {
			logger.Warn("failed to refresh cached relayer balance", "account", addr, "error", err)
		}
	}
	return balance, nil
}

// buildTx builds a dynamic-fee transaction targeting to with data,
// using the node's suggested tip and a fee cap derived from it, stamped
// with nonce by the caller via NonceManager.Send.
func (a *Account) buildTx(ctx context.Context, nonce uint64, to common.Address, data []byte, gasLimit uint64) (*types.Transaction, error) {
	chainID, err := a.provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	tipCap, err := a.provider.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas tip cap: %w", err)
	}
	gasPrice, err := a.provider.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	feeCap := new(big.Int).Add(gasPrice, tipCap)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	}), nil
}

// Result is the outcome of submitting a transaction and waiting for its
// receipt, shared by Send and SendBatch.
type Result struct {
	TxHash  common.Hash
	Receipt *types.Receipt
}

func (a *Account) submit(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*Result, error) {
	_, signed, err := a.nonceMgr.Send(ctx,
		func(nonce uint64) (*types.Transaction, error) {
			return a.buildTx(ctx, nonce, to, data, gasLimit)
		},
		a.signer.SignTx,
	)
	if err != nil {
		classified := classifySubmitError(err)
		a.recordFailure(ctx, classified)
		return nil, classified
	}

	a.pendingCount.Add(1)
	defer a.pendingCount.Add(-1)

	receipt, err := chain.WaitReceipt(ctx, a.provider, signed.Hash(), a.receiptTimeout)
	if err != nil {
		classified := apperrors.New(apperrors.ErrTransientRPC, "timed out waiting for receipt", err)
		a.recordFailure(ctx, classified)
		return nil, classified
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		classified := a.classifyRevert(ctx, signed, receipt)
		a.recordFailure(ctx, classified)
		return nil, classified
	}
	return &Result{TxHash: signed.Hash(), Receipt: receipt}, nil
}

// Send submits a single call from this account and waits for its receipt.
func (a *Account) Send(ctx context.Context, call oracle.Call) (*Result, error) {
	const fulfillGasLimit = 200_000
	res, err := a.submit(ctx, call.To, call.Data, fulfillGasLimit)
	a.recordOutcome(err)
	return res, err
}

// SendBatch encodes calls per the batch executor's calling convention and
// submits them to the account's own address — the executor contract acts on
// this EOA's behalf through a pre-existing EIP-7702 authorization, so the
// transaction's destination is the account itself, not the contract.
func (a *Account) SendBatch(ctx context.Context, builder *oracle.Builder, calls []oracle.Call) (*Result, error) {
	if a.batchExecutorAddress == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "account has no batch executor delegated", nil)
	}
	data, err := builder.EncodeBatchExecutorCalldata(calls)
	if err != nil {
		return nil, fmt.Errorf("encode batch calldata: %w", err)
	}
	gasLimit := uint64(120_000 + 80_000*len(calls))
	res, err := a.submit(ctx, a.Address(), data, gasLimit)
	a.recordOutcome(err)
	return res, err
}

// classifyRevert replays the already-mined, reverted transaction via
// eth_call at its own block to recover the revert reason, then tags it per
// spec.md §7: an "already fulfilled" reason is not a failure at all and
// should be treated as success by the caller, an "unknown request" reason is
// terminal, anything else is a generic (retryable) contract revert.
func (a *Account) classifyRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	reason, err := a.revertReason(ctx, tx, receipt)
	if err != nil {
		logger.Warn("failed to recover revert reason", "account", a.Address().Hex(), "tx", tx.Hash().Hex(), "error", err)
		return apperrors.New(apperrors.ErrContractRevert, "transaction reverted", nil)
	}
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "already fulfilled") || strings.Contains(lower, "already filled") || strings.Contains(lower, "request fulfilled"):
		return apperrors.New(apperrors.ErrAlreadyFulfilled, reason, nil)
	case strings.Contains(lower, "unknown request") || strings.Contains(lower, "request not found") || strings.Contains(lower, "invalid request"):
		return apperrors.New(apperrors.ErrUnknownRequest, reason, nil)
	default:
		return apperrors.New(apperrors.ErrContractRevert, reason, nil)
	}
}

// revertReason re-simulates tx against the block it was mined in and
// extracts the ABI-encoded Error(string) payload from the call failure.
func (a *Account) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) (string, error) {
	msg := ethereum.CallMsg{
		From:     a.Address(),
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	out, callErr := a.provider.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		if reason, err := abi.UnpackRevert(out); err == nil {
			return reason, nil
		}
		return "", fmt.Errorf("call succeeded against a block where the transaction reverted")
	}

	if de, ok := callErr.(interface{ ErrorData() interface{} }); ok {
		if hexData, ok := de.ErrorData().(string); ok {
			if reason, err := abi.UnpackRevert(common.FromHex(hexData)); err == nil {
				return reason, nil
			}
		}
	}
	return "", callErr
}

func (a *Account) recordFailure(ctx context.Context, err error) {
	a.lastFailureUnix.Store(time.Now().UnixNano())
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Type != apperrors.ErrNonce {
		return
	}
	metrics.NonceResetsTotal.WithLabelValues(a.Address().Hex()).Inc()
	if resetErr := a.nonceMgr.ResetFromChain(ctx); resetErr != nil {
		logger.LogError(ctx, resetErr, "failed to resync nonce after nonce error", "account", a.Address().Hex())
	}
}

func (a *Account) recordOutcome(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.AccountTxTotal.WithLabelValues(a.Address().Hex(), outcome).Inc()
}

// classifySubmitError tags a raw RPC submission error so the queue
// processor can decide retryability without knowing go-ethereum's error
// strings itself.
func classifySubmitError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high") || strings.Contains(msg, "replacement transaction"):
		return apperrors.New(apperrors.ErrNonce, "nonce rejected by node", err)
	case strings.Contains(msg, "insufficient funds"):
		return apperrors.New(apperrors.ErrInsufficientBalance, "insufficient balance for gas", err)
	default:
		return apperrors.New(apperrors.ErrTransientRPC, "transaction submission failed", err)
	}
}
