package relayer

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/chainvrf/vrf-relay/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	addr common.Address
}

func (f *fakeSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) { return tx, nil }
func (f *fakeSigner) Address() common.Address                                 { return f.addr }

type fakeProvider struct {
	balance    *big.Int
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
	callOut    []byte
	callErr    error
	chainNonce uint64
}

func (f *fakeProvider) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return f.chainNonce, nil
}
func (f *fakeProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return f.sendErr
}
func (f *fakeProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}
func (f *fakeProvider) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeProvider) ChainID(ctx context.Context) (*big.Int, error)   { return big.NewInt(1), nil }
func (f *fakeProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callOut, f.callErr
}

func newTestAccount(balance *big.Int, batchExecutor common.Address) (*Account, *fakeProvider) {
	p := &fakeProvider{balance: balance}
	signer := &fakeSigner{addr: common.HexToAddress("0x00000000000000000000000000000000000001")}
	acc := NewAccount(signer, p, big.NewInt(1000), 2, batchExecutor, 2*time.Second, time.Minute)
	return acc, p
}

func TestIsAvailable_RejectsLowBalance(t *testing.T) {
	acc, _ := newTestAccount(big.NewInt(10), common.Address{})
	ok, reason := acc.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "low_balance", reason)
}

func TestIsAvailable_AcceptsSufficientBalance(t *testing.T) {
	acc, _ := newTestAccount(big.NewInt(5000), common.Address{})
	ok, _ := acc.IsAvailable(context.Background())
	assert.True(t, ok)
}

func TestIsAvailable_RejectsWhenTooManyPending(t *testing.T) {
	acc, _ := newTestAccount(big.NewInt(5000), common.Address{})
	acc.pendingCount.Store(2)
	ok, reason := acc.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "too_many_pending", reason)
}

func TestIsAvailable_RejectsDuringFailureCooldown(t *testing.T) {
	acc, _ := newTestAccount(big.NewInt(5000), common.Address{})
	acc.recordFailure(context.Background(), apperrors.New(apperrors.ErrTransientRPC, "boom", nil))
	ok, reason := acc.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "recent_failure", reason)
}

func TestSupportsBatch_ReflectsConfiguredExecutor(t *testing.T) {
	withExecutor, _ := newTestAccount(big.NewInt(5000), common.HexToAddress("0x00000000000000000000000000000000000002"))
	assert.True(t, withExecutor.SupportsBatch())

	withoutExecutor, _ := newTestAccount(big.NewInt(5000), common.Address{})
	assert.False(t, withoutExecutor.SupportsBatch())
}

func TestSendBatch_RejectsWhenNoExecutorDelegated(t *testing.T) {
	acc, _ := newTestAccount(big.NewInt(5000), common.Address{})
	_, err := acc.SendBatch(context.Background(), nil, nil)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrConfig, appErr.Type)
}

func TestClassifySubmitError_TagsNonceErrors(t *testing.T) {
	err := classifySubmitError(fmt.Errorf("nonce too low"))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrNonce, appErr.Type)
}

func TestClassifySubmitError_TagsInsufficientFunds(t *testing.T) {
	err := classifySubmitError(fmt.Errorf("insufficient funds for gas * price + value"))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrInsufficientBalance, appErr.Type)
}

func TestClassifySubmitError_DefaultsToTransientRPC(t *testing.T) {
	err := classifySubmitError(fmt.Errorf("connection reset by peer"))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrTransientRPC, appErr.Type)
}

func TestClassifySubmitError_PassesThroughAlreadyTaggedErrors(t *testing.T) {
	tagged := apperrors.New(apperrors.ErrAlreadyFulfilled, "already done", nil)
	err := classifySubmitError(tagged)
	assert.Same(t, tagged, err)
}

// encodeRevertReason builds the standard Error(string) revert payload:
// selector 0x08c379a0 followed by the ABI-encoded reason string.
func encodeRevertReason(t *testing.T, reason string) []byte {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return append(selector, packed...)
}

func testTxAndReceipt(t *testing.T) (*types.Transaction, *types.Receipt) {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000042")
	tx := types.NewTx(&types.LegacyTx{To: &to, Gas: 21000})
	return tx, &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}
}

func TestClassifyRevert_TagsAlreadyFulfilled(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.callOut = encodeRevertReason(t, "request already fulfilled")
	tx, receipt := testTxAndReceipt(t)

	err := acc.classifyRevert(context.Background(), tx, receipt)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrAlreadyFulfilled, appErr.Type)
}

func TestClassifyRevert_TagsUnknownRequest(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.callOut = encodeRevertReason(t, "unknown request id")
	tx, receipt := testTxAndReceipt(t)

	err := acc.classifyRevert(context.Background(), tx, receipt)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnknownRequest, appErr.Type)
}

func TestClassifyRevert_FallsBackToGenericContractRevert(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.callOut = encodeRevertReason(t, "paused")
	tx, receipt := testTxAndReceipt(t)

	err := acc.classifyRevert(context.Background(), tx, receipt)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrContractRevert, appErr.Type)
}

func TestRecordFailure_ResyncsNonceManagerOnNonceError(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.chainNonce = 3
	require.NoError(t, acc.nonceMgr.ResetFromChain(context.Background()))

	p.chainNonce = 9
	acc.recordFailure(context.Background(), apperrors.New(apperrors.ErrNonce, "nonce too low", nil))

	next, seeded := acc.nonceMgr.Peek()
	assert.True(t, seeded)
	assert.Equal(t, uint64(9), next, "a nonce error must trigger a resync from the chain")
}

func TestRecordFailure_DoesNotResyncOnOtherErrorTypes(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.chainNonce = 3
	require.NoError(t, acc.nonceMgr.ResetFromChain(context.Background()))

	p.chainNonce = 9
	acc.recordFailure(context.Background(), apperrors.New(apperrors.ErrTransientRPC, "timeout", nil))

	next, _ := acc.nonceMgr.Peek()
	assert.Equal(t, uint64(3), next, "only a nonce error should trigger a resync")
}

func TestClassifyRevert_FallsBackWhenReasonUndecodable(t *testing.T) {
	acc, p := newTestAccount(big.NewInt(5000), common.Address{})
	p.callErr = fmt.Errorf("execution reverted")
	tx, receipt := testTxAndReceipt(t)

	err := acc.classifyRevert(context.Background(), tx, receipt)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrContractRevert, appErr.Type)
}
