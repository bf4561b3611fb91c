package relayer

import (
	"context"
	"testing"

	"github.com/chainvrf/vrf-relay/internal/oracle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAvailable_ReturnsErrAllBusyWhenNoneQualify(t *testing.T) {
	acc := accountWithBalance(1, 10, common.Address{})
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)

	pool := NewPool([]*Account{acc}, StrategyRoundRobin, nil, builder)
	_, err = pool.NextAvailable(context.Background())
	assert.ErrorIs(t, err, ErrAllBusy)
}

func TestNextAvailableBatch_ExcludesNonBatchAccounts(t *testing.T) {
	plain := accountWithBalance(1, 5000, common.Address{})
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)

	pool := NewPool([]*Account{plain}, StrategyRoundRobin, nil, builder)
	_, err = pool.NextAvailableBatch(context.Background())
	assert.ErrorIs(t, err, ErrAllBusy)
}

func TestAnyBatchCapable_TrueWhenOneAccountHasExecutor(t *testing.T) {
	executor := common.HexToAddress("0x00000000000000000000000000000000000009")
	plain := accountWithBalance(1, 5000, common.Address{})
	capable := accountWithBalance(2, 5000, executor)
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)

	pool := NewPool([]*Account{plain, capable}, StrategyRoundRobin, nil, builder)
	assert.True(t, pool.AnyBatchCapable())
}

func TestAnyBatchCapable_FalseWhenNoneConfigured(t *testing.T) {
	plain := accountWithBalance(1, 5000, common.Address{})
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)

	pool := NewPool([]*Account{plain}, StrategyRoundRobin, nil, builder)
	assert.False(t, pool.AnyBatchCapable())
}

func TestSize_ReportsAccountCount(t *testing.T) {
	a := accountWithBalance(1, 5000, common.Address{})
	b := accountWithBalance(2, 5000, common.Address{})
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)

	pool := NewPool([]*Account{a, b}, StrategyRoundRobin, nil, builder)
	assert.Equal(t, 2, pool.Size())
}

func TestSubmit_DispatchesThroughSelectedAccountsHandle(t *testing.T) {
	acc := accountWithBalance(1, 5000, common.Address{})
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)
	pool := NewPool([]*Account{acc}, StrategyRoundRobin, nil, builder)

	handle, err := pool.NextAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acc.Address().Hex(), handle.Address())

	call := oracle.Call{To: common.HexToAddress("0x00000000000000000000000000000000000077"), Data: []byte{0x01}}
	res, err := pool.Submit(context.Background(), handle, call)
	require.NoError(t, err)
	assert.NotNil(t, res.Receipt)
}

func TestSubmitBatch_DispatchesThroughDelegatedAccount(t *testing.T) {
	executor := common.HexToAddress("0x00000000000000000000000000000000000009")
	acc := accountWithBalance(1, 5000, executor)
	builder, err := oracle.NewBuilder(common.HexToAddress("0x00000000000000000000000000000000000099"))
	require.NoError(t, err)
	pool := NewPool([]*Account{acc}, StrategyRoundRobin, nil, builder)

	handle, err := pool.NextAvailableBatch(context.Background())
	require.NoError(t, err)

	calls, err := builder.BuildBatch([]oracle.RequestID{{1}, {2}})
	require.NoError(t, err)
	plain := make([]oracle.Call, len(calls))
	for i, c := range calls {
		plain[i] = c.Call
	}

	res, err := pool.SubmitBatch(context.Background(), handle, plain)
	require.NoError(t, err)
	assert.NotNil(t, res.Receipt)
}
