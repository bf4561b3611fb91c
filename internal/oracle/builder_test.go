package oracle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequestID(b byte) RequestID {
	var id RequestID
	id[31] = b
	return id
}

func TestParseRequestID_RoundTripsWithHex(t *testing.T) {
	id := testRequestID(0x42)
	parsed, err := ParseRequestID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRequestID_RejectsWrongLength(t *testing.T) {
	_, err := ParseRequestID("0x1234")
	assert.Error(t, err)
}

func TestBuildSingle_GeneratesIndependentRandomness(t *testing.T) {
	b, err := NewBuilder(common.HexToAddress("0x000000000000000000000000000000000000aa"))
	require.NoError(t, err)

	_, v1, err := b.BuildSingle(testRequestID(1))
	require.NoError(t, err)
	_, v2, err := b.BuildSingle(testRequestID(2))
	require.NoError(t, err)

	assert.NotEqual(t, 0, v1.Cmp(big.NewInt(0)), "randomness must not be zero")
	assert.NotEqual(t, v1, v2, "two draws must not collide")
}

func TestBuildSingle_TargetsOracleContract(t *testing.T) {
	contract := common.HexToAddress("0x000000000000000000000000000000000000bb")
	b, err := NewBuilder(contract)
	require.NoError(t, err)

	call, _, err := b.BuildSingle(testRequestID(3))
	require.NoError(t, err)
	assert.Equal(t, contract, call.To)
	assert.NotEmpty(t, call.Data)
}

func TestBuildBatch_PreservesOrderAndCount(t *testing.T) {
	b, err := NewBuilder(common.HexToAddress("0x000000000000000000000000000000000000cc"))
	require.NoError(t, err)

	ids := []RequestID{testRequestID(1), testRequestID(2), testRequestID(3)}
	calls, err := b.BuildBatch(ids)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, ids[i], c.RequestID)
	}
}

func TestEncodeBatchExecutorCalldata_RejectsEmptyBatch(t *testing.T) {
	b, err := NewBuilder(common.HexToAddress("0x000000000000000000000000000000000000dd"))
	require.NoError(t, err)

	_, err = b.EncodeBatchExecutorCalldata(nil)
	assert.Error(t, err)
}

func TestEncodeBatchExecutorCalldata_StartsWithExecuteSelector(t *testing.T) {
	contract := common.HexToAddress("0x000000000000000000000000000000000000ee")
	b, err := NewBuilder(contract)
	require.NoError(t, err)

	fulfilled, err := b.BuildBatch([]RequestID{testRequestID(1), testRequestID(2)})
	require.NoError(t, err)

	calls := make([]Call, len(fulfilled))
	for i, fc := range fulfilled {
		calls[i] = fc.Call
	}

	data, err := b.EncodeBatchExecutorCalldata(calls)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// execute(bytes32,bytes) selector is the first 4 bytes.
	selector := b.executeABI.Methods["execute"].ID
	assert.Equal(t, selector, data[:4])
}
