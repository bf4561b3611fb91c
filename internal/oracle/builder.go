// Package oracle generates the randomness value for each VRF request and
// encodes the calldata that delivers it on-chain, either as a single
// fulfillRandomness call or packed into an ERC-7821 batch-executor call.
package oracle

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RequestID is the 32-byte opaque identifier assigned on-chain per VRF
// request (spec.md §3).
type RequestID [32]byte

func (r RequestID) Hex() string { return "0x" + common.Bytes2Hex(r[:]) }

// ParseRequestID decodes a 0x-prefixed 32-byte hex string, the form the
// queue stores request IDs in, back into a RequestID.
func ParseRequestID(s string) (RequestID, error) {
	b := common.FromHex(s)
	if len(b) != 32 {
		return RequestID{}, fmt.Errorf("request id %q is not 32 bytes", s)
	}
	var id RequestID
	copy(id[:], b)
	return id, nil
}

// Call is one fully-encoded on-chain call: a destination and its calldata.
// For a single fulfillment it targets the oracle contract directly; inside
// a batch it is one element of the call array handed to the executor.
type Call struct {
	To   common.Address
	Data []byte
}

const fulfillRandomnessABI = `[{
	"name": "fulfillRandomness",
	"type": "function",
	"inputs": [
		{"name": "requestId", "type": "bytes32"},
		{"name": "randomness", "type": "uint256"}
	]
}]`

// executeABI is ERC-7821's entrypoint: execute(bytes32 mode, bytes
// executionData). Parsing it via abi.JSON rather than hand-computing the
// selector keeps the encoding consistent with fulfillRandomness's.
const executeABI = `[{
	"name": "execute",
	"type": "function",
	"inputs": [
		{"name": "mode", "type": "bytes32"},
		{"name": "executionData", "type": "bytes"}
	]
}]`

// ERC-7821's "single batch" mode word: upper byte 0x01 (batch of calls),
// remaining bytes reserved/zero (no opt-in data, no extra flags).
var singleBatchMode = func() [32]byte {
	var m [32]byte
	m[0] = 0x01
	return m
}()

// Builder generates randomness and ABI-encodes fulfillment calldata.
// Determinism is not required (spec.md §4.5); independence across requests
// and unpredictability from external observation are.
type Builder struct {
	oracleContract common.Address
	fulfillABI     abi.ABI
	executeABI     abi.ABI
	callArrayArgs  abi.Arguments
}

func NewBuilder(oracleContract common.Address) (*Builder, error) {
	fulfill, err := abi.JSON(strings.NewReader(fulfillRandomnessABI))
	if err != nil {
		return nil, fmt.Errorf("parse fulfillRandomness abi: %w", err)
	}
	execute, err := abi.JSON(strings.NewReader(executeABI))
	if err != nil {
		return nil, fmt.Errorf("parse execute abi: %w", err)
	}

	tupleArrT, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		return nil, fmt.Errorf("build call-array type: %w", err)
	}

	return &Builder{
		oracleContract: oracleContract,
		fulfillABI:     fulfill,
		executeABI:     execute,
		callArrayArgs:  abi.Arguments{{Type: tupleArrT}},
	}, nil
}

// randomValue draws a cryptographically-seeded, independent 256-bit value
// per request. crypto/rand is used rather than a seeded math/rand so the
// output is not predictable from any externally observable input (spec.md
// §9).
func randomValue() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// BuildSingle generates one randomness value and ABI-encodes the call to
// fulfillRandomness(requestId, randomness) against the oracle contract.
func (b *Builder) BuildSingle(requestID RequestID) (Call, *big.Int, error) {
	value, err := randomValue()
	if err != nil {
		return Call{}, nil, err
	}
	data, err := b.fulfillABI.Pack("fulfillRandomness", requestID, value)
	if err != nil {
		return Call{}, nil, fmt.Errorf("pack fulfillRandomness: %w", err)
	}
	return Call{To: b.oracleContract, Data: data}, value, nil
}

// FulfilledCall pairs a request with the value it will be fulfilled with,
// for callers that need to persist or log the value alongside the call.
type FulfilledCall struct {
	RequestID RequestID
	Value     *big.Int
	Call      Call
}

// BuildBatch produces one fulfillRandomness call per request, in order, each
// paired with its request ID and value. The calls can be submitted one by one
// or packed with EncodeBatchExecutorCalldata.
func (b *Builder) BuildBatch(requestIDs []RequestID) ([]FulfilledCall, error) {
	out := make([]FulfilledCall, 0, len(requestIDs))
	for _, id := range requestIDs {
		call, value, err := b.BuildSingle(id)
		if err != nil {
			return nil, err
		}
		out = append(out, FulfilledCall{RequestID: id, Value: value, Call: call})
	}
	return out, nil
}

// executorCallTuple mirrors the (address,uint256,bytes) tuple ERC-7821
// expects per call; the field names must match the tuple fields NewBuilder
// declares for callArrayArgs for go-ethereum's abi encoder to pack it via
// reflection.
type executorCallTuple struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodeBatchExecutorCalldata packs calls per the ERC-7821 "execute" calling
// convention: a reserved mode word followed by the ABI-encoded call array.
// The destination of the resulting transaction is the relayer account's own
// address, since the executor contract acts on behalf of that EOA via a
// pre-existing EIP-7702 authorization (spec.md §6) — this function only
// builds the calldata, not the transaction.
func (b *Builder) EncodeBatchExecutorCalldata(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("cannot encode an empty batch")
	}
	tuples := make([]executorCallTuple, len(calls))
	for i, c := range calls {
		tuples[i] = executorCallTuple{Target: c.To, Value: big.NewInt(0), CallData: c.Data}
	}
	executionData, err := b.callArrayArgs.Pack(tuples)
	if err != nil {
		return nil, fmt.Errorf("pack call array: %w", err)
	}

	return b.executeABI.Pack("execute", singleBatchMode, executionData)
}
