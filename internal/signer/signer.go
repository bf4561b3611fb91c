// Package signer wraps a single ECDSA keypair the way the relayer pool
// needs it: deriving its address once at startup and signing outbound
// transactions on demand, without ever re-exposing the raw key.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// New parses a hex-encoded private key (0x prefix optional) and derives its
// address once so every later call is allocation-free.
func New(privateKeyHex string, chainID *big.Int) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	hexKey := privateKeyHex
	if len(hexKey) > 1 && hexKey[0:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKeyECDSA, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// SignTx signs tx with this account's key using EIP-155 replay protection.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(s.chainID)
	return types.SignTx(tx, signer, s.key)
}

func (s *Signer) Address() common.Address {
	return s.address
}
