package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/chainvrf/vrf-relay/internal/chain"
	"github.com/chainvrf/vrf-relay/internal/signer"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run ./cmd/keytool <rpc_url> <private_key_with_0x>")
		os.Exit(1)
	}
	rpcURL := os.Args[1]
	pkHex := os.Args[2]

	provider, err := chain.NewRPCProvider(rpcURL, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to RPC: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chainID, err := provider.ChainID(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to fetch chain id: %v", err)
	}

	s, err := signer.New(pkHex, chainID)
	if err != nil {
		log.Fatalf("❌ Invalid private key: %v", err)
	}
	addr := s.Address()
	fmt.Printf("\n✅ Private key is valid!\n")
	fmt.Printf("🔑 Address:  %s\n", addr.Hex())
	fmt.Printf("⛓  Chain ID: %s\n", chainID.String())

	balance, err := provider.BalanceAt(ctx, addr)
	if err != nil {
		fmt.Printf("⚠️  Could not fetch balance: %v\n", err)
	} else {
		fmt.Printf("💰 Balance:  %s wei\n", balance.String())
		if balance.Cmp(big.NewInt(0)) == 0 {
			fmt.Println("⚠️  This account has zero balance and cannot pay for gas.")
		}
	}

	nonce, err := provider.NonceAt(ctx, addr)
	if err != nil {
		fmt.Printf("⚠️  Could not fetch nonce: %v\n", err)
	} else {
		fmt.Printf("🔢 Nonce:    %d\n", nonce)
	}

	fmt.Println("\n👇 Add this key to the relayer pool 👇")
	fmt.Printf("RELAYER_PRIVATE_KEYS=%s\n", pkHex)
}
