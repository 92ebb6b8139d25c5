package market

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// BalanceSource reports a wallet's native balance in SOL.
type BalanceSource interface {
	BalanceSOL(ctx context.Context, wallet string) (float64, error)
}

// SolanaBalances reads balances over Solana JSON-RPC.
type SolanaBalances struct {
	client *rpc.Client
}

// NewSolanaBalances creates a balance source for rpcURL.
func NewSolanaBalances(rpcURL string) *SolanaBalances {
	return &SolanaBalances{client: rpc.New(rpcURL)}
}

// BalanceSOL returns the confirmed balance of wallet.
func (s *SolanaBalances) BalanceSOL(ctx context.Context, wallet string) (float64, error) {
	pub, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, fmt.Errorf("parse wallet address: %w", err)
	}
	out, err := s.client.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return LamportsToSOL(out.Value), nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}
