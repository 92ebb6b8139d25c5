// Package executor submits memo transactions to Solana, degrading to
// synthetic transaction ids when no key or network is available.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cypherguy/internal/config"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// LowBalanceSOL is the wallet balance below which startup logs a warning.
const LowBalanceSOL = 0.1

const defaultPollInterval = 500 * time.Millisecond

var errTxFailed = errors.New("transaction failed on chain")

// RPC is the subset of the Solana JSON-RPC client used by Executor.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// Executor builds a memo plus self-transfer transaction and submits it.
// Without a key or client it runs in mock mode.
type Executor struct {
	client         RPC
	key            solana.PrivateKey
	cluster        string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// New creates an executor from cfg. A missing or unreadable key file is not
// an error: the executor falls back to mock mode.
func New(cfg config.SolanaConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.WalletPath)
	if err != nil {
		logger.Warn("wallet not loaded, running in mock mode", "path", cfg.WalletPath, "error", err)
		return NewWithClient(nil, nil, cfg.Cluster, cfg.ConfirmTimeout, logger)
	}
	logger.Info("wallet loaded", "pubkey", key.PublicKey().String(), "cluster", cfg.Cluster)
	return NewWithClient(rpc.New(cfg.RPCURL), key, cfg.Cluster, cfg.ConfirmTimeout, logger)
}

// NewWithClient creates an executor with an explicit client and key.
// A nil client or key selects mock mode.
func NewWithClient(client RPC, key solana.PrivateKey, cluster string, confirmTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:         client,
		key:            key,
		cluster:        cluster,
		confirmTimeout: confirmTimeout,
		pollInterval:   defaultPollInterval,
		now:            time.Now,
		logger:         logger,
	}
}

// Live reports whether transactions are actually submitted.
func (e *Executor) Live() bool {
	return e.client != nil && len(e.key) > 0
}

// CheckBalance logs the wallet balance and warns when it is low.
func (e *Executor) CheckBalance(ctx context.Context) (float64, error) {
	if !e.Live() {
		e.logger.Warn("running in mock mode (no wallet loaded)")
		return 0, nil
	}
	pub := e.key.PublicKey()
	out, err := e.client.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		e.logger.Error("failed to check balance", "pubkey", pub.String(), "error", err)
		return 0, fmt.Errorf("get balance: %w", err)
	}
	sol := float64(out.Value) / float64(solana.LAMPORTS_PER_SOL)
	e.logger.Info("wallet balance", "pubkey", pub.String(), "sol", sol)
	if sol < LowBalanceSOL {
		e.logger.Warn("low balance, request an airdrop", "pubkey", pub.String(), "sol", sol, "cluster", e.cluster)
	}
	return sol, nil
}

// Execute submits memo with a self-transfer of lamports. It never returns an
// error: failures degrade to a synthetic transaction id.
func (e *Executor) Execute(ctx context.Context, memoText string, lamports uint64) domain.ExecutionResult {
	if !e.Live() {
		return domain.ExecutionResult{
			Success:      true,
			TxIdentifier: e.syntheticID("mock", memoText),
			Mode:         domain.ExecutionModeMock,
		}
	}

	sig, err := e.submit(ctx, TruncateMemo(memoText), lamports)
	if err != nil {
		e.logger.Error("transaction failed", "error", err)
		return domain.ExecutionResult{
			Success:      false,
			TxIdentifier: e.syntheticID("error_fallback", memoText+"|"+err.Error()),
			Mode:         domain.ExecutionModeMockFallback,
			Error:        err.Error(),
		}
	}

	link := config.SolanaConfig{Cluster: e.cluster}.ExplorerURL(sig.String())
	e.logger.Info("transaction sent", "signature", sig.String(), "explorer", link)

	if err := e.confirm(ctx, sig); err != nil {
		e.logger.Warn("confirmation not observed, transaction may still land", "signature", sig.String(), "error", err)
	}

	return domain.ExecutionResult{
		Success:      true,
		TxIdentifier: sig.String(),
		Mode:         domain.ExecutionModeReal,
		ExplorerLink: link,
	}
}

func (e *Executor) submit(ctx context.Context, memoText string, lamports uint64) (solana.Signature, error) {
	payer := e.key.PublicKey()

	recent, err := e.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	memoIx, err := memo.NewMemoInstructionBuilder().
		SetMessage([]byte(memoText)).
		SetSigner(payer).
		ValidateAndBuild()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build memo instruction: %w", err)
	}

	instructions := []solana.Instruction{memoIx}
	if lamports > 0 {
		instructions = append(instructions, system.NewTransferInstruction(lamports, payer, payer).Build())
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer) {
			return &e.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// confirm polls the signature status until it is confirmed or the bounded
// wait expires.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		out, err := e.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", errTxFailed, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				e.logger.Info("transaction confirmed", "signature", sig.String(), "status", st.ConfirmationStatus)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syntheticID is the hex sha256 of "<label>_<payload>_<timestamp>".
func (e *Executor) syntheticID(label, payload string) string {
	ts := float64(e.now().UnixNano()) / float64(time.Second)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%f", label, payload, ts)))
	return hex.EncodeToString(sum[:])
}
