// Package compute runs the simulated private computations: credit scoring,
// RWA compliance, dark-pool order matching and portfolio optimization.
package compute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/market"
	"github.com/google/uuid"
)

// Data sources reported for credit scoring.
const (
	DataSourceTools = "real_tools"
	DataSourceMock  = "mock"
)

// Risk tiers.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	enrichedBaseScore = 600
	fallbackBaseScore = 700
	maxCreditScore    = 850
	// Collateral is valued at a 50% loan-to-value.
	collateralLTV = 0.5
)

// Factor is one scored input of the credit model.
type Factor struct {
	Factor string  `json:"factor"`
	Value  float64 `json:"value"`
	Score  int     `json:"score"`
}

// Engine computes category results. Prices and Balances are optional; when
// both are nil credit scoring uses the fixed fallback model.
type Engine struct {
	Prices   market.PriceSource
	Balances market.BalanceSource

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine. A nil rng is replaced by a randomly seeded one.
func NewEngine(prices market.PriceSource, balances market.BalanceSource, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{Prices: prices, Balances: balances, rng: rng}
}

// Compute runs the computation for category over req.
func (e *Engine) Compute(ctx context.Context, category domain.Category, req domain.Request) domain.ComputeResult {
	var data map[string]any
	switch category {
	case domain.CategoryCredit:
		data = e.credit(ctx, req)
	case domain.CategoryRWA:
		data = e.rwa(req)
	case domain.CategoryTrade:
		data = e.trade(req)
	case domain.CategoryAutomation:
		data = automation(req)
	default:
		return domain.ComputeResult{Success: false, Data: map[string]any{"error": "unknown request type: " + string(category)}}
	}

	return domain.ComputeResult{
		Success:         true,
		Data:            data,
		ComputationHash: Hash(category, req.Fields(category), data),
		CorrelationID:   CorrelationID(category),
	}
}

func (e *Engine) credit(ctx context.Context, req domain.Request) map[string]any {
	if e.Prices == nil && e.Balances == nil {
		return creditTier(fallbackBaseScore, req.Amount, nil)
	}

	score := enrichedBaseScore
	var factors []Factor

	if e.Prices != nil {
		collateral := req.Collateral
		if collateral == "" {
			collateral = "SOL"
		}
		q, err := e.Prices.Price(ctx, collateral)
		if err != nil {
			slog.Warn("collateral price unavailable", "collateral", collateral, "error", err)
		} else {
			value := req.Amount * collateralLTV * q.PriceUSD
			s := collateralScore(value, req.Amount)
			score += s
			factors = append(factors, Factor{Factor: "collateral_value", Value: value, Score: s})
		}
	}

	if wallet := walletFor(req); wallet != "" && e.Balances != nil {
		bal, err := e.Balances.BalanceSOL(ctx, wallet)
		if err != nil {
			slog.Warn("wallet balance unavailable", "wallet", wallet, "error", err)
		} else {
			s := balanceScore(bal)
			score += s
			factors = append(factors, Factor{Factor: "wallet_balance", Value: bal, Score: s})
		}
	}

	return creditTier(min(score, maxCreditScore), req.Amount, factors)
}

func creditTier(score int, amount float64, factors []Factor) map[string]any {
	risk, rate, multiple := RiskHigh, 12.5, 1.0
	switch {
	case score >= 750:
		risk, rate, multiple = RiskLow, 5.5, 1.5
	case score >= 650:
		risk, rate, multiple = RiskMedium, 8.5, 1.2
	}
	source := DataSourceMock
	if len(factors) > 0 {
		source = DataSourceTools
	}
	return map[string]any{
		"credit_score":    float64(score),
		"interest_rate":   rate,
		"max_loan_amount": amount * multiple,
		"risk_level":      risk,
		"factors":         factors,
		"data_source":     source,
	}
}

func collateralScore(value, amount float64) int {
	switch {
	case value >= amount*1.5:
		return 150
	case value >= amount:
		return 100
	case value >= amount*0.5:
		return 50
	}
	return 0
}

func balanceScore(sol float64) int {
	switch {
	case sol > 100:
		return 100
	case sol > 10:
		return 75
	case sol > 1:
		return 50
	}
	return 25
}

// walletFor prefers the explicit wallet address. A user id is only treated
// as a wallet when it is not an agent address.
func walletFor(req domain.Request) string {
	if req.WalletAddress != "" {
		return req.WalletAddress
	}
	if req.UserID != "" && !strings.HasPrefix(req.UserID, "agent") {
		return req.UserID
	}
	return ""
}

func (e *Engine) rwa(req domain.Request) map[string]any {
	e.mu.Lock()
	compliance := 85 + e.rng.IntN(16)
	e.mu.Unlock()

	return map[string]any{
		"compliance_score":     compliance,
		"validated":            compliance >= 75,
		"token_supply":         int64(math.Floor(req.PropertyValue / 100)),
		"fractional_ownership": true,
	}
}

func (e *Engine) trade(req domain.Request) map[string]any {
	base := 1.0
	if req.SellToken == "SOL" {
		base = 95.0
	}

	e.mu.Lock()
	variation := e.rng.Float64()*4 - 2
	counterparty := 1000 + e.rng.IntN(9000)
	e.mu.Unlock()

	return map[string]any{
		"matched":           true,
		"match_price":       math.Round((base+variation)*100) / 100,
		"counterparty_id":   fmt.Sprintf("counterparty_%d", counterparty),
		"execution_time":    "2s",
		"privacy_preserved": true,
	}
}

func automation(req domain.Request) map[string]any {
	allocation := map[string]float64{"SOL": 0.5, "USDC": 0.3, "BTC": 0.1, "ETH": 0.1}
	apy := 8.0
	if req.Strategy == "" || req.Strategy == "yield_farming" {
		allocation = map[string]float64{"SOL_lending": 0.4, "USDC_lending": 0.3, "LP_providing": 0.2, "Staking": 0.1}
		apy = 12.5
	}
	return map[string]any{
		"optimal_allocation": allocation,
		"expected_apy":       apy,
		"rebalance_needed":   true,
		"estimated_gas":      0.002,
	}
}

// Hash returns the computation proof: the first 16 hex chars of
// sha256("<category>_<input json>_<output json>").
func Hash(category domain.Category, input, output map[string]any) string {
	in, _ := json.Marshal(input)
	out, _ := json.Marshal(output)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", category, in, out)))
	return hex.EncodeToString(sum[:])[:16]
}

// CorrelationID returns a fresh mxe_<category>_<8 hex> identifier.
func CorrelationID(category domain.Category) string {
	return fmt.Sprintf("mxe_%s_%s", category, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
