// Package market provides the price and wallet-balance lookups used to
// enrich credit scoring.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Price sources reported in Quote.Source.
const (
	SourceJupiter  = "jupiter_lite_api"
	SourceFallback = "fallback"
)

const (
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	// Quotes ask for one whole token assuming 9 decimals.
	quoteAmount = 1_000_000_000
	usdcUnits   = 1_000_000
	slippageBps = 50
)

// KnownMints maps token symbols to Solana mainnet mint addresses.
var KnownMints = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"USDC": usdcMint,
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"BONK": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	"JUP":  "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
}

// FallbackPrices are used offline or when the quote API fails.
var FallbackPrices = map[string]float64{
	"SOL":  145.50,
	"USDC": 1.00,
	"USDT": 1.00,
	"BONK": 0.000015,
	"JUP":  0.85,
}

// ErrNoPrice is returned when neither the API nor the fallback table knows a token.
var ErrNoPrice = errors.New("no price available")

// Quote is a USD price for one token.
type Quote struct {
	Token    string  `json:"token"`
	Mint     string  `json:"token_mint"`
	PriceUSD float64 `json:"price_usd"`
	Source   string  `json:"source"`
}

// PriceSource looks up token prices.
type PriceSource interface {
	Price(ctx context.Context, token string) (Quote, error)
}

// JupiterPrices prices tokens through the Jupiter quote API, falling back to
// a static table when the API is unreachable.
type JupiterPrices struct {
	QuoteURL     string
	HTTP         *http.Client
	FallbackOnly bool
}

// NewJupiterPrices creates a price source for quoteURL.
func NewJupiterPrices(quoteURL string, fallbackOnly bool) *JupiterPrices {
	return &JupiterPrices{
		QuoteURL:     quoteURL,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
		FallbackOnly: fallbackOnly,
	}
}

// Price returns the USD price of token (symbol or mint address).
func (j *JupiterPrices) Price(ctx context.Context, token string) (Quote, error) {
	symbol := strings.ToUpper(strings.TrimSpace(token))
	mint, ok := KnownMints[symbol]
	if !ok {
		mint = token
	}

	if j.FallbackOnly || j.QuoteURL == "" {
		return fallback(symbol, mint)
	}

	price, err := j.fetch(ctx, mint)
	if err != nil {
		slog.Warn("price lookup failed, using fallback", "token", symbol, "error", err)
		return fallback(symbol, mint)
	}
	return Quote{Token: symbol, Mint: mint, PriceUSD: price, Source: SourceJupiter}, nil
}

func (j *JupiterPrices) fetch(ctx context.Context, mint string) (float64, error) {
	q := url.Values{}
	q.Set("inputMint", mint)
	q.Set("outputMint", usdcMint)
	q.Set("amount", strconv.Itoa(quoteAmount))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.QuoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := j.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote API returned %d", resp.StatusCode)
	}

	var body struct {
		OutAmount string `json:"outAmount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode quote: %w", err)
	}
	out, err := strconv.ParseInt(body.OutAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse outAmount %q: %w", body.OutAmount, err)
	}
	return float64(out) / usdcUnits, nil
}

func fallback(symbol, mint string) (Quote, error) {
	price, ok := FallbackPrices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
	}
	return Quote{Token: symbol, Mint: mint, PriceUSD: price, Source: SourceFallback}, nil
}
