// Package policy evaluates per-category rule tables.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the thresholds and allow-lists for every category.
type Rules struct {
	Credit      CreditRules     `yaml:"credit"`
	RWA         RWARules        `yaml:"rwa"`
	Trade       TradeRules      `yaml:"trade"`
	Automation  AutomationRules `yaml:"automation"`
	Expressions Expressions     `yaml:"expressions"`
}

type CreditRules struct {
	MinAmount          float64 `yaml:"min_amount"`
	MaxAmount          float64 `yaml:"max_amount"`
	MinCollateralRatio float64 `yaml:"min_collateral_ratio"`
}

type RWARules struct {
	MinPropertyValue float64  `yaml:"min_property_value"`
	AllowedLocations []string `yaml:"allowed_locations"`
	AllowedTypes     []string `yaml:"allowed_types"`
}

type TradeRules struct {
	MinTradeAmount float64  `yaml:"min_trade_amount"`
	MaxTradeAmount float64  `yaml:"max_trade_amount"`
	AllowedTokens  []string `yaml:"allowed_tokens"`
}

type AutomationRules struct {
	MinPortfolioValue float64  `yaml:"min_portfolio_value"`
	AllowedStrategies []string `yaml:"allowed_strategies"`
}

// Expressions are named boolean expressions used by ExprInterpreter.
type Expressions struct {
	Credit []NamedExpr `yaml:"credit"`
	RWA    []NamedExpr `yaml:"rwa"`
}

// NamedExpr is one rule written as an expression over the request fields.
type NamedExpr struct {
	Name   string `yaml:"name"`
	Expr   string `yaml:"expr"`
	Reason string `yaml:"reason"`
}

// DefaultRules returns the compiled-in rule tables.
func DefaultRules() Rules {
	return Rules{
		Credit: CreditRules{
			MinAmount:          100,
			MaxAmount:          100000,
			MinCollateralRatio: 1.5,
		},
		RWA: RWARules{
			MinPropertyValue: 50000,
			AllowedLocations: []string{"USA", "New York", "California", "Texas", "Florida"},
			AllowedTypes:     []string{"Residential", "Commercial", "Industrial"},
		},
		Trade: TradeRules{
			MinTradeAmount: 10,
			MaxTradeAmount: 1000000,
			AllowedTokens:  []string{"SOL", "USDC", "USDT", "BTC", "ETH", "BONK"},
		},
		Automation: AutomationRules{
			MinPortfolioValue: 1000,
			AllowedStrategies: []string{"yield_farming", "portfolio_optimization", "hedging"},
		},
		Expressions: Expressions{
			Credit: []NamedExpr{
				{Name: "min_amount", Expr: "amount >= 100", Reason: "Amount below minimum: $100"},
				{Name: "max_amount", Expr: "amount <= 100000", Reason: "Amount exceeds maximum: $100000"},
				{Name: "min_collateral_ratio", Expr: "collateral_value == 0 || collateral_value / amount >= 1.5", Reason: "Insufficient collateral ratio (min: 1.5x)"},
			},
			RWA: []NamedExpr{
				{Name: "min_property_value", Expr: "property_value >= 50000", Reason: "Property value below minimum: $50000"},
				{Name: "allowed_locations", Expr: `any(["USA", "New York", "California", "Texas", "Florida"], {location contains #})`, Reason: "Location not supported"},
				{Name: "allowed_types", Expr: `property_type in ["Residential", "Commercial", "Industrial"]`, Reason: "Property type not supported"},
			},
		},
	}
}

// LoadRules reads a YAML rule file. Sections absent from the file keep
// their compiled-in defaults.
func LoadRules(path string) (Rules, error) {
	// #nosec G304 -- path comes from operator-configured POLICY_RULES_PATH.
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	return rules, nil
}
