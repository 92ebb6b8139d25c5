package policy

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ashureev/cypherguy/internal/domain"
)

// Evaluation methods reported in PolicyResult.Method.
const (
	MethodRules       = "rules"
	MethodInterpreter = "interpreter"
)

// Evaluator applies the rule tables. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	rules       Rules
	interpreter Interpreter
}

// NewEvaluator creates an Evaluator. interpreter may be nil.
func NewEvaluator(rules Rules, interpreter Interpreter) *Evaluator {
	return &Evaluator{rules: rules, interpreter: interpreter}
}

// Rules returns the tables in use.
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Evaluate checks fields against the table for category. Evaluation stops at
// the first failing rule; an approval lists every rule of the table.
func (e *Evaluator) Evaluate(category domain.Category, fields map[string]any) domain.PolicyResult {
	switch category {
	case domain.CategoryCredit:
		if res, ok := e.interpret(category, func(i Interpreter) (domain.PolicyResult, error) {
			return i.EvaluateCredit(number(fields, "amount"), number(fields, "collateral_value"))
		}); ok {
			return res
		}
		return e.evaluateCredit(fields)
	case domain.CategoryRWA:
		if res, ok := e.interpret(category, func(i Interpreter) (domain.PolicyResult, error) {
			return i.EvaluateRWA(number(fields, "property_value"), text(fields, "location"), text(fields, "property_type"))
		}); ok {
			return res
		}
		return e.evaluateRWA(fields)
	case domain.CategoryTrade:
		return e.evaluateTrade(fields)
	case domain.CategoryAutomation:
		return e.evaluateAutomation(fields)
	default:
		return domain.PolicyResult{
			Approved:     false,
			Reason:       fmt.Sprintf("Unknown request type: %s", category),
			RulesApplied: []string{},
			Method:       MethodRules,
		}
	}
}

// interpret runs the optional interpreter, converting panics into errors.
// ok is false when the fixed tables must be used instead.
func (e *Evaluator) interpret(category domain.Category, call func(Interpreter) (domain.PolicyResult, error)) (res domain.PolicyResult, ok bool) {
	if e.interpreter == nil {
		return domain.PolicyResult{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("policy interpreter panicked, using rule tables", "category", category, "panic", r)
			res, ok = domain.PolicyResult{}, false
		}
	}()

	res, err := call(e.interpreter)
	if err != nil {
		slog.Warn("policy interpreter failed, using rule tables", "category", category, "error", err)
		return domain.PolicyResult{}, false
	}
	res.Method = MethodInterpreter
	return res, true
}

func (e *Evaluator) evaluateCredit(fields map[string]any) domain.PolicyResult {
	r := e.rules.Credit
	amount := number(fields, "amount")
	collateral := number(fields, "collateral_value")

	if amount < r.MinAmount {
		return reject(fmt.Sprintf("Amount below minimum: $%s", money(r.MinAmount)), "min_amount")
	}
	if amount > r.MaxAmount {
		return reject(fmt.Sprintf("Amount exceeds maximum: $%s", money(r.MaxAmount)), "max_amount")
	}
	if collateral > 0 {
		ratio := collateral / amount
		if ratio < r.MinCollateralRatio {
			return reject(fmt.Sprintf("Insufficient collateral ratio: %.2fx (min: %sx)", ratio, money(r.MinCollateralRatio)), "min_collateral_ratio")
		}
	}
	return approve("All credit rules passed", "min_amount", "max_amount", "min_collateral_ratio")
}

func (e *Evaluator) evaluateRWA(fields map[string]any) domain.PolicyResult {
	r := e.rules.RWA
	value := number(fields, "property_value")
	location := text(fields, "location")
	propertyType := text(fields, "property_type")

	if value < r.MinPropertyValue {
		return reject(fmt.Sprintf("Property value below minimum: $%s", money(r.MinPropertyValue)), "min_property_value")
	}
	if !slices.ContainsFunc(r.AllowedLocations, func(allowed string) bool {
		return strings.Contains(location, allowed)
	}) {
		return reject(fmt.Sprintf("Location not supported: %s", location), "allowed_locations")
	}
	if !slices.Contains(r.AllowedTypes, propertyType) {
		return reject(fmt.Sprintf("Property type not supported: %s", propertyType), "allowed_types")
	}
	return approve("All RWA rules passed", "min_property_value", "allowed_locations", "allowed_types")
}

func (e *Evaluator) evaluateTrade(fields map[string]any) domain.PolicyResult {
	r := e.rules.Trade
	amount := number(fields, "sell_amount")
	sell := text(fields, "sell_token")
	buy := text(fields, "buy_token")

	if amount < r.MinTradeAmount {
		return reject(fmt.Sprintf("Trade amount below minimum: $%s", money(r.MinTradeAmount)), "min_trade_amount")
	}
	if amount > r.MaxTradeAmount {
		return reject(fmt.Sprintf("Trade amount exceeds maximum: $%s", money(r.MaxTradeAmount)), "max_trade_amount")
	}
	if !slices.Contains(r.AllowedTokens, sell) || !slices.Contains(r.AllowedTokens, buy) {
		return reject(fmt.Sprintf("Token not supported: %s or %s", sell, buy), "allowed_tokens")
	}
	return approve("All trading rules passed", "min_trade_amount", "max_trade_amount", "allowed_tokens")
}

func (e *Evaluator) evaluateAutomation(fields map[string]any) domain.PolicyResult {
	r := e.rules.Automation
	value := number(fields, "portfolio_value")
	strategy := text(fields, "strategy")

	if value < r.MinPortfolioValue {
		return reject(fmt.Sprintf("Portfolio value below minimum: $%s", money(r.MinPortfolioValue)), "min_portfolio_value")
	}
	if !slices.Contains(r.AllowedStrategies, strategy) {
		return reject(fmt.Sprintf("Strategy not supported: %s", strategy), "allowed_strategies")
	}
	return approve("All automation rules passed", "min_portfolio_value", "allowed_strategies")
}

func reject(reason, rule string) domain.PolicyResult {
	return domain.PolicyResult{Approved: false, Reason: reason, RulesApplied: []string{rule}, Method: MethodRules}
}

func approve(reason string, rules ...string) domain.PolicyResult {
	return domain.PolicyResult{Approved: true, Reason: reason, RulesApplied: rules, Method: MethodRules}
}

// money renders thresholds without trailing zeros or exponents.
func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// number reads a numeric field. Missing, unparsable and non-finite values
// read as 0 so every minimum threshold rejects them.
func number(fields map[string]any, key string) float64 {
	var f float64
	switch v := fields[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func text(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}
