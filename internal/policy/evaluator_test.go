package policy

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ashureev/cypherguy/internal/domain"
)

func TestEvaluate_CreditBounds(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)
	tests := []struct {
		amount   float64
		approved bool
		rule     string
		reason   string
	}{
		{99.99, false, "min_amount", "Amount below minimum: $100"},
		{100, true, "", "All credit rules passed"},
		{50000, true, "", "All credit rules passed"},
		{100000, true, "", "All credit rules passed"},
		{100000.01, false, "max_amount", "Amount exceeds maximum: $100000"},
	}

	for _, tt := range tests {
		res := e.Evaluate(domain.CategoryCredit, map[string]any{"amount": tt.amount, "collateral_value": 0.0})
		if res.Approved != tt.approved {
			t.Errorf("amount %v: expected approved=%v, got %v", tt.amount, tt.approved, res.Approved)
		}
		if res.Reason != tt.reason {
			t.Errorf("amount %v: expected reason %q, got %q", tt.amount, tt.reason, res.Reason)
		}
		if !tt.approved && !reflect.DeepEqual(res.RulesApplied, []string{tt.rule}) {
			t.Errorf("amount %v: expected only %s applied, got %v", tt.amount, tt.rule, res.RulesApplied)
		}
		if tt.approved && !reflect.DeepEqual(res.RulesApplied, []string{"min_amount", "max_amount", "min_collateral_ratio"}) {
			t.Errorf("amount %v: expected full rule list, got %v", tt.amount, res.RulesApplied)
		}
	}
}

func TestEvaluate_CollateralRatio(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)

	res := e.Evaluate(domain.CategoryCredit, map[string]any{"amount": 1000.0, "collateral_value": 1200.0})
	if res.Approved {
		t.Fatal("Expected rejection for ratio 1.2")
	}
	if res.Reason != "Insufficient collateral ratio: 1.20x (min: 1.5x)" {
		t.Errorf("Unexpected reason %q", res.Reason)
	}

	res = e.Evaluate(domain.CategoryCredit, map[string]any{"amount": 1000.0, "collateral_value": 1500.0})
	if !res.Approved {
		t.Errorf("Expected approval for ratio 1.5, got %q", res.Reason)
	}
}

func TestEvaluate_RWA(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)
	tests := []struct {
		name     string
		fields   map[string]any
		approved bool
		reason   string
	}{
		{"below minimum wins", map[string]any{"property_value": 10000.0, "location": "Mars", "property_type": "Castle"}, false, "Property value below minimum: $50000"},
		{"location substring", map[string]any{"property_value": 60000.0, "location": "Austin, Texas", "property_type": "Residential"}, true, "All RWA rules passed"},
		{"location unsupported", map[string]any{"property_value": 60000.0, "location": "Paris", "property_type": "Residential"}, false, "Location not supported: Paris"},
		{"type exact match", map[string]any{"property_value": 60000.0, "location": "USA", "property_type": "residential"}, false, "Property type not supported: residential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Evaluate(domain.CategoryRWA, tt.fields)
			if res.Approved != tt.approved || res.Reason != tt.reason {
				t.Errorf("Expected (%v, %q), got (%v, %q)", tt.approved, tt.reason, res.Approved, res.Reason)
			}
		})
	}
}

func TestEvaluate_TradeBoundaries(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)
	tests := []struct {
		amount   float64
		approved bool
	}{
		{10, true},
		{9.999, false},
		{1000000, true},
		{1000000.01, false},
	}
	for _, tt := range tests {
		res := e.Evaluate(domain.CategoryTrade, map[string]any{"sell_amount": tt.amount, "sell_token": "SOL", "buy_token": "USDC"})
		if res.Approved != tt.approved {
			t.Errorf("sell_amount %v: expected approved=%v, got %v (%s)", tt.amount, tt.approved, res.Approved, res.Reason)
		}
	}

	res := e.Evaluate(domain.CategoryTrade, map[string]any{"sell_amount": 100.0, "sell_token": "SOL", "buy_token": "DOGE"})
	if res.Approved || res.Reason != "Token not supported: SOL or DOGE" {
		t.Errorf("Expected token rejection, got %+v", res)
	}
}

func TestEvaluate_NonFiniteAmountsRejected(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)
	tests := []struct {
		name     string
		category domain.Category
		fields   map[string]any
		rule     string
	}{
		{"credit NaN string", domain.CategoryCredit, map[string]any{"amount": "NaN"}, "min_amount"},
		{"credit Inf string", domain.CategoryCredit, map[string]any{"amount": "+Inf"}, "min_amount"},
		{"credit NaN float", domain.CategoryCredit, map[string]any{"amount": math.NaN()}, "min_amount"},
		{"trade NaN", domain.CategoryTrade, map[string]any{"sell_amount": "NaN", "sell_token": "SOL", "buy_token": "USDC"}, "min_trade_amount"},
		{"rwa NaN", domain.CategoryRWA, map[string]any{"property_value": "NaN", "location": "New York", "property_type": "Residential"}, "min_property_value"},
		{"automation Inf", domain.CategoryAutomation, map[string]any{"portfolio_value": math.Inf(1), "strategy": "hedging"}, "min_portfolio_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Evaluate(tt.category, tt.fields)
			if res.Approved {
				t.Fatalf("Expected rejection, got %+v", res)
			}
			if !reflect.DeepEqual(res.RulesApplied, []string{tt.rule}) {
				t.Errorf("Expected %s to reject, got %v", tt.rule, res.RulesApplied)
			}
		})
	}
}

func TestEvaluate_Automation(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)

	res := e.Evaluate(domain.CategoryAutomation, map[string]any{"portfolio_value": 999.0, "strategy": "hedging"})
	if res.Approved || res.Reason != "Portfolio value below minimum: $1000" {
		t.Errorf("Expected portfolio rejection, got %+v", res)
	}
	res = e.Evaluate(domain.CategoryAutomation, map[string]any{"portfolio_value": 5000.0, "strategy": "moonshot"})
	if res.Approved || res.Reason != "Strategy not supported: moonshot" {
		t.Errorf("Expected strategy rejection, got %+v", res)
	}
	res = e.Evaluate(domain.CategoryAutomation, map[string]any{"portfolio_value": 5000.0, "strategy": "yield_farming"})
	if !res.Approved || len(res.RulesApplied) != 2 {
		t.Errorf("Expected approval with 2 rules, got %+v", res)
	}
}

func TestEvaluate_UnknownCategory(t *testing.T) {
	res := NewEvaluator(DefaultRules(), nil).Evaluate(domain.Category("lottery"), map[string]any{})
	if res.Approved {
		t.Fatal("Expected rejection")
	}
	if res.Reason != "Unknown request type: lottery" {
		t.Errorf("Unexpected reason %q", res.Reason)
	}
	if len(res.RulesApplied) != 0 {
		t.Errorf("Expected no rules, got %v", res.RulesApplied)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := NewEvaluator(DefaultRules(), nil)
	fields := map[string]any{"amount": 2500.0, "collateral_value": 3000.0}
	first := e.Evaluate(domain.CategoryCredit, fields)
	for i := 0; i < 5; i++ {
		if got := e.Evaluate(domain.CategoryCredit, fields); !reflect.DeepEqual(got, first) {
			t.Fatalf("Expected identical results, got %+v vs %+v", got, first)
		}
	}
}

type stubInterpreter struct {
	result domain.PolicyResult
	err    error
	panics bool
}

func (s stubInterpreter) EvaluateCredit(float64, float64) (domain.PolicyResult, error) {
	if s.panics {
		panic("interpreter exploded")
	}
	return s.result, s.err
}

func (s stubInterpreter) EvaluateRWA(float64, string, string) (domain.PolicyResult, error) {
	return s.result, s.err
}

func TestEvaluate_InterpreterUsedForCreditAndRWA(t *testing.T) {
	e := NewEvaluator(DefaultRules(), stubInterpreter{result: domain.PolicyResult{Approved: false, Reason: "custom"}})

	res := e.Evaluate(domain.CategoryCredit, map[string]any{"amount": 1000.0})
	if res.Reason != "custom" || res.Method != MethodInterpreter {
		t.Errorf("Expected interpreter result, got %+v", res)
	}
	res = e.Evaluate(domain.CategoryTrade, map[string]any{"sell_amount": 100.0, "sell_token": "SOL", "buy_token": "USDC"})
	if !res.Approved || res.Method != MethodRules {
		t.Errorf("Expected fixed tables for trade, got %+v", res)
	}
}

func TestEvaluate_InterpreterFailureFallsBack(t *testing.T) {
	for name, interp := range map[string]Interpreter{
		"error": stubInterpreter{err: errors.New("engine down")},
		"panic": stubInterpreter{panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			res := NewEvaluator(DefaultRules(), interp).Evaluate(domain.CategoryCredit, map[string]any{"amount": 1000.0})
			if !res.Approved || res.Method != MethodRules {
				t.Errorf("Expected fixed-table approval, got %+v", res)
			}
		})
	}
}
