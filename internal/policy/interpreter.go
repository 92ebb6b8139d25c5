package policy

import (
	"errors"
	"fmt"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Interpreter is an optional rule engine for credit and RWA requests.
// Any error makes the Evaluator fall back to the fixed tables.
type Interpreter interface {
	EvaluateCredit(amount, collateralValue float64) (domain.PolicyResult, error)
	EvaluateRWA(propertyValue float64, location, propertyType string) (domain.PolicyResult, error)
}

// ErrNoExpressions is returned when a category has no configured expressions.
var ErrNoExpressions = errors.New("no expressions configured")

type compiledExpr struct {
	name    string
	reason  string
	program *vm.Program
}

// ExprInterpreter evaluates the named expressions of Rules.Expressions in
// order and rejects at the first one that is false.
type ExprInterpreter struct {
	credit []compiledExpr
	rwa    []compiledExpr
}

// NewExprInterpreter compiles the expressions. Compilation errors are
// returned so a broken rule file fails at startup.
func NewExprInterpreter(exprs Expressions) (*ExprInterpreter, error) {
	credit, err := compileAll(exprs.Credit, map[string]any{
		"amount":           0.0,
		"collateral_value": 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("credit expressions: %w", err)
	}
	rwa, err := compileAll(exprs.RWA, map[string]any{
		"property_value": 0.0,
		"location":       "",
		"property_type":  "",
	})
	if err != nil {
		return nil, fmt.Errorf("rwa expressions: %w", err)
	}
	return &ExprInterpreter{credit: credit, rwa: rwa}, nil
}

func compileAll(exprs []NamedExpr, env map[string]any) ([]compiledExpr, error) {
	out := make([]compiledExpr, 0, len(exprs))
	for _, e := range exprs {
		program, err := expr.Compile(e.Expr, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", e.Name, err)
		}
		reason := e.Reason
		if reason == "" {
			reason = "Rule failed: " + e.Name
		}
		out = append(out, compiledExpr{name: e.Name, reason: reason, program: program})
	}
	return out, nil
}

// EvaluateCredit runs the credit expressions.
func (i *ExprInterpreter) EvaluateCredit(amount, collateralValue float64) (domain.PolicyResult, error) {
	return run(i.credit, map[string]any{
		"amount":           amount,
		"collateral_value": collateralValue,
	}, "All credit rules passed")
}

// EvaluateRWA runs the RWA expressions.
func (i *ExprInterpreter) EvaluateRWA(propertyValue float64, location, propertyType string) (domain.PolicyResult, error) {
	return run(i.rwa, map[string]any{
		"property_value": propertyValue,
		"location":       location,
		"property_type":  propertyType,
	}, "All RWA rules passed")
}

func run(programs []compiledExpr, env map[string]any, passed string) (domain.PolicyResult, error) {
	if len(programs) == 0 {
		return domain.PolicyResult{}, ErrNoExpressions
	}

	names := make([]string, 0, len(programs))
	for _, p := range programs {
		out, err := expr.Run(p.program, env)
		if err != nil {
			return domain.PolicyResult{}, fmt.Errorf("run %s: %w", p.name, err)
		}
		ok, isBool := out.(bool)
		if !isBool {
			return domain.PolicyResult{}, fmt.Errorf("run %s: result is %T, not bool", p.name, out)
		}
		if !ok {
			return domain.PolicyResult{
				Approved:     false,
				Reason:       p.reason,
				RulesApplied: []string{p.name},
			}, nil
		}
		names = append(names, p.name)
	}
	return domain.PolicyResult{Approved: true, Reason: passed, RulesApplied: names}, nil
}
