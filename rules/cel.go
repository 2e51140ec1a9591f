package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds the work of a single indicator expression
const expressionCostLimit = 1000000

// ExpressionRelation backs the "satisfies" relation: the indicator is a CEL
// boolean expression over the scenario value. Two variables are declared:
//
//	value  string        the raw condition value
//	values list(string)  the value split on "," and trimmed
//
// Programs are compiled once per distinct expression and shared.
type ExpressionRelation struct {
	env      *cel.Env
	programs map[string]cel.Program // expression -> compiled program
	mu       sync.RWMutex
}

// NewExpressionRelation creates the CEL environment for indicator expressions
func NewExpressionRelation() (*ExpressionRelation, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.StringType),
		cel.Variable("values", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionRelation{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile type-checks an expression and caches its program
func (r *ExpressionRelation) Compile(expression string) (cel.Program, error) {
	r.mu.RLock()
	prog, ok := r.programs[expression]
	r.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := r.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(expressionCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	r.mu.Lock()
	r.programs[expression] = prog
	r.mu.Unlock()

	return prog, nil
}

// Apply evaluates the indicator expression against value.
// Non-boolean results count as false.
func (r *ExpressionRelation) Apply(value, indicator string) (bool, error) {
	prog, err := r.Compile(indicator)
	if err != nil {
		return false, &RelationError{Relation: RelSatisfies, Value: value, Indicator: indicator, Err: err}
	}

	out, _, err := prog.Eval(map[string]any{
		"value":  value,
		"values": Tokenize(value),
	})
	if err != nil {
		return false, &RelationError{Relation: RelSatisfies, Value: value, Indicator: indicator, Err: err}
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// Len returns the number of cached programs
func (r *ExpressionRelation) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}
