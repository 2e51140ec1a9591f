package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Combinator joins the condition atoms of a rule
type Combinator string

const (
	// CombinatorNone marks a single-atom rule
	CombinatorNone Combinator = "NONE"
	CombinatorAnd  Combinator = "AND"
	CombinatorOr   Combinator = "OR"
)

// Category separates the rule sets held by an engine
type Category string

const (
	// CategoryProcess rules conclude which processes take part in a simulation
	CategoryProcess Category = "process"
	// CategoryAlgorithm rules conclude which algorithms may implement a process
	CategoryAlgorithm Category = "algorithm"
)

// SelectedRelation is the conclusion relation that selects its indicator,
// compared exactly after removing whitespace ("is selected" matches,
// "IsSelected" does not)
const SelectedRelation = "isselected"

// Atom is one condition or conclusion term of a rule.
// Variable is empty for conclusion atoms.
type Atom struct {
	Variable  string `json:"variable,omitempty" yaml:"variable,omitempty"`
	Relation  string `json:"relation" yaml:"relation"`
	Indicator string `json:"indicator" yaml:"indicator"`
}

// Selects reports whether a conclusion atom carries the isselected relation
func (a Atom) Selects() bool {
	return strings.Join(strings.Fields(a.Relation), "") == SelectedRelation
}

// Rule is one implication: a combinator over condition atoms and a single conclusion
type Rule struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Category   Category   `json:"category" yaml:"category"`
	Combinator Combinator `json:"combinator" yaml:"combinator"`
	Conditions []Atom     `json:"conditions" yaml:"conditions"`
	Conclusion Atom       `json:"conclusion" yaml:"conclusion"`
	Active     bool       `json:"active" yaml:"active"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time  `json:"updatedAt" yaml:"-"`
}

// Validate checks the structural invariants of a rule.
// It returns a *MalformedRuleError describing the first violation.
func (r *Rule) Validate() error {
	malformed := func(reason string) error {
		return &MalformedRuleError{RuleID: r.ID, Reason: reason}
	}

	if strings.TrimSpace(r.ID) == "" {
		return malformed("rule id is required")
	}

	switch r.Category {
	case CategoryProcess, CategoryAlgorithm:
	default:
		return malformed("unknown category " + string(r.Category))
	}

	if len(r.Conditions) == 0 {
		return malformed("rule has no condition atoms")
	}

	switch r.Combinator {
	case CombinatorNone:
		if len(r.Conditions) != 1 {
			return malformed("a NONE rule must carry exactly one condition")
		}
	case CombinatorAnd, CombinatorOr:
	default:
		return malformed("unknown combinator " + string(r.Combinator))
	}

	for i, atom := range r.Conditions {
		if strings.TrimSpace(atom.Variable) == "" {
			return malformed(fmt.Sprintf("condition %d has no variable", i))
		}
		if strings.TrimSpace(atom.Relation) == "" {
			return malformed(fmt.Sprintf("condition %d has no relation", i))
		}
	}

	if strings.TrimSpace(r.Conclusion.Relation) == "" {
		return malformed("conclusion has no relation")
	}
	if strings.TrimSpace(r.Conclusion.Indicator) == "" {
		return malformed("conclusion has no indicator")
	}

	return nil
}

// EvaluationResult contains the outcome of evaluating a rule against a scenario
type EvaluationResult struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Category Category `json:"category"`
	Fired    bool     `json:"fired"`
	// Conclusion is set only when the rule fired
	Conclusion *Atom `json:"conclusion,omitempty"`
	Error      error `json:"-"`
}

// ErrorMessage returns the evaluation error text, or "" when the rule evaluated cleanly
func (r *EvaluationResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// MarshalJSON renders the evaluation error as text
func (r *EvaluationResult) MarshalJSON() ([]byte, error) {
	type plain EvaluationResult
	return json.Marshal(struct {
		*plain
		Error string `json:"error,omitempty"`
	}{
		plain: (*plain)(r),
		Error: r.ErrorMessage(),
	})
}
