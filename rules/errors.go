package rules

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound is returned by stores when a rule id is unknown
var ErrRuleNotFound = errors.New("rule not found")

// MalformedRuleError reports a structurally invalid rule entry.
// Loading skips the offending rule and continues.
type MalformedRuleError struct {
	RuleID string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("malformed rule %q: %s", e.RuleID, e.Reason)
}

// UnknownRelationError reports a relation name missing from the relation library
type UnknownRelationError struct {
	Relation string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("unknown relation %q", e.Relation)
}

// RelationError reports a relation that could not be evaluated for a value/indicator pair
type RelationError struct {
	Relation  string
	Value     string
	Indicator string
	Err       error
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("relation %s(%q, %q) failed: %v", e.Relation, e.Value, e.Indicator, e.Err)
}

func (e *RelationError) Unwrap() error {
	return e.Err
}
