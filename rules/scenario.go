package rules

import (
	"sort"
	"strings"
)

// Scenario is the immutable condition -> value mapping a rule set is evaluated against.
// Values may be comma-separated lists.
type Scenario struct {
	values map[string]string
}

// NewScenario copies the given conditions into a new Scenario.
// Condition names are trimmed; empty names are dropped.
func NewScenario(conditions map[string]string) Scenario {
	values := make(map[string]string, len(conditions))
	for name, value := range conditions {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		values[name] = value
	}
	return Scenario{values: values}
}

// Lookup returns the value of a condition and whether it was supplied
func (s Scenario) Lookup(name string) (string, bool) {
	v, ok := s.values[strings.TrimSpace(name)]
	return v, ok
}

// Tokens returns the comma-separated tokens of a condition value, or nil if absent
func (s Scenario) Tokens(name string) []string {
	v, ok := s.Lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	return Tokenize(v)
}

// Names returns the condition names in sorted order
func (s Scenario) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of conditions
func (s Scenario) Len() int {
	return len(s.values)
}

// Tokenize splits a comma-separated list and trims each token
func Tokenize(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
