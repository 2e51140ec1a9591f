package rules

import (
	"fmt"
	"strings"
)

// ProcessLookup maps an algorithm id to the process it implements
type ProcessLookup func(algorithmID string) (process string, ok bool)

// AlgorithmSelection is the outcome of algorithm rule evaluation
type AlgorithmSelection struct {
	// ByProcess lists candidate algorithm ids per selected process in
	// firing order. Repeats are kept.
	ByProcess map[string][]string
	// Unknown lists concluded algorithm ids missing from the catalog
	Unknown []string
	// Results is the per-rule trace
	Results []*EvaluationResult
}

// Candidates returns the candidate ids of a process
func (s *AlgorithmSelection) Candidates(process string) []string {
	return s.ByProcess[process]
}

// SelectProcesses collects the processes concluded by fired isselected
// process rules. Indicators may list several processes separated by commas.
// Each process appears once, in first-firing order.
func SelectProcesses(results []*EvaluationResult) []string {
	var selected []string
	seen := make(map[string]struct{})
	for _, res := range results {
		if !res.Fired || res.Conclusion == nil || !res.Conclusion.Selects() {
			continue
		}
		for _, name := range Tokenize(res.Conclusion.Indicator) {
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			selected = append(selected, name)
		}
	}
	return selected
}

// SelectAlgorithms maps fired isselected algorithm conclusions to their
// processes and keeps those whose process is in selected
func SelectAlgorithms(results []*EvaluationResult, selected []string, lookup ProcessLookup) *AlgorithmSelection {
	inScope := make(map[string]struct{}, len(selected))
	for _, p := range selected {
		inScope[p] = struct{}{}
	}

	sel := &AlgorithmSelection{
		ByProcess: make(map[string][]string),
		Results:   results,
	}
	for _, res := range results {
		if !res.Fired || res.Conclusion == nil || !res.Conclusion.Selects() {
			continue
		}
		algID := strings.TrimSpace(res.Conclusion.Indicator)
		process, ok := lookup(algID)
		if !ok {
			sel.Unknown = append(sel.Unknown, algID)
			continue
		}
		if _, ok := inScope[process]; !ok {
			continue
		}
		sel.ByProcess[process] = append(sel.ByProcess[process], algID)
	}
	return sel
}

// InferProcesses evaluates the process rules and returns the selected processes
func (en *Engine) InferProcesses(scenario Scenario) ([]string, []*EvaluationResult, error) {
	results, err := en.EvaluateAll(CategoryProcess, scenario)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to evaluate process rules: %w", err)
	}
	return SelectProcesses(results), results, nil
}

// InferAlgorithms evaluates the algorithm rules scoped to the selected processes
func (en *Engine) InferAlgorithms(scenario Scenario, selected []string, lookup ProcessLookup) (*AlgorithmSelection, error) {
	results, err := en.EvaluateAll(CategoryAlgorithm, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate algorithm rules: %w", err)
	}
	return SelectAlgorithms(results, selected, lookup), nil
}
