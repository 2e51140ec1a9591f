package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProcesses is returned when no process is selected
	ErrNoProcesses = errors.New("no process selected")
	// ErrNoCompatibleGroup is returned when every candidate group fails the compatibility check
	ErrNoCompatibleGroup = errors.New("no compatible candidate group")
	// ErrNoOrderableGroup is returned when every compatible group has a dependency cycle
	ErrNoOrderableGroup = errors.New("no orderable candidate group")
)

// Stage names the resolution step that failed
type Stage string

const (
	StageRequest            Stage = "request"
	StageProcessSelection   Stage = "process-selection"
	StageAlgorithmSelection Stage = "algorithm-selection"
	StageCombination        Stage = "combination"
	StageMetadata           Stage = "metadata"
	StageCompatibility      Stage = "compatibility"
	StageOrdering           Stage = "ordering"
)

// ResolutionError is the terminal failure of a resolution
type ResolutionError struct {
	Stage Stage
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed at %s: %v", e.Stage, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NoCandidatesError reports a selected process that no algorithm rule covers
type NoCandidatesError struct {
	Process string
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no algorithm identified for process %s", e.Process)
}

// CombinationLimitError reports a Cartesian product above the configured cap
type CombinationLimitError struct {
	Count uint64
	Limit int
}

func (e *CombinationLimitError) Error() string {
	return fmt.Sprintf("%d candidate groups exceed the limit of %d", e.Count, e.Limit)
}

// IncompatibleGroupError reports the first required input nothing provides
type IncompatibleGroupError struct {
	Component string
	Input     string
}

func (e *IncompatibleGroupError) Error() string {
	return fmt.Sprintf("input %s of component %s is neither existing data nor produced by the group", e.Input, e.Component)
}

// CyclicDependencyError reports a group whose dependency graph has a cycle
type CyclicDependencyError struct {
	// Cycle lists one concrete cycle; the first component is repeated at the end
	Cycle []string
	// Unordered lists every component the sort could not place
	Unordered []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle %s (unordered: %s)",
		strings.Join(e.Cycle, " -> "), strings.Join(e.Unordered, ", "))
}
