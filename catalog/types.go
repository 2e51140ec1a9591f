package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an algorithm or component id is unknown
var ErrNotFound = errors.New("not found")

// Roles of raw data source components. Their inputs come from outside the
// model, so they are exempt from the compatibility check.
const (
	RoleTimeSeriesReader = "time-series reader"
	RoleInterpolator     = "interpolator"
)

// AlgorithmRecord binds an algorithm to the process it implements and the
// component that carries it
type AlgorithmRecord struct {
	ID          string `json:"id" yaml:"id"`
	ShortName   string `json:"shortName" yaml:"shortName"`
	ProcessName string `json:"processName" yaml:"processName"`
	ComponentID string `json:"componentId" yaml:"componentId"`
}

// Validate checks that every binding field is present
func (a AlgorithmRecord) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("algorithm id is required")
	case strings.TrimSpace(a.ProcessName) == "":
		return fmt.Errorf("algorithm %s has no process", a.ID)
	case strings.TrimSpace(a.ComponentID) == "":
		return fmt.Errorf("algorithm %s has no component", a.ID)
	}
	return nil
}

// ComponentMeta lists the data a component consumes and produces
type ComponentMeta struct {
	ComponentID    string   `json:"componentId" yaml:"componentId"`
	Role           string   `json:"role,omitempty" yaml:"role,omitempty"`
	Inputs         []string `json:"inputs" yaml:"inputs"`
	OptionalInputs []string `json:"optionalInputs,omitempty" yaml:"optionalInputs,omitempty"`
	Outputs        []string `json:"outputs" yaml:"outputs"`
}

// Validate checks the component id and rejects blank data names
func (c ComponentMeta) Validate() error {
	if strings.TrimSpace(c.ComponentID) == "" {
		return fmt.Errorf("component id is required")
	}
	for _, list := range [][]string{c.Inputs, c.OptionalInputs, c.Outputs} {
		for _, name := range list {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("component %s lists an empty data name", c.ComponentID)
			}
		}
	}
	return nil
}

// IsRawDataSource reports whether the component reads external data by role
func (c ComponentMeta) IsRawDataSource() bool {
	switch strings.ToLower(strings.TrimSpace(c.Role)) {
	case RoleTimeSeriesReader, RoleInterpolator:
		return true
	}
	return false
}

// EdgeOverride suppresses the producer->consumer edge from any component
// whose id contains PredecessorPattern to SuppressedSuccessor
type EdgeOverride struct {
	PredecessorPattern  string `json:"predecessorPattern" yaml:"predecessorPattern"`
	SuppressedSuccessor string `json:"suppressedSuccessor" yaml:"suppressedSuccessor"`
}

// Matches reports whether the override applies to the edge from -> to
func (o EdgeOverride) Matches(from, to string) bool {
	return o.PredecessorPattern != "" && strings.Contains(from, o.PredecessorPattern) && to == o.SuppressedSuccessor
}

// DefaultEdgeOverrides returns the suppressed edges of the reference
// component library, used when a knowledge base declares none
func DefaultEdgeOverrides() []EdgeOverride {
	return []EdgeOverride{
		{PredecessorPattern: "DEP_LINSLEY", SuppressedSuccessor: "SUR_MR"},
		{PredecessorPattern: "DEP_LINSLEY", SuppressedSuccessor: "SUR_CN"},
		{PredecessorPattern: "DEP_FS", SuppressedSuccessor: "SUR_SGA"},
	}
}
