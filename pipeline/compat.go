package pipeline

import (
	"fmt"

	"github.com/hydrokb/resolver/catalog"
)

// DefaultExemptComponents are raw data source ids skipped by the compatibility check
var DefaultExemptComponents = []string{"TSD_RD", "ITP"}

// Checker decides whether a group of components can feed itself.
// It is immutable and safe for concurrent use.
type Checker struct {
	existing map[string]struct{}
	exempt   map[string]struct{}
}

// NewChecker builds a checker over the data already available to the
// simulation and the ids of components exempt from the check. Components
// whose role marks them as raw data sources are always exempt.
func NewChecker(existingData, exempt []string) *Checker {
	c := &Checker{
		existing: make(map[string]struct{}, len(existingData)),
		exempt:   make(map[string]struct{}, len(exempt)),
	}
	for _, d := range existingData {
		c.existing[d] = struct{}{}
	}
	for _, id := range exempt {
		c.exempt[id] = struct{}{}
	}
	return c
}

// Check verifies that every required input of every non-exempt component is
// existing data or an output of a group member. The first unsatisfied input
// is returned as *IncompatibleGroupError.
func (c *Checker) Check(componentIDs []string, metas map[string]catalog.ComponentMeta) error {
	produced := make(map[string]struct{})
	for _, id := range componentIDs {
		meta, ok := metas[id]
		if !ok {
			return fmt.Errorf("component %s: %w", id, catalog.ErrNotFound)
		}
		for _, out := range meta.Outputs {
			produced[out] = struct{}{}
		}
	}

	for _, id := range componentIDs {
		meta := metas[id]
		if c.isExempt(meta) {
			continue
		}
		for _, in := range meta.Inputs {
			if _, ok := c.existing[in]; ok {
				continue
			}
			if _, ok := produced[in]; ok {
				continue
			}
			return &IncompatibleGroupError{Component: id, Input: in}
		}
	}
	return nil
}

func (c *Checker) isExempt(meta catalog.ComponentMeta) bool {
	if _, ok := c.exempt[meta.ComponentID]; ok {
		return true
	}
	return meta.IsRawDataSource()
}
