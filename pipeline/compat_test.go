package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrokb/resolver/catalog"
)

func metaSet(metas ...catalog.ComponentMeta) map[string]catalog.ComponentMeta {
	out := make(map[string]catalog.ComponentMeta, len(metas))
	for _, m := range metas {
		out[m.ComponentID] = m
	}
	return out
}

func TestCheckMissingInput(t *testing.T) {
	metas := metaSet(
		catalog.ComponentMeta{ComponentID: "X", Inputs: []string{"P", "R"}, Outputs: []string{"Q"}},
		catalog.ComponentMeta{ComponentID: "Y", Inputs: []string{"Q"}, Outputs: []string{"S"}},
	)

	err := NewChecker([]string{"P"}, nil).Check([]string{"X", "Y"}, metas)
	var ie *IncompatibleGroupError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "X", ie.Component)
	assert.Equal(t, "R", ie.Input)

	assert.NoError(t, NewChecker([]string{"P", "R"}, nil).Check([]string{"X", "Y"}, metas))
}

func TestCheckProducedByGroup(t *testing.T) {
	metas := metaSet(
		catalog.ComponentMeta{ComponentID: "B", Inputs: []string{"NetP"}, Outputs: []string{"SURQ"}},
		catalog.ComponentMeta{ComponentID: "A", Inputs: []string{"P"}, Outputs: []string{"NetP"}},
	)
	assert.NoError(t, NewChecker([]string{"P"}, nil).Check([]string{"B", "A"}, metas),
		"producer position in the group does not matter")
}

func TestCheckExemptComponents(t *testing.T) {
	metas := metaSet(
		catalog.ComponentMeta{ComponentID: "TSD_RD", Inputs: []string{"station_file"}, Outputs: []string{"P"}},
		catalog.ComponentMeta{ComponentID: "GRID", Role: " Interpolator ", Inputs: []string{"stations"}, Outputs: []string{"T"}},
		catalog.ComponentMeta{ComponentID: "RUN", Inputs: []string{"P", "T"}, Outputs: []string{"Q"}},
	)

	checker := NewChecker(nil, DefaultExemptComponents)
	assert.NoError(t, checker.Check([]string{"TSD_RD", "GRID", "RUN"}, metas))

	err := NewChecker(nil, nil).Check([]string{"TSD_RD", "RUN"}, metas)
	var ie *IncompatibleGroupError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "TSD_RD", ie.Component)
}

func TestCheckOptionalInputsIgnored(t *testing.T) {
	metas := metaSet(
		catalog.ComponentMeta{ComponentID: "SUR", Inputs: []string{"NetP"}, OptionalInputs: []string{"DepStorage"}, Outputs: []string{"SURQ"}},
	)
	assert.NoError(t, NewChecker([]string{"NetP"}, nil).Check([]string{"SUR"}, metas))
}

func TestCheckMissingMetadata(t *testing.T) {
	err := NewChecker(nil, nil).Check([]string{"GHOST"}, metaSet())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
