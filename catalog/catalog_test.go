package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlgorithmTable(t *testing.T) {
	table, err := NewAlgorithmTable([]AlgorithmRecord{
		{ID: "C1", ShortName: "one", ProcessName: "Interception", ComponentID: "C1"},
		{ID: "R1", ProcessName: "Runoff", ComponentID: "COMP_R1"},
	})
	require.NoError(t, err)

	process, ok := table.ProcessOf("R1")
	assert.True(t, ok)
	assert.Equal(t, "Runoff", process)

	_, ok = table.ProcessOf("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, "C1", table.Records()[0].ID)
}

func TestNewAlgorithmTableRejectsBadRecords(t *testing.T) {
	testCases := []struct {
		name    string
		records []AlgorithmRecord
	}{
		{"missing id", []AlgorithmRecord{{ProcessName: "P", ComponentID: "C"}}},
		{"missing process", []AlgorithmRecord{{ID: "A", ComponentID: "C"}}},
		{"missing component", []AlgorithmRecord{{ID: "A", ProcessName: "P"}}},
		{"duplicate", []AlgorithmRecord{
			{ID: "A", ProcessName: "P", ComponentID: "C"},
			{ID: "A", ProcessName: "Q", ComponentID: "D"},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAlgorithmTable(tc.records)
			assert.Error(t, err)
		})
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewInMemoryStore(
		[]AlgorithmRecord{{ID: "C1", ProcessName: "Interception", ComponentID: "C1"}},
		[]ComponentMeta{{ComponentID: "C1", Inputs: []string{"P"}, Outputs: []string{"I"}}},
		nil,
	)
	require.NoError(t, err)

	rec, err := store.Algorithm(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Interception", rec.ProcessName)

	_, err = store.Algorithm(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	meta, err := store.Component(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"I"}, meta.Outputs)

	_, err = store.Component(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	overrides, err := store.EdgeOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultEdgeOverrides(), overrides, "nil overrides select the defaults")
}

func TestInMemoryStoreExplicitEmptyOverrides(t *testing.T) {
	store, err := NewInMemoryStore(nil, nil, []EdgeOverride{})
	require.NoError(t, err)

	overrides, err := store.EdgeOverrides(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestComponentMetaValidate(t *testing.T) {
	assert.NoError(t, ComponentMeta{ComponentID: "C", Inputs: []string{"P"}}.Validate())
	assert.Error(t, ComponentMeta{}.Validate())
	assert.Error(t, ComponentMeta{ComponentID: "C", Outputs: []string{" "}}.Validate())
}

func TestComponentMetaIsRawDataSource(t *testing.T) {
	assert.True(t, ComponentMeta{Role: "time-series reader"}.IsRawDataSource())
	assert.True(t, ComponentMeta{Role: " Interpolator "}.IsRawDataSource())
	assert.False(t, ComponentMeta{Role: "runoff"}.IsRawDataSource())
	assert.False(t, ComponentMeta{}.IsRawDataSource())
}

func TestEdgeOverrideMatches(t *testing.T) {
	o := EdgeOverride{PredecessorPattern: "DEP_LINSLEY", SuppressedSuccessor: "SUR_MR"}

	assert.True(t, o.Matches("DEP_LINSLEY", "SUR_MR"))
	assert.True(t, o.Matches("DEP_LINSLEY_V2", "SUR_MR"), "pattern matches by containment")
	assert.False(t, o.Matches("DEP_LINSLEY", "SUR_CN"))
	assert.False(t, o.Matches("DEP_FS", "SUR_MR"))
	assert.False(t, EdgeOverride{SuppressedSuccessor: "SUR_MR"}.Matches("anything", "SUR_MR"))
}
