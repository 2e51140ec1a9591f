package catalog

import (
	"context"
	"fmt"
	"sync"
)

// AlgorithmCatalog resolves algorithm ids to their process and component
type AlgorithmCatalog interface {
	Algorithm(ctx context.Context, id string) (AlgorithmRecord, error)
	// Algorithms returns every record in declared order
	Algorithms(ctx context.Context) ([]AlgorithmRecord, error)
}

// ComponentSource loads component metadata and the edge override table
type ComponentSource interface {
	Component(ctx context.Context, id string) (ComponentMeta, error)
	EdgeOverrides(ctx context.Context) ([]EdgeOverride, error)
}

// AlgorithmTable is an immutable id -> record index built once per load
type AlgorithmTable struct {
	byID  map[string]AlgorithmRecord
	order []string
}

// NewAlgorithmTable indexes records, rejecting invalid and duplicate entries
func NewAlgorithmTable(records []AlgorithmRecord) (*AlgorithmTable, error) {
	t := &AlgorithmTable{byID: make(map[string]AlgorithmRecord, len(records))}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.byID[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate algorithm %s", rec.ID)
		}
		t.byID[rec.ID] = rec
		t.order = append(t.order, rec.ID)
	}
	return t, nil
}

// LoadAlgorithmTable reads every record of a catalog into a table
func LoadAlgorithmTable(ctx context.Context, c AlgorithmCatalog) (*AlgorithmTable, error) {
	records, err := c.Algorithms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load algorithms: %w", err)
	}
	return NewAlgorithmTable(records)
}

// Lookup returns the record of an algorithm
func (t *AlgorithmTable) Lookup(id string) (AlgorithmRecord, bool) {
	rec, ok := t.byID[id]
	return rec, ok
}

// ProcessOf returns the process an algorithm implements
func (t *AlgorithmTable) ProcessOf(id string) (string, bool) {
	rec, ok := t.byID[id]
	return rec.ProcessName, ok
}

// Records returns the records in declared order
func (t *AlgorithmTable) Records() []AlgorithmRecord {
	out := make([]AlgorithmRecord, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Len returns the number of algorithms
func (t *AlgorithmTable) Len() int {
	return len(t.order)
}

// InMemoryStore serves algorithms, components and overrides from memory.
// It implements both AlgorithmCatalog and ComponentSource.
type InMemoryStore struct {
	algorithms *AlgorithmTable
	components map[string]ComponentMeta
	overrides  []EdgeOverride
	mu         sync.RWMutex
}

// NewInMemoryStore validates and indexes the given entries.
// A nil overrides slice selects DefaultEdgeOverrides.
func NewInMemoryStore(algorithms []AlgorithmRecord, components []ComponentMeta, overrides []EdgeOverride) (*InMemoryStore, error) {
	table, err := NewAlgorithmTable(algorithms)
	if err != nil {
		return nil, err
	}

	s := &InMemoryStore{
		algorithms: table,
		components: make(map[string]ComponentMeta, len(components)),
		overrides:  overrides,
	}
	for _, c := range components {
		if err := s.PutComponent(c); err != nil {
			return nil, err
		}
	}
	if s.overrides == nil {
		s.overrides = DefaultEdgeOverrides()
	}
	return s, nil
}

// Algorithm returns the record of an algorithm id
func (s *InMemoryStore) Algorithm(_ context.Context, id string) (AlgorithmRecord, error) {
	rec, ok := s.algorithms.Lookup(id)
	if !ok {
		return AlgorithmRecord{}, fmt.Errorf("algorithm %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Algorithms returns every record in declared order
func (s *InMemoryStore) Algorithms(_ context.Context) ([]AlgorithmRecord, error) {
	return s.algorithms.Records(), nil
}

// Component returns the metadata of a component id
func (s *InMemoryStore) Component(_ context.Context, id string) (ComponentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.components[id]
	if !ok {
		return ComponentMeta{}, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	return meta, nil
}

// PutComponent adds or replaces component metadata
func (s *InMemoryStore) PutComponent(meta ComponentMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[meta.ComponentID] = meta
	return nil
}

// EdgeOverrides returns a copy of the override table
func (s *InMemoryStore) EdgeOverrides(_ context.Context) ([]EdgeOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EdgeOverride, len(s.overrides))
	copy(out, s.overrides)
	return out, nil
}
