package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval.
// ListActive must return rules in their declared order: evaluation order,
// and therefore the order of concluded processes and algorithms, follows it.
type RuleStore interface {
	// Add a new rule at the end of its category
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// ListActive returns the active rules of one category in declared order
	ListActive(category Category) ([]*Rule, error)

	// List returns every rule, active or not, in declared order
	List() ([]*Rule, error)

	// Update an existing rule in place, keeping its position
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error
}

// MalformedReporter is implemented by stores that drop entries they cannot
// read. The engine reports those entries next to its own compile errors.
type MalformedReporter interface {
	Malformed() map[string]error
}

// InMemoryRuleStore implements RuleStore using a map plus an insertion-order index
type InMemoryRuleStore struct {
	rules     map[string]*Rule
	order     []string
	malformed map[string]error
	mu        sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules:     make(map[string]*Rule),
		malformed: make(map[string]error),
	}
}

// NewInMemoryRuleStoreFrom builds a store holding the given rules in order.
// A rule without an id is left out and reported by Malformed under its
// position ("#3"). Duplicate ids fail the whole load.
func NewInMemoryRuleStoreFrom(rules []*Rule) (*InMemoryRuleStore, error) {
	s := NewInMemoryRuleStore()
	for i, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			s.malformed[fmt.Sprintf("#%d", i+1)] = &MalformedRuleError{Reason: "rule id is required"}
			continue
		}
		if err := s.Add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Malformed returns the entries left out when the store was built
func (s *InMemoryRuleStore) Malformed() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]error, len(s.malformed))
	for id, err := range s.malformed {
		out[id] = err
	}
	return out
}

// Add adds a new rule to the store and stamps its timestamps
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	s.order = append(s.order, rule.ID)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// ListActive returns the active rules of a category in insertion order
func (s *InMemoryRuleStore) ListActive(category Category) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, id := range s.order {
		rule := s.rules[id]
		if rule.Active && rule.Category == category {
			active = append(active, rule)
		}
	}
	return active, nil
}

// List returns all rules in insertion order
func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.rules[id])
	}
	return all, nil
}

// Update replaces an existing rule, preserving CreatedAt and position
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
