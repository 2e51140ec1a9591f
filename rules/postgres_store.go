package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Declared order is the insertion sequence column. Rows whose JSONB cannot
// be decoded are left out of listings and reported by Malformed.
type PostgresRuleStore struct {
	db        *sql.DB
	kbID      string
	malformed map[string]error
	mu        sync.Mutex
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore for one knowledge base
func NewPostgresRuleStore(db *sql.DB, kbID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:        db,
		kbID:      kbID,
		malformed: make(map[string]error),
	}
}

const ruleColumns = `id, name, category, combinator, conditions, conclusion, active, created_at, updated_at`

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND kb_id = $2)
	`, rule.ID, s.kbID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	conditions, conclusion, err := marshalAtoms(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, kb_id, name, category, combinator, conditions, conclusion, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rule.ID, s.kbID, rule.Name, string(rule.Category), string(rule.Combinator),
		conditions, conclusion, rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND kb_id = $2
	`, id, s.kbID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// ListActive returns the active rules of a category in insertion order
func (s *PostgresRuleStore) ListActive(category Category) ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE kb_id = $1 AND category = $2 AND active = true
		ORDER BY seq ASC
	`, s.kbID, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	return s.scanRules(rows)
}

// List returns every rule of the knowledge base in insertion order
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE kb_id = $1
		ORDER BY seq ASC
	`, s.kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return s.scanRules(rows)
}

// Malformed returns the rows skipped by the latest listings, keyed by rule id
func (s *PostgresRuleStore) Malformed() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]error, len(s.malformed))
	for id, err := range s.malformed {
		out[id] = err
	}
	return out
}

// Update modifies an existing rule; its sequence position is unchanged
func (s *PostgresRuleStore) Update(rule *Rule) error {
	// A row that no longer decodes can still be overwritten
	existing, err := s.Get(rule.ID)
	var malformed *MalformedRuleError
	if err != nil && !errors.As(err, &malformed) {
		return err
	}

	conditions, conclusion, err := marshalAtoms(rule)
	if err != nil {
		return err
	}

	if existing != nil {
		rule.CreatedAt = existing.CreatedAt
	}
	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, category = $2, combinator = $3, conditions = $4, conclusion = $5, active = $6, updated_at = $7
		WHERE id = $8 AND kb_id = $9
	`, rule.Name, string(rule.Category), string(rule.Combinator), conditions, conclusion,
		rule.Active, rule.UpdatedAt, rule.ID, s.kbID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	s.forget(rule.ID)
	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND kb_id = $2
	`, id, s.kbID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	s.forget(id)
	return nil
}

func (s *PostgresRuleStore) forget(id string) {
	s.mu.Lock()
	delete(s.malformed, id)
	s.mu.Unlock()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r                      Rule
		category, combinator   string
		conditions, conclusion []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &category, &combinator, &conditions, &conclusion,
		&r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Category = Category(category)
	r.Combinator = Combinator(combinator)

	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, &MalformedRuleError{RuleID: r.ID, Reason: "undecodable conditions: " + err.Error()}
	}
	if err := json.Unmarshal(conclusion, &r.Conclusion); err != nil {
		return nil, &MalformedRuleError{RuleID: r.ID, Reason: "undecodable conclusion: " + err.Error()}
	}
	return &r, nil
}

// scanRules collects the decodable rows and records the others as malformed
func (s *PostgresRuleStore) scanRules(rows *sql.Rows) ([]*Rule, error) {
	var rulesList []*Rule
	skipped := make(map[string]error)
	for rows.Next() {
		r, err := scanRule(rows)
		var malformed *MalformedRuleError
		if errors.As(err, &malformed) {
			skipped[malformed.RuleID] = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	s.mu.Lock()
	for _, r := range rulesList {
		delete(s.malformed, r.ID)
	}
	for id, err := range skipped {
		s.malformed[id] = err
	}
	s.mu.Unlock()

	return rulesList, nil
}

func marshalAtoms(rule *Rule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode conditions: %w", err)
	}
	conclusion, err := json.Marshal(rule.Conclusion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode conclusion: %w", err)
	}
	return conditions, conclusion, nil
}
