package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore serves the catalog of one knowledge base from PostgreSQL.
// It implements both AlgorithmCatalog and ComponentSource.
type PostgresStore struct {
	db   DBTX
	kbID string
}

// NewPostgresStore creates a catalog store scoped to a knowledge base.
// Pass a *sql.Tx to take part in a transaction.
func NewPostgresStore(db DBTX, kbID string) *PostgresStore {
	return &PostgresStore{db: db, kbID: kbID}
}

// Algorithm returns the record of an algorithm id
func (s *PostgresStore) Algorithm(ctx context.Context, id string) (AlgorithmRecord, error) {
	var rec AlgorithmRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, short_name, process_name, component_id
		FROM algorithms
		WHERE kb_id = $1 AND id = $2
	`, s.kbID, id).Scan(&rec.ID, &rec.ShortName, &rec.ProcessName, &rec.ComponentID)

	if errors.Is(err, sql.ErrNoRows) {
		return AlgorithmRecord{}, fmt.Errorf("algorithm %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AlgorithmRecord{}, fmt.Errorf("failed to get algorithm: %w", err)
	}
	return rec, nil
}

// Algorithms returns every record in insertion order
func (s *PostgresStore) Algorithms(ctx context.Context) ([]AlgorithmRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_name, process_name, component_id
		FROM algorithms
		WHERE kb_id = $1
		ORDER BY seq ASC
	`, s.kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list algorithms: %w", err)
	}
	defer rows.Close()

	var records []AlgorithmRecord
	for rows.Next() {
		var rec AlgorithmRecord
		if err := rows.Scan(&rec.ID, &rec.ShortName, &rec.ProcessName, &rec.ComponentID); err != nil {
			return nil, fmt.Errorf("failed to scan algorithm: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating algorithms: %w", err)
	}
	return records, nil
}

// Component returns the metadata of a component id
func (s *PostgresStore) Component(ctx context.Context, id string) (ComponentMeta, error) {
	var meta ComponentMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT component_id, role, inputs, optional_inputs, outputs
		FROM components
		WHERE kb_id = $1 AND component_id = $2
	`, s.kbID, id).Scan(
		&meta.ComponentID,
		&meta.Role,
		pq.Array(&meta.Inputs),
		pq.Array(&meta.OptionalInputs),
		pq.Array(&meta.Outputs),
	)

	if errors.Is(err, sql.ErrNoRows) {
		return ComponentMeta{}, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ComponentMeta{}, fmt.Errorf("failed to get component: %w", err)
	}
	return meta, nil
}

// EdgeOverrides returns the override table. An empty table means
// DefaultEdgeOverrides unless the knowledge base opted out of them.
func (s *PostgresStore) EdgeOverrides(ctx context.Context) ([]EdgeOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT predecessor_pattern, suppressed_successor
		FROM edge_overrides
		WHERE kb_id = $1
		ORDER BY seq ASC
	`, s.kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edge overrides: %w", err)
	}
	defer rows.Close()

	var overrides []EdgeOverride
	for rows.Next() {
		var o EdgeOverride
		if err := rows.Scan(&o.PredecessorPattern, &o.SuppressedSuccessor); err != nil {
			return nil, fmt.Errorf("failed to scan edge override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge overrides: %w", err)
	}

	if len(overrides) > 0 {
		return overrides, nil
	}

	var useDefaults bool
	err = s.db.QueryRowContext(ctx, `
		SELECT default_overrides
		FROM knowledge_bases
		WHERE id = $1
	`, s.kbID).Scan(&useDefaults)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %s: %w", s.kbID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read override setting: %w", err)
	}
	if useDefaults {
		return DefaultEdgeOverrides(), nil
	}
	return []EdgeOverride{}, nil
}

// PutAlgorithm inserts or replaces an algorithm record
func (s *PostgresStore) PutAlgorithm(ctx context.Context, rec AlgorithmRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO algorithms (kb_id, id, short_name, process_name, component_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kb_id, id) DO UPDATE
		SET short_name = EXCLUDED.short_name, process_name = EXCLUDED.process_name, component_id = EXCLUDED.component_id
	`, s.kbID, rec.ID, rec.ShortName, rec.ProcessName, rec.ComponentID)
	if err != nil {
		return fmt.Errorf("failed to store algorithm %s: %w", rec.ID, err)
	}
	return nil
}

// PutComponent inserts or replaces component metadata
func (s *PostgresStore) PutComponent(ctx context.Context, meta ComponentMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO components (kb_id, component_id, role, inputs, optional_inputs, outputs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kb_id, component_id) DO UPDATE
		SET role = EXCLUDED.role, inputs = EXCLUDED.inputs,
		    optional_inputs = EXCLUDED.optional_inputs, outputs = EXCLUDED.outputs
	`, s.kbID, meta.ComponentID, meta.Role,
		pq.Array(nonNil(meta.Inputs)), pq.Array(nonNil(meta.OptionalInputs)), pq.Array(nonNil(meta.Outputs)))
	if err != nil {
		return fmt.Errorf("failed to store component %s: %w", meta.ComponentID, err)
	}
	return nil
}

// PutEdgeOverride adds an override; re-adding an existing pair is a no-op.
// Once the table holds an entry the defaults no longer apply.
func (s *PostgresStore) PutEdgeOverride(ctx context.Context, o EdgeOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edge_overrides (kb_id, predecessor_pattern, suppressed_successor)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, s.kbID, o.PredecessorPattern, o.SuppressedSuccessor)
	if err != nil {
		return fmt.Errorf("failed to store edge override: %w", err)
	}
	return nil
}

// ReplaceEdgeOverrides swaps the whole override table. An empty list leaves
// the knowledge base without overrides; nil restores DefaultEdgeOverrides.
// Run it on a *sql.Tx so readers never see a half-written table.
func (s *PostgresStore) ReplaceEdgeOverrides(ctx context.Context, overrides []EdgeOverride) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edge_overrides WHERE kb_id = $1`, s.kbID); err != nil {
		return fmt.Errorf("failed to clear edge overrides: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_bases
		SET default_overrides = $1, updated_at = NOW()
		WHERE id = $2
	`, overrides == nil, s.kbID); err != nil {
		return fmt.Errorf("failed to store override setting: %w", err)
	}
	for _, o := range overrides {
		if err := s.PutEdgeOverride(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
