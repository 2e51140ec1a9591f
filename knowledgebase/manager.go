// Package knowledgebase serves several independent knowledge bases, each a
// rule set plus the catalog it refers to, behind one resolver per base.
package knowledgebase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hydrokb/resolver/catalog"
	"github.com/hydrokb/resolver/internal/logger"
	"github.com/hydrokb/resolver/internal/metrics"
	"github.com/hydrokb/resolver/pipeline"
	"github.com/hydrokb/resolver/rules"
)

// ErrNotFound is returned for an unknown knowledge base name
var ErrNotFound = errors.New("knowledge base not found")

// ErrNoDatabase is returned by operations that need PostgreSQL when none is configured
var ErrNoDatabase = errors.New("no database configured")

// ErrInvalid wraps every rejection of caller-supplied knowledge base content
var ErrInvalid = errors.New("invalid knowledge base")

// Source tells where a knowledge base was loaded from
type Source string

const (
	SourceDatabase Source = "database"
	SourceFile     Source = "file"
)

// KnowledgeBase is one loaded rule set and catalog with its resolver
type KnowledgeBase struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Purpose   string    `json:"purpose"`
	Source    Source    `json:"source"`
	Path      string    `json:"path,omitempty"`
	LoadedAt  time.Time `json:"loadedAt"`
	RuleCount int       `json:"ruleCount"`

	Resolver *pipeline.Resolver `json:"-"`
	document *catalog.Document
}

// Engine returns the rule engine of the knowledge base
func (kb *KnowledgeBase) Engine() *rules.Engine {
	return kb.Resolver.Engine()
}

// Options configure every resolver the manager builds
type Options struct {
	Cache    rules.CacheConfig
	Resolver []pipeline.Option
}

// Manager holds the loaded knowledge bases keyed by name. Reloads build the
// replacement off to the side and swap it in under the lock.
type Manager struct {
	bases map[string]*KnowledgeBase
	db    *sql.DB
	opts  Options
	mu    sync.RWMutex

	// serializes catalog writes so concurrent edits of one base are not lost
	writeMu sync.Mutex
}

// NewManager creates a manager. db may be nil when only files are served.
func NewManager(db *sql.DB, opts Options) *Manager {
	if opts.Cache == (rules.CacheConfig{}) {
		opts.Cache = rules.DefaultCacheConfig()
	}
	return &Manager{
		bases: make(map[string]*KnowledgeBase),
		db:    db,
		opts:  opts,
	}
}

// build compiles the rules and indexes the catalog of one knowledge base
func (m *Manager) build(ctx context.Context, name string, ruleStore rules.RuleStore, cat interface {
	catalog.AlgorithmCatalog
	catalog.ComponentSource
}) (*pipeline.Resolver, int, error) {
	engine, err := rules.NewEngine(ruleStore, rules.WithCache(rules.NewInMemoryRulesCache(m.opts.Cache)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create engine: %w", err)
	}
	for id, cerr := range engine.CompileErrors() {
		logger.Warn("rule skipped", "kb", name, "rule", id, "error", cerr)
	}

	table, err := catalog.LoadAlgorithmTable(ctx, cat)
	if err != nil {
		return nil, 0, err
	}

	all, err := ruleStore.List()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	opts := append([]pipeline.Option{pipeline.WithName(name)}, m.opts.Resolver...)
	return pipeline.NewResolver(engine, table, catalog.NewMetaCache(cat), opts...), len(all), nil
}

func (m *Manager) fromDocument(ctx context.Context, doc *catalog.Document, path string) (*KnowledgeBase, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ruleStore, err := doc.RuleStore()
	if err != nil {
		return nil, err
	}
	store, err := doc.Store()
	if err != nil {
		return nil, err
	}
	resolver, count, err := m.build(ctx, doc.Name, ruleStore, store)
	if err != nil {
		return nil, err
	}
	return &KnowledgeBase{
		ID:        doc.Name,
		Name:      doc.Name,
		Purpose:   doc.Purpose,
		Source:    SourceFile,
		Path:      path,
		LoadedAt:  time.Now(),
		RuleCount: count,
		Resolver:  resolver,
		document:  doc,
	}, nil
}

func (m *Manager) fromDatabase(ctx context.Context, id, name, purpose string) (*KnowledgeBase, error) {
	resolver, count, err := m.build(ctx, name,
		rules.NewPostgresRuleStore(m.db, id),
		catalog.NewPostgresStore(m.db, id))
	if err != nil {
		return nil, err
	}
	return &KnowledgeBase{
		ID:        id,
		Name:      name,
		Purpose:   purpose,
		Source:    SourceDatabase,
		LoadedAt:  time.Now(),
		RuleCount: count,
		Resolver:  resolver,
	}, nil
}

func (m *Manager) put(kb *KnowledgeBase) {
	m.mu.Lock()
	m.bases[kb.Name] = kb
	n := len(m.bases)
	m.mu.Unlock()
	metrics.SetKnowledgeBases(n)
}

// LoadAll loads every knowledge base stored in the database. A base that
// fails to build is logged and skipped; only a failed listing is returned.
func (m *Manager) LoadAll(ctx context.Context) error {
	if m.db == nil {
		return ErrNoDatabase
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, purpose
		FROM knowledge_bases
		ORDER BY name ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch knowledge bases: %w", err)
	}

	type row struct{ id, name, purpose string }
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name, &r.purpose); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan knowledge base row: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating knowledge base rows: %w", err)
	}
	rows.Close()

	loaded := 0
	for _, r := range found {
		kb, err := m.fromDatabase(ctx, r.id, r.name, r.purpose)
		if err != nil {
			logger.Error("knowledge base skipped", "kb", r.name, "id", r.id, "error", err)
			continue
		}
		m.put(kb)
		loaded++
	}

	logger.Info("knowledge bases loaded", "count", loaded, "skipped", len(found)-loaded)
	return nil
}

// Register serves a parsed document. path is kept for Reload and may be empty.
func (m *Manager) Register(ctx context.Context, doc *catalog.Document, path string) (*KnowledgeBase, error) {
	kb, err := m.fromDocument(ctx, doc, path)
	if err != nil {
		return nil, err
	}
	m.put(kb)
	logger.Info("knowledge base registered", "kb", kb.Name, "rules", kb.RuleCount, "path", path)
	return kb, nil
}

// RegisterFile loads and serves a YAML knowledge base file
func (m *Manager) RegisterFile(ctx context.Context, path string) (*KnowledgeBase, error) {
	doc, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return m.Register(ctx, doc, path)
}

// Create stores an empty knowledge base and loads it
func (m *Manager) Create(ctx context.Context, name, purpose string) (*KnowledgeBase, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if m.db == nil {
		return m.Register(ctx, &catalog.Document{Name: name, Purpose: purpose}, "")
	}

	var id string
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO knowledge_bases (name, purpose)
		VALUES ($1, $2)
		RETURNING id
	`, name, purpose).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}

	kb, err := m.fromDatabase(ctx, id, name, purpose)
	if err != nil {
		return nil, err
	}
	m.put(kb)
	return kb, nil
}

// Import writes a document to the database in one transaction and loads it
func (m *Manager) Import(ctx context.Context, doc *catalog.Document) (*KnowledgeBase, error) {
	if m.db == nil {
		return nil, ErrNoDatabase
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO knowledge_bases (name, purpose, default_overrides)
		VALUES ($1, $2, $3)
		RETURNING id
	`, doc.Name, doc.Purpose, doc.EdgeOverrides == nil).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}

	for i, r := range doc.Rules {
		if strings.TrimSpace(r.ID) == "" {
			logger.Warn("rule without id not imported", "kb", doc.Name, "position", i+1)
			continue
		}
		conditions, err := json.Marshal(r.Conditions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode conditions of rule %s: %w", r.ID, err)
		}
		conclusion, err := json.Marshal(r.Conclusion)
		if err != nil {
			return nil, fmt.Errorf("failed to encode conclusion of rule %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rules (kb_id, id, name, category, combinator, conditions, conclusion, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, r.ID, r.Name, string(r.Category), string(r.Combinator), conditions, conclusion, r.Active); err != nil {
			return nil, fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
		}
	}

	store := catalog.NewPostgresStore(tx, id)
	for _, c := range doc.Components {
		if err := store.PutComponent(ctx, c); err != nil {
			return nil, err
		}
	}
	for _, a := range doc.Algorithms {
		if err := store.PutAlgorithm(ctx, a); err != nil {
			return nil, err
		}
	}
	for _, o := range doc.EdgeOverrides {
		if err := store.PutEdgeOverride(ctx, o); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit knowledge base: %w", err)
	}

	kb, err := m.fromDatabase(ctx, id, doc.Name, doc.Purpose)
	if err != nil {
		return nil, err
	}
	m.put(kb)
	logger.Info("knowledge base imported", "kb", kb.Name, "id", id, "rules", len(doc.Rules))
	return kb, nil
}

// Get returns a loaded knowledge base
func (m *Manager) Get(name string) (*KnowledgeBase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kb, exists := m.bases[name]
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return kb, nil
}

// Resolver returns the resolver of a loaded knowledge base
func (m *Manager) Resolver(name string) (*pipeline.Resolver, error) {
	kb, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return kb.Resolver, nil
}

// Reload rebuilds a knowledge base from its source and swaps it in.
// Requests already running keep the resolver they started with.
func (m *Manager) Reload(ctx context.Context, name string) (*KnowledgeBase, error) {
	current, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	var next *KnowledgeBase
	switch {
	case current.Source == SourceDatabase:
		next, err = m.fromDatabase(ctx, current.ID, current.Name, current.Purpose)
	case current.Path != "":
		var doc *catalog.Document
		doc, err = catalog.LoadFile(current.Path)
		if err == nil {
			if doc.Name != current.Name {
				err = fmt.Errorf("file %s now names knowledge base %q, expected %q", current.Path, doc.Name, current.Name)
			} else {
				next, err = m.fromDocument(ctx, doc, current.Path)
			}
		}
	default:
		var doc *catalog.Document
		doc, err = snapshot(current)
		if err == nil {
			next, err = m.fromDocument(ctx, doc, "")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reload knowledge base %s: %w", name, err)
	}

	m.put(next)
	logger.Info("knowledge base reloaded", "kb", name, "rules", next.RuleCount)
	return next, nil
}

// List returns the loaded knowledge bases sorted by name
func (m *Manager) List() []*KnowledgeBase {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*KnowledgeBase, 0, len(m.bases))
	for _, kb := range m.bases {
		out = append(out, kb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete unloads a knowledge base. Database-backed bases are removed from
// the database as well; their rules and catalog go with them.
func (m *Manager) Delete(ctx context.Context, name string) error {
	kb, err := m.Get(name)
	if err != nil {
		return err
	}

	if kb.Source == SourceDatabase && m.db != nil {
		if _, err := m.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, kb.ID); err != nil {
			return fmt.Errorf("failed to delete knowledge base: %w", err)
		}
	}

	m.mu.Lock()
	delete(m.bases, name)
	n := len(m.bases)
	m.mu.Unlock()
	metrics.SetKnowledgeBases(n)
	return nil
}

// PutAlgorithm adds or replaces an algorithm binding and rebuilds the
// algorithm table. The component it names must already be in the catalog.
func (m *Manager) PutAlgorithm(ctx context.Context, name string, rec catalog.AlgorithmRecord) (*KnowledgeBase, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return m.updateCatalog(ctx, name, true,
		func(kb *KnowledgeBase) error {
			store := catalog.NewPostgresStore(m.db, kb.ID)
			_, err := store.Component(ctx, rec.ComponentID)
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("%w: algorithm %s refers to unknown component %s", ErrInvalid, rec.ID, rec.ComponentID)
			}
			if err != nil {
				return err
			}
			return store.PutAlgorithm(ctx, rec)
		},
		func(doc *catalog.Document) {
			doc.Algorithms = upsert(doc.Algorithms, rec, func(a catalog.AlgorithmRecord) bool { return a.ID == rec.ID })
		})
}

// PutComponent adds or replaces component metadata
func (m *Manager) PutComponent(ctx context.Context, name string, meta catalog.ComponentMeta) (*KnowledgeBase, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return m.updateCatalog(ctx, name, false,
		func(kb *KnowledgeBase) error {
			return catalog.NewPostgresStore(m.db, kb.ID).PutComponent(ctx, meta)
		},
		func(doc *catalog.Document) {
			doc.Components = upsert(doc.Components, meta, func(c catalog.ComponentMeta) bool { return c.ComponentID == meta.ComponentID })
		})
}

// PutEdgeOverride adds one suppressed edge. The first declared override
// replaces the default table.
func (m *Manager) PutEdgeOverride(ctx context.Context, name string, o catalog.EdgeOverride) (*KnowledgeBase, error) {
	if err := validateOverride(o); err != nil {
		return nil, err
	}
	return m.updateCatalog(ctx, name, false,
		func(kb *KnowledgeBase) error {
			return catalog.NewPostgresStore(m.db, kb.ID).PutEdgeOverride(ctx, o)
		},
		func(doc *catalog.Document) {
			if doc.EdgeOverrides == nil {
				doc.EdgeOverrides = []catalog.EdgeOverride{}
			}
			doc.EdgeOverrides = upsert(doc.EdgeOverrides, o, func(e catalog.EdgeOverride) bool { return e == o })
		})
}

// SetEdgeOverrides replaces the override table. An empty list disables
// overrides; nil goes back to the defaults.
func (m *Manager) SetEdgeOverrides(ctx context.Context, name string, overrides []catalog.EdgeOverride) (*KnowledgeBase, error) {
	for _, o := range overrides {
		if err := validateOverride(o); err != nil {
			return nil, err
		}
	}
	return m.updateCatalog(ctx, name, false,
		func(kb *KnowledgeBase) error {
			tx, err := m.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			defer tx.Rollback()

			if err := catalog.NewPostgresStore(tx, kb.ID).ReplaceEdgeOverrides(ctx, overrides); err != nil {
				return err
			}
			return tx.Commit()
		},
		func(doc *catalog.Document) {
			doc.EdgeOverrides = overrides
		})
}

// updateCatalog applies one catalog change. Database-backed bases are written
// through write, then either rebuilt or have their metadata cache dropped.
// Document-backed bases are rebuilt from a copy changed by edit, keeping the
// rules their engine holds now.
func (m *Manager) updateCatalog(ctx context.Context, name string, rebuild bool,
	write func(kb *KnowledgeBase) error, edit func(doc *catalog.Document)) (*KnowledgeBase, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	current, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	if current.Source == SourceDatabase {
		if err := write(current); err != nil {
			return nil, err
		}
		if rebuild {
			return m.Reload(ctx, name)
		}
		current.Resolver.Components().Invalidate()
		return current, nil
	}

	doc, err := snapshot(current)
	if err != nil {
		return nil, err
	}
	edit(doc)
	next, err := m.fromDocument(ctx, doc, current.Path)
	if err != nil {
		return nil, err
	}
	m.put(next)
	logger.Info("knowledge base catalog updated", "kb", name, "algorithms", len(doc.Algorithms), "components", len(doc.Components))
	return next, nil
}

// snapshot copies the document of a document-backed base with the rules
// currently held by its engine, so rules added through the API survive a rebuild
func snapshot(kb *KnowledgeBase) (*catalog.Document, error) {
	if kb.document == nil {
		return nil, fmt.Errorf("knowledge base %s has no document", kb.Name)
	}
	all, err := kb.Engine().AllRules()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	doc := *kb.document
	doc.Rules = make([]*rules.Rule, 0, len(all))
	for _, r := range all {
		clone := *r
		doc.Rules = append(doc.Rules, &clone)
	}
	doc.Algorithms = slices.Clone(doc.Algorithms)
	doc.Components = slices.Clone(doc.Components)
	doc.EdgeOverrides = slices.Clone(doc.EdgeOverrides)
	return &doc, nil
}

func upsert[T any](list []T, v T, same func(T) bool) []T {
	if i := slices.IndexFunc(list, same); i >= 0 {
		list[i] = v
		return list
	}
	return append(list, v)
}

func validateOverride(o catalog.EdgeOverride) error {
	if strings.TrimSpace(o.PredecessorPattern) == "" || strings.TrimSpace(o.SuppressedSuccessor) == "" {
		return fmt.Errorf("%w: edge override needs both a predecessor pattern and a suppressed successor", ErrInvalid)
	}
	return nil
}
