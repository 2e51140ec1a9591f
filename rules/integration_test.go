//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hydrokb/resolver/rules"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rules_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=rules_test sslmode=disable", host, port.Port())

	// Wait for connection to be available
	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		// Try without the ../ prefix
		migrationSQL, err = os.ReadFile(filepath.Join("migrations", "000001_initial_schema.up.sql"))
		if err != nil {
			t.Fatalf("Failed to read migration file: %v", err)
		}
	}

	_, err = db.Exec(string(migrationSQL))
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}


// createKnowledgeBase inserts a knowledge base row and returns its id
func createKnowledgeBase(t *testing.T, db *sql.DB, name string) string {
	var kbID string
	err := db.QueryRow(`
		INSERT INTO knowledge_bases (name) VALUES ($1) RETURNING id
	`, name).Scan(&kbID)
	if err != nil {
		t.Fatalf("Failed to create knowledge base: %v", err)
	}
	return kbID
}

func intRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:         id,
		Name:       "interception at sub-daily steps",
		Category:   rules.CategoryProcess,
		Combinator: rules.CombinatorAnd,
		Conditions: []rules.Atom{
			{Variable: "time step", Relation: "timescale_less", Indicator: "day"},
			{Variable: "underlying surface input", Relation: "contain_input", Indicator: "LAI"},
		},
		Conclusion: rules.Atom{Relation: "isselected", Indicator: "Interception"},
		Active:     true,
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	kbID := createKnowledgeBase(t, db, "crud")
	store := rules.NewPostgresRuleStore(db, kbID)

	// Test Add
	rule := intRule("p-int")
	if err := store.Add(rule); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	// Test Get
	retrieved, err := store.Get("p-int")
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Combinator != rules.CombinatorAnd {
		t.Errorf("Expected combinator AND, got %s", retrieved.Combinator)
	}
	if len(retrieved.Conditions) != 2 || retrieved.Conditions[1].Indicator != "LAI" {
		t.Errorf("Conditions did not round-trip: %+v", retrieved.Conditions)
	}
	if retrieved.Conclusion.Indicator != "Interception" {
		t.Errorf("Expected conclusion 'Interception', got '%s'", retrieved.Conclusion.Indicator)
	}

	// Test ListActive
	activeRules, err := store.ListActive(rules.CategoryProcess)
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(activeRules) != 1 {
		t.Errorf("Expected 1 active rule, got %d", len(activeRules))
	}

	// Test Update
	rule.Name = "updated-rule"
	rule.Active = false
	if err := store.Update(rule); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}

	updated, err := store.Get("p-int")
	if err != nil {
		t.Fatalf("Failed to get updated rule: %v", err)
	}
	if updated.Name != "updated-rule" {
		t.Errorf("Expected name 'updated-rule', got '%s'", updated.Name)
	}
	if updated.Active {
		t.Error("Expected rule to be inactive after update")
	}

	activeRules, err = store.ListActive(rules.CategoryProcess)
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(activeRules) != 0 {
		t.Errorf("Expected 0 active rules, got %d", len(activeRules))
	}

	// Test Delete
	if err := store.Delete("p-int"); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get("p-int"); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound for deleted rule, got %v", err)
	}
}

func TestPostgresRuleStore_KnowledgeBaseIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	kbA := createKnowledgeBase(t, db, "upper")
	kbB := createKnowledgeBase(t, db, "lower")
	storeA := rules.NewPostgresRuleStore(db, kbA)
	storeB := rules.NewPostgresRuleStore(db, kbB)

	// The same rule id may exist in both knowledge bases
	if err := storeA.Add(intRule("p-int")); err != nil {
		t.Fatalf("Failed to add rule to A: %v", err)
	}
	ruleB := intRule("p-int")
	ruleB.Conclusion.Indicator = "Evapotranspiration"
	if err := storeB.Add(ruleB); err != nil {
		t.Fatalf("Failed to add rule to B: %v", err)
	}

	gotA, err := storeA.Get("p-int")
	if err != nil {
		t.Fatalf("Failed to get rule from A: %v", err)
	}
	if gotA.Conclusion.Indicator != "Interception" {
		t.Errorf("Knowledge base A sees rule of B: %+v", gotA.Conclusion)
	}

	if err := storeB.Delete("p-int"); err != nil {
		t.Fatalf("Failed to delete rule from B: %v", err)
	}
	if _, err := storeA.Get("p-int"); err != nil {
		t.Errorf("Deleting from B removed the rule of A: %v", err)
	}
}

func TestPostgresRuleStore_DuplicateRuleID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db, createKnowledgeBase(t, db, "dup"))

	if err := store.Add(intRule("p-int")); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}
	if err := store.Add(intRule("p-int")); err == nil {
		t.Error("Expected error when adding duplicate rule ID, got nil")
	}
}

func TestPostgresRuleStore_UpdateNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db, createKnowledgeBase(t, db, "update"))

	err := store.Update(intRule("ghost"))
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound, got %v", err)
	}
}

func TestPostgresRuleStore_DeleteNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db, createKnowledgeBase(t, db, "delete"))

	err := store.Delete("ghost")
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngine_WithDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db, createKnowledgeBase(t, db, "engine"))
	if err := store.Add(intRule("p-int")); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	engine, err := rules.NewEngine(store)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	scenario := rules.NewScenario(map[string]string{
		"time step":                "hour",
		"underlying surface input": "LAI,DEM",
	})
	processes, _, err := engine.InferProcesses(scenario)
	if err != nil {
		t.Fatalf("InferProcesses() failed: %v", err)
	}
	if len(processes) != 1 || processes[0] != "Interception" {
		t.Errorf("Expected [Interception], got %v", processes)
	}

	// Rules added through the engine are persisted and evaluated
	snow := &rules.Rule{
		ID:         "p-snow",
		Name:       "snow at altitude",
		Category:   rules.CategoryProcess,
		Combinator: rules.CombinatorNone,
		Conditions: []rules.Atom{{Variable: "elevation", Relation: "satisfies", Indicator: "double(value) > 2500.0"}},
		Conclusion: rules.Atom{Relation: "isselected", Indicator: "Snowmelt"},
		Active:     true,
	}
	if err := engine.AddRule(snow); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	scenario = rules.NewScenario(map[string]string{
		"time step":                "hour",
		"underlying surface input": "LAI",
		"elevation":                "3100",
	})
	processes, _, err = engine.InferProcesses(scenario)
	if err != nil {
		t.Fatalf("InferProcesses() failed: %v", err)
	}
	if len(processes) != 2 || processes[1] != "Snowmelt" {
		t.Errorf("Expected [Interception Snowmelt], got %v", processes)
	}

	if _, err := store.Get("p-snow"); err != nil {
		t.Errorf("Rule added through the engine was not stored: %v", err)
	}
}

func TestCascadingDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	kbID := createKnowledgeBase(t, db, "cascade")
	store := rules.NewPostgresRuleStore(db, kbID)
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		if err := store.Add(intRule(id)); err != nil {
			t.Fatalf("Failed to add rule %s: %v", id, err)
		}
	}

	if _, err := db.Exec(`DELETE FROM knowledge_bases WHERE id = $1`, kbID); err != nil {
		t.Fatalf("Failed to delete knowledge base: %v", err)
	}

	all, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected rules to be deleted with their knowledge base, got %d", len(all))
	}
}

func TestRuleOrdering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db, createKnowledgeBase(t, db, "ordering"))

	// Ids deliberately out of lexical order
	ids := []string{"z-last-id", "a-first-id", "m-middle-id"}
	for _, id := range ids {
		if err := store.Add(intRule(id)); err != nil {
			t.Fatalf("Failed to add rule %s: %v", id, err)
		}
	}

	// Updating a rule keeps its declared position
	updated := intRule("z-last-id")
	updated.Name = "renamed"
	if err := store.Update(updated); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}

	active, err := store.ListActive(rules.CategoryProcess)
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != len(ids) {
		t.Fatalf("Expected %d rules, got %d", len(ids), len(active))
	}
	for i, id := range ids {
		if active[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, active[i].ID)
		}
	}
}
