//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Run migrations
	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

func startServer(t *testing.T, db *sql.DB, port string) string {
	t.Helper()

	server, err := NewServerWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(":"+port, server); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	// Wait for server to be ready
	time.Sleep(500 * time.Millisecond)

	return "http://localhost:" + port + "/api/v1"
}

func importBasin(t *testing.T, baseURL, name string) map[string]interface{} {
	t.Helper()

	data, err := os.ReadFile("testdata/basin.yaml")
	if err != nil {
		t.Fatalf("Failed to read knowledge base file: %v", err)
	}
	doc := strings.Replace(string(data), "name: basin", "name: "+name, 1)

	req, err := http.NewRequest("POST", baseURL+"/kbs/import", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/yaml")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to import knowledge base: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Import failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result
}

func basinConditions() map[string]interface{} {
	return map[string]interface{}{
		"time step":                "day",
		"climate input":            "P,TMAX,TMIN",
		"underlying surface input": "LAI,DEM",
		"spatial scale":            "basin",
		"area":                     "50",
		"soil":                     "loam",
	}
}

func pipelineComponents(t *testing.T, resp map[string]interface{}) []string {
	t.Helper()

	p, ok := resp["pipeline"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected pipeline object, got %v", resp)
	}
	steps, ok := p["steps"].([]interface{})
	if !ok {
		t.Fatalf("Expected steps array, got %v", p)
	}

	var out []string
	for _, s := range steps {
		out = append(out, s.(map[string]interface{})["componentId"].(string))
	}
	return out
}

// TestEndToEnd_ImportAndResolve tests the complete workflow:
// 1. Import a knowledge base document
// 2. Resolve a scenario against it
// 3. Add a rule and evaluate it
// 4. Restart from the database and resolve again
func TestEndToEnd_ImportAndResolve(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startServer(t, db, "8080")

	// Step 1: Import knowledge base
	t.Log("Step 1: Importing knowledge base...")
	kbResp := importBasin(t, baseURL, "basin")
	if kbResp["source"] != "database" {
		t.Errorf("Expected database source, got %v", kbResp["source"])
	}
	if count, ok := kbResp["ruleCount"].(float64); !ok || count != 13 {
		t.Errorf("Expected 13 rules, got %v", kbResp["ruleCount"])
	}

	// Step 2: Resolve
	t.Log("Step 2: Resolving basin scenario...")
	resolveReq := map[string]interface{}{
		"kb":         "basin",
		"conditions": basinConditions(),
	}
	resolveResp := makeRequest(t, "POST", baseURL+"/resolve", resolveReq)
	want := []string{"TSD_RD", "INT_HORTON", "PET_HARGREAVES", "SUR_MR", "DEP_LINSLEY"}
	if got := pipelineComponents(t, resolveResp); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected components %v, got %v", want, got)
	}

	// Step 3: Add rule and evaluate it
	t.Log("Step 3: Adding rule...")
	createRuleReq := map[string]interface{}{
		"id":         "p-snow-forced",
		"category":   "process",
		"conditions": []map[string]string{{"variable": "snow cover", "relation": "is", "indicator": "yes"}},
		"conclusion": map[string]string{"relation": "isselected", "indicator": "Snowmelt"},
	}
	makeRequest(t, "POST", baseURL+"/kbs/basin/rules", createRuleReq)

	evaluateReq := map[string]interface{}{
		"category":   "process",
		"rules":      []string{"p-snow-forced"},
		"conditions": map[string]interface{}{"snow cover": "yes"},
	}
	evalResp := makeRequest(t, "POST", baseURL+"/kbs/basin/evaluate", evaluateReq)

	results, ok := evalResp["results"].([]interface{})
	if !ok || len(results) != 1 {
		t.Fatalf("Expected one result, got %v", evalResp)
	}
	firstResult := results[0].(map[string]interface{})
	if fired, ok := firstResult["fired"].(bool); !ok || !fired {
		t.Errorf("Expected rule to fire, got fired=%v", firstResult["fired"])
	}

	// Step 4: A fresh server sees the stored knowledge base and the new rule
	t.Log("Step 4: Reloading from database...")
	restartedURL := startServer(t, db, "8083")

	rulesResp := makeRequestNoBody(t, "GET", restartedURL+"/kbs/basin/rules")
	rules, ok := rulesResp["rules"].([]interface{})
	if !ok || len(rules) != 14 {
		t.Errorf("Expected 14 rules, got %d", len(rules))
	}

	conditions := basinConditions()
	conditions["snow cover"] = "yes"
	resolveReq["conditions"] = conditions
	resolveResp = makeRequest(t, "POST", restartedURL+"/resolve", resolveReq)
	if got := pipelineComponents(t, resolveResp); len(got) != 6 {
		t.Errorf("Expected 6 components with snowmelt, got %v", got)
	}

	t.Log("End-to-end test completed successfully!")
}

// TestEndToEnd_RuleUpdateAndReload tests that rule edits take effect and survive a reload
func TestEndToEnd_RuleUpdateAndReload(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startServer(t, db, "8081")
	importBasin(t, baseURL, "basin")

	// Deactivate the mixed runoff rule
	t.Log("Deactivating a-mr...")
	updateRuleReq := map[string]interface{}{
		"name":       "mixed runoff",
		"category":   "algorithm",
		"combinator": "NONE",
		"conditions": []map[string]string{{"variable": "area", "relation": "satisfies", "indicator": "double(value) < 1000.0"}},
		"conclusion": map[string]string{"relation": "isselected", "indicator": "SUR_MR"},
		"active":     false,
	}
	makeRequest(t, "PUT", baseURL+"/kbs/basin/rules/a-mr", updateRuleReq)

	resolveReq := map[string]interface{}{
		"kb":         "basin",
		"conditions": basinConditions(),
	}
	got := pipelineComponents(t, makeRequest(t, "POST", baseURL+"/resolve", resolveReq))
	if !strings.Contains(fmt.Sprint(got), "SUR_CN") {
		t.Errorf("Expected SUR_CN after deactivating a-mr, got %v", got)
	}

	makeRequest(t, "POST", baseURL+"/kbs/basin/reload", nil)

	got = pipelineComponents(t, makeRequest(t, "POST", baseURL+"/resolve", resolveReq))
	if !strings.Contains(fmt.Sprint(got), "SUR_CN") {
		t.Errorf("Expected SUR_CN after reload, got %v", got)
	}

	t.Log("Rule update test completed successfully!")
}

// TestEndToEnd_ImportConflict tests that a knowledge base name can't be imported twice
func TestEndToEnd_ImportConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startServer(t, db, "8082")
	importBasin(t, baseURL, "basin")

	// Try to create the same name again - should get 409 Conflict
	t.Log("Attempting to create knowledge base again (should fail)...")
	resp, err := makeHTTPRequest("POST", baseURL+"/kbs", map[string]interface{}{"name": "basin"})
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 Conflict, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	t.Logf("Conflict response: %s", string(body))

	// Deleting removes it from the database
	req, err := http.NewRequest("DELETE", baseURL+"/kbs/basin", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	delResp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("Failed to delete knowledge base: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 No Content, got %d", delResp.StatusCode)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rules: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected rules to be deleted with the knowledge base, found %d", count)
	}
}

// Helper function to make HTTP requests with JSON body
func makeRequest(t *testing.T, method, url string, body interface{}) map[string]interface{} {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make HTTP requests without body
func makeRequestNoBody(t *testing.T, method, url string) map[string]interface{} {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
