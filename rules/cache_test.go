package rules

import (
	"testing"
	"time"
)

func TestInMemoryRulesCache(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	if cache.Get(CategoryProcess) != nil {
		t.Fatal("Get() on an empty cache should miss")
	}

	rules := []*Rule{{ID: "a"}, {ID: "b"}}
	cache.Set(CategoryProcess, rules)
	rules[0] = &Rule{ID: "mutated"}

	got := cache.Get(CategoryProcess)
	if len(got) != 2 || got[0].ID != "a" {
		t.Errorf("Get() = %v, cache should hold a copy of the slice", got)
	}
	if !cache.IsValid(CategoryProcess) {
		t.Error("IsValid() = false after Set()")
	}
	if cache.IsValid(CategoryAlgorithm) {
		t.Error("IsValid(algorithm) = true, categories must be cached separately")
	}

	cache.Set(CategoryAlgorithm, nil)
	if got := cache.Get(CategoryAlgorithm); got == nil || len(got) != 0 {
		t.Errorf("Get() of an empty cached category = %v, want empty non-nil slice", got)
	}

	cache.Invalidate()
	if cache.Get(CategoryProcess) != nil || cache.IsValid(CategoryAlgorithm) {
		t.Error("Invalidate() should clear every category")
	}
}

func TestInMemoryRulesCacheTTL(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 10 * time.Millisecond})
	cache.Set(CategoryProcess, []*Rule{{ID: "a"}})

	if cache.Get(CategoryProcess) == nil {
		t.Fatal("Get() should hit before the TTL elapses")
	}

	time.Sleep(20 * time.Millisecond)

	if cache.Get(CategoryProcess) != nil {
		t.Error("Get() should miss after the TTL elapses")
	}
	if cache.IsValid(CategoryProcess) {
		t.Error("IsValid() should be false after the TTL elapses")
	}
}

func TestEngineUsesCache(t *testing.T) {
	store := NewInMemoryRuleStore()
	_ = store.Add(processRule("r", CombinatorNone, "A", cond("time step", "is", "day")))

	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	engine, err := NewEngine(store, WithCache(cache))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	if !cache.IsValid(CategoryProcess) {
		t.Fatal("NewEngine() should prime the cache")
	}

	if err := engine.AddRule(processRule("r2", CombinatorNone, "B", cond("time step", "is", "day"))); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	if cache.IsValid(CategoryProcess) {
		t.Error("AddRule() should invalidate the cache")
	}

	rules, err := engine.Rules(CategoryProcess)
	if err != nil {
		t.Fatalf("Rules() failed: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("Rules() returned %d rules, want 2", len(rules))
	}
}
