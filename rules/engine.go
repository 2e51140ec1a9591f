package rules

import (
	"fmt"
	"sync"
)

// compiledAtom is a condition atom with its relation resolved
type compiledAtom struct {
	Atom
	fn RelationFunc
}

// compiledRule is the immutable evaluation form of a Rule
type compiledRule struct {
	rule       *Rule
	conditions []compiledAtom
}

// Engine compiles rules against a relation library and evaluates them by
// category. Compiled rules are shared read-only; mutations swap entries
// under the lock.
type Engine struct {
	relations *RelationLibrary
	store     RuleStore
	cache     RulesCache
	compiled  map[string]*compiledRule // ruleID -> compiled rule
	failed    map[string]error         // ruleID -> compile error
	mu        sync.RWMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRelations replaces the default relation library
func WithRelations(lib *RelationLibrary) EngineOption {
	return func(en *Engine) {
		en.relations = lib
	}
}

// WithCache replaces the default active-rule cache
func WithCache(cache RulesCache) EngineOption {
	return func(en *Engine) {
		en.cache = cache
	}
}

// NewEngine creates an engine over store and compiles every active rule.
// Rules that fail to compile are recorded (see CompileErrors) and never fire.
func NewEngine(store RuleStore, opts ...EngineOption) (*Engine, error) {
	en := &Engine{
		store:    store,
		compiled: make(map[string]*compiledRule),
		failed:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.relations == nil {
		en.relations = DefaultRelations()
	}
	if en.cache == nil {
		en.cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// compile validates a rule and resolves its relations without touching engine state
func (en *Engine) compile(r *Rule) (*compiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	cr := &compiledRule{
		rule:       r,
		conditions: make([]compiledAtom, 0, len(r.Conditions)),
	}
	for _, atom := range r.Conditions {
		atom = NormalizeAtom(atom)
		fn, err := en.relations.Lookup(atom.Relation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if err := en.relations.CheckIndicator(atom.Relation, atom.Indicator); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		cr.conditions = append(cr.conditions, compiledAtom{Atom: atom, fn: fn})
	}
	return cr, nil
}

// CompileAllRules compiles every active rule of the store and primes the cache.
// A malformed rule or unknown relation skips that rule only, as does an entry
// the store could not read; only store failures are returned.
func (en *Engine) CompileAllRules() error {
	compiled := make(map[string]*compiledRule)
	failed := make(map[string]error)

	for _, category := range []Category{CategoryProcess, CategoryAlgorithm} {
		rules, err := en.store.ListActive(category)
		if err != nil {
			return err
		}

		for _, rule := range rules {
			cr, err := en.compile(rule)
			if err != nil {
				failed[rule.ID] = err
				continue
			}
			compiled[rule.ID] = cr
		}

		en.cache.Set(category, rules)
	}

	if reporter, ok := en.store.(MalformedReporter); ok {
		for id, err := range reporter.Malformed() {
			failed[id] = err
		}
	}

	en.mu.Lock()
	en.compiled = compiled
	en.failed = failed
	en.mu.Unlock()

	return nil
}

// CompileErrors returns the compile error of every rule skipped at load time
func (en *Engine) CompileErrors() map[string]error {
	en.mu.RLock()
	defer en.mu.RUnlock()

	out := make(map[string]error, len(en.failed))
	for id, err := range en.failed {
		out[id] = err
	}
	return out
}

// AddRule validates and compiles a rule, then stores it
func (en *Engine) AddRule(r *Rule) error {
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}

	cr, err := en.compile(r)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(r); err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[r.ID] = cr
	delete(en.failed, r.ID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// UpdateRule recompiles a rule before replacing the stored version
func (en *Engine) UpdateRule(r *Rule) error {
	cr, err := en.compile(r)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Update(r); err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[r.ID] = cr
	delete(en.failed, r.ID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// DeleteRule removes a rule from the store and the compiled set
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.compiled, ruleID)
	delete(en.failed, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// Rule returns a stored rule, active or not
func (en *Engine) Rule(ruleID string) (*Rule, error) {
	return en.store.Get(ruleID)
}

// AllRules returns every stored rule in declared order
func (en *Engine) AllRules() ([]*Rule, error) {
	return en.store.List()
}

// Rules returns the active rules of a category in declared order
func (en *Engine) Rules(category Category) ([]*Rule, error) {
	rules := en.cache.Get(category)
	if rules != nil {
		return rules, nil
	}

	rules, err := en.store.ListActive(category)
	if err != nil {
		return nil, err
	}
	en.cache.Set(category, rules)
	return rules, nil
}

// EvaluateRule evaluates a single rule against the scenario
func (en *Engine) EvaluateRule(ruleID string, scenario Scenario) (*EvaluationResult, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	result := en.evaluate(rule, scenario)
	return result, result.Error
}

// EvaluateAll evaluates the active rules of one category in declared order.
// Rule failures are isolated: the failing rule does not fire, its result
// carries the error, and evaluation continues with the next rule.
func (en *Engine) EvaluateAll(category Category, scenario Scenario) ([]*EvaluationResult, error) {
	rules, err := en.Rules(category)
	if err != nil {
		return nil, err
	}

	results := make([]*EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, en.evaluate(rule, scenario))
	}

	return results, nil
}

func (en *Engine) evaluate(rule *Rule, scenario Scenario) *EvaluationResult {
	result := &EvaluationResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Category: rule.Category,
	}

	en.mu.RLock()
	cr, exists := en.compiled[rule.ID]
	compileErr := en.failed[rule.ID]
	en.mu.RUnlock()

	if !exists {
		if compileErr == nil {
			compileErr = fmt.Errorf("rule %s is not compiled", rule.ID)
		}
		result.Error = compileErr
		return result
	}

	fired, err := cr.fires(scenario)
	if err != nil {
		result.Error = err
		return result
	}

	if fired {
		conclusion := cr.rule.Conclusion
		result.Fired = true
		result.Conclusion = &conclusion
	}
	return result
}

// fires applies the combinator. AND stops at the first missing variable or
// false atom. OR treats a missing variable as false for that atom only and
// keeps going.
func (cr *compiledRule) fires(scenario Scenario) (bool, error) {
	switch cr.rule.Combinator {
	case CombinatorAnd:
		for _, atom := range cr.conditions {
			value, ok := scenario.Lookup(atom.Variable)
			if !ok {
				return false, nil
			}
			matched, err := atom.fn(value, atom.Indicator)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil

	case CombinatorOr:
		for _, atom := range cr.conditions {
			value, ok := scenario.Lookup(atom.Variable)
			if !ok {
				continue
			}
			matched, err := atom.fn(value, atom.Indicator)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil

	default:
		atom := cr.conditions[0]
		value, ok := scenario.Lookup(atom.Variable)
		if !ok {
			return false, nil
		}
		return atom.fn(value, atom.Indicator)
	}
}
