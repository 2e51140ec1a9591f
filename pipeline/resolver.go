package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hydrokb/resolver/catalog"
	"github.com/hydrokb/resolver/internal/logger"
	"github.com/hydrokb/resolver/internal/metrics"
	"github.com/hydrokb/resolver/rules"
)

// DefaultDataKeys are the scenario conditions whose tokens count as existing data
var DefaultDataKeys = []string{"climate input", "hydrology input", "underlying surface input"}

// Request is one scenario to resolve
type Request struct {
	Conditions map[string]string `json:"conditions" yaml:"conditions"`
	// Processes are pre-selected by the caller and always take part
	Processes []string `json:"processes,omitempty" yaml:"processes,omitempty"`
	// ExistingData lists data available before the simulation starts
	ExistingData []string `json:"existingData,omitempty" yaml:"existingData,omitempty"`
	Purpose      string   `json:"purpose,omitempty" yaml:"purpose,omitempty"`
}

// Validate rejects empty condition and process names
func (r *Request) Validate() error {
	for name := range r.Conditions {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("condition name cannot be empty")
		}
	}
	for i, p := range r.Processes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("process %d has no name", i)
		}
	}
	return nil
}

// Step is one component of the resolved pipeline
type Step struct {
	ProcessName string `json:"processName" yaml:"processName"`
	AlgorithmID string `json:"algorithmId" yaml:"algorithmId"`
	ShortName   string `json:"shortName" yaml:"shortName"`
	ComponentID string `json:"componentId" yaml:"componentId"`
}

// Pipeline is a resolved, executable component sequence
type Pipeline struct {
	ID           uuid.UUID `json:"id" yaml:"id"`
	Steps        []Step    `json:"steps" yaml:"steps"`
	Edges        []Edge    `json:"edges,omitempty" yaml:"edges,omitempty"`
	ExistingData []string  `json:"existingData" yaml:"existingData"`
	Purpose      string    `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	// GroupIndex is the enumeration index of the chosen candidate group
	GroupIndex int `json:"groupIndex" yaml:"groupIndex"`
	// GroupsExamined counts the groups a sequential scan visits to reach the winner
	GroupsExamined int `json:"groupsExamined" yaml:"groupsExamined"`
	// Trace holds every rule evaluation, process rules first
	Trace []*rules.EvaluationResult `json:"trace,omitempty" yaml:"-"`
}

// ProcessNames returns the process of each step in execution order
func (p *Pipeline) ProcessNames() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.ProcessName
	}
	return out
}

// AlgorithmIDs returns the algorithm of each step in execution order
func (p *Pipeline) AlgorithmIDs() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.AlgorithmID
	}
	return out
}

// ComponentIDs returns the distinct components in execution order
func (p *Pipeline) ComponentIDs() []string {
	out := make([]string, 0, len(p.Steps))
	seen := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := seen[s.ComponentID]; dup {
			continue
		}
		seen[s.ComponentID] = struct{}{}
		out = append(out, s.ComponentID)
	}
	return out
}

// Resolver turns scenarios into pipelines over one knowledge base.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	name       string
	engine     *rules.Engine
	algorithms *catalog.AlgorithmTable
	components *catalog.MetaCache
	limit      int
	workers    int
	exempt     []string
	dataKeys   []string
}

// Option configures a Resolver
type Option func(*Resolver)

// WithName labels logs and metrics with the knowledge base name
func WithName(name string) Option {
	return func(r *Resolver) {
		r.name = name
	}
}

// WithMaxCombinations caps the candidate group product
func WithMaxCombinations(limit int) Option {
	return func(r *Resolver) {
		r.limit = limit
	}
}

// WithWorkers bounds concurrent group validation
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		r.workers = n
	}
}

// WithExemptComponents replaces the components skipped by the compatibility check
func WithExemptComponents(ids []string) Option {
	return func(r *Resolver) {
		r.exempt = ids
	}
}

// WithDataKeys replaces the conditions that extend the existing data
func WithDataKeys(keys []string) Option {
	return func(r *Resolver) {
		r.dataKeys = keys
	}
}

// NewResolver builds a resolver. A source that is not already a MetaCache is wrapped in one.
func NewResolver(engine *rules.Engine, algorithms *catalog.AlgorithmTable, source catalog.ComponentSource, opts ...Option) *Resolver {
	cache, ok := source.(*catalog.MetaCache)
	if !ok {
		cache = catalog.NewMetaCache(source)
	}

	r := &Resolver{
		name:       "default",
		engine:     engine,
		algorithms: algorithms,
		components: cache,
		limit:      DefaultMaxCombinations,
		workers:    runtime.GOMAXPROCS(0),
		exempt:     DefaultExemptComponents,
		dataKeys:   DefaultDataKeys,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	return r
}

// Name returns the knowledge base label
func (r *Resolver) Name() string {
	return r.name
}

// Engine returns the rule engine
func (r *Resolver) Engine() *rules.Engine {
	return r.engine
}

// Algorithms returns the algorithm table
func (r *Resolver) Algorithms() *catalog.AlgorithmTable {
	return r.algorithms
}

// Components returns the component metadata cache
func (r *Resolver) Components() *catalog.MetaCache {
	return r.components
}

// Resolve runs process selection, algorithm selection, combination and group
// validation. It returns a complete pipeline or a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Pipeline, error) {
	start := time.Now()
	p, err := r.resolve(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			outcome = string(rerr.Stage)
		}
		metrics.RecordResolution(r.name, outcome, elapsed.Seconds())
		logger.ResolutionFailed("resolution failed", "kb", r.name, "stage", outcome, "error", err)
		return nil, err
	}

	metrics.RecordResolution(r.name, "success", elapsed.Seconds())
	logger.Info("resolution completed",
		"kb", r.name,
		"id", p.ID.String(),
		"components", p.ComponentIDs(),
		"group", p.GroupIndex,
		"duration_ms", elapsed.Milliseconds())
	return p, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, &ResolutionError{Stage: StageRequest, Err: err}
	}

	scenario := rules.NewScenario(req.Conditions)
	existing := r.existingData(scenario, req.ExistingData)

	processes, processTrace, err := r.engine.InferProcesses(scenario)
	if err != nil {
		return nil, &ResolutionError{Stage: StageProcessSelection, Err: err}
	}
	r.recordRuleErrors(rules.CategoryProcess, processTrace)
	processes = mergeProcesses(req.Processes, processes)
	if len(processes) == 0 {
		return nil, &ResolutionError{Stage: StageProcessSelection, Err: ErrNoProcesses}
	}
	logger.Debug("processes selected", "kb", r.name, "processes", processes)

	selection, err := r.engine.InferAlgorithms(scenario, processes, r.algorithms.ProcessOf)
	if err != nil {
		return nil, &ResolutionError{Stage: StageAlgorithmSelection, Err: err}
	}
	r.recordRuleErrors(rules.CategoryAlgorithm, selection.Results)
	for _, id := range selection.Unknown {
		logger.Warn("rule concluded an algorithm missing from the catalog", "kb", r.name, "algorithm", id)
	}

	groups, err := Generate(processes, selection.ByProcess, r.limit)
	if err != nil {
		stage := StageCombination
		var nc *NoCandidatesError
		if errors.As(err, &nc) {
			stage = StageAlgorithmSelection
		}
		return nil, &ResolutionError{Stage: stage, Err: err}
	}
	metrics.RecordCandidateGroups(r.name, len(groups))

	metas, overrides, err := r.loadMetadata(ctx, processes, selection.ByProcess)
	if err != nil {
		return nil, &ResolutionError{Stage: StageMetadata, Err: err}
	}

	winner, err := r.validateGroups(ctx, groups, existing, metas, overrides)
	if err != nil {
		return nil, err
	}

	trace := make([]*rules.EvaluationResult, 0, len(processTrace)+len(selection.Results))
	trace = append(trace, processTrace...)
	trace = append(trace, selection.Results...)

	return &Pipeline{
		ID:             uuid.New(),
		Steps:          r.steps(processes, groups[winner.index], winner.order),
		Edges:          winner.edges,
		ExistingData:   existing,
		Purpose:        req.Purpose,
		GroupIndex:     winner.index,
		GroupsExamined: winner.index + 1,
		Trace:          trace,
	}, nil
}

// existingData joins the caller's list with the tokens of the data conditions
func (r *Resolver) existingData(scenario rules.Scenario, declared []string) []string {
	out := make([]string, 0, len(declared))
	seen := make(map[string]struct{})
	add := func(items []string) {
		for _, it := range items {
			it = strings.TrimSpace(it)
			if it == "" {
				continue
			}
			if _, dup := seen[it]; dup {
				continue
			}
			seen[it] = struct{}{}
			out = append(out, it)
		}
	}
	add(declared)
	for _, key := range r.dataKeys {
		add(scenario.Tokens(key))
	}
	return out
}

func mergeProcesses(preselected, inferred []string) []string {
	out := make([]string, 0, len(preselected)+len(inferred))
	seen := make(map[string]struct{})
	for _, list := range [][]string{preselected, inferred} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// loadMetadata fetches every candidate component once, before any group is validated
func (r *Resolver) loadMetadata(ctx context.Context, processes []string, candidates map[string][]string) (map[string]catalog.ComponentMeta, []catalog.EdgeOverride, error) {
	var ids []string
	for _, p := range processes {
		for _, alg := range candidates[p] {
			ids = append(ids, r.componentOf(alg))
		}
	}

	metas, err := r.components.Components(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := r.components.EdgeOverrides(ctx)
	if err != nil {
		return nil, nil, err
	}
	return metas, overrides, nil
}

func (r *Resolver) componentOf(algorithmID string) string {
	rec, ok := r.algorithms.Lookup(algorithmID)
	if !ok || rec.ComponentID == "" {
		return algorithmID
	}
	return rec.ComponentID
}

func (r *Resolver) groupComponents(g CandidateGroup) []string {
	out := make([]string, len(g.Algorithms))
	for i, alg := range g.Algorithms {
		out[i] = r.componentOf(alg)
	}
	return out
}

type groupOutcome struct {
	index int
	order []string
	edges []Edge
	err   error
}

// validateGroups checks groups on a bounded worker pool. The lowest-index
// group that is compatible and acyclic wins, so the answer matches a
// sequential scan; groups above a known winner are skipped.
func (r *Resolver) validateGroups(ctx context.Context, groups []CandidateGroup, existing []string,
	metas map[string]catalog.ComponentMeta, overrides []catalog.EdgeOverride) (*groupOutcome, error) {

	checker := NewChecker(existing, r.exempt)
	outcomes := make([]*groupOutcome, len(groups))

	var best atomic.Int64
	best.Store(math.MaxInt64)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range groups {
		if int64(i) > best.Load() {
			break
		}
		g.Go(func() error {
			if int64(i) > best.Load() {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}

			out := r.validateGroup(groups[i], checker, metas, overrides)
			outcomes[i] = out
			if out.err != nil {
				return nil
			}
			for {
				cur := best.Load()
				if int64(i) >= cur || best.CompareAndSwap(cur, int64(i)) {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ResolutionError{Stage: StageCompatibility, Err: err}
	}

	if w := best.Load(); w != math.MaxInt64 {
		return outcomes[w], nil
	}
	return nil, r.noValidGroup(outcomes)
}

func (r *Resolver) validateGroup(g CandidateGroup, checker *Checker,
	metas map[string]catalog.ComponentMeta, overrides []catalog.EdgeOverride) *groupOutcome {

	out := &groupOutcome{index: g.Index}
	ids := r.groupComponents(g)

	if err := checker.Check(ids, metas); err != nil {
		metrics.RecordGroupRejection(r.name, "incompatible")
		logger.Debug("candidate group rejected", "kb", r.name, "group", g.Index, "reason", err)
		out.err = err
		return out
	}

	graph, err := BuildGraph(ids, metas, overrides)
	if err != nil {
		out.err = err
		return out
	}
	order, err := graph.Sort()
	if err != nil {
		metrics.RecordGroupRejection(r.name, "cyclic")
		logger.Debug("candidate group rejected", "kb", r.name, "group", g.Index, "reason", err)
		out.err = err
		return out
	}

	out.order = order
	out.edges = graph.Edges()
	return out
}

// noValidGroup reports the first cycle when any group passed the
// compatibility check, otherwise the first incompatibility
func (r *Resolver) noValidGroup(outcomes []*groupOutcome) error {
	var firstIncompatible, firstCycle error
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		var cyc *CyclicDependencyError
		if errors.As(out.err, &cyc) {
			if firstCycle == nil {
				firstCycle = out.err
			}
			continue
		}
		if firstIncompatible == nil {
			firstIncompatible = out.err
		}
	}

	if firstCycle != nil {
		return &ResolutionError{Stage: StageOrdering, Err: fmt.Errorf("%w: %w", ErrNoOrderableGroup, firstCycle)}
	}
	return &ResolutionError{Stage: StageCompatibility, Err: fmt.Errorf("%w: %w", ErrNoCompatibleGroup, firstIncompatible)}
}

// steps lays the group's algorithms out in component execution order.
// Algorithms sharing a component keep their process order.
func (r *Resolver) steps(processes []string, g CandidateGroup, order []string) []Step {
	byComponent := make(map[string][]Step, len(g.Algorithms))
	for i, alg := range g.Algorithms {
		rec, _ := r.algorithms.Lookup(alg)
		comp := r.componentOf(alg)
		byComponent[comp] = append(byComponent[comp], Step{
			ProcessName: processes[i],
			AlgorithmID: alg,
			ShortName:   rec.ShortName,
			ComponentID: comp,
		})
	}

	steps := make([]Step, 0, len(g.Algorithms))
	for _, comp := range order {
		steps = append(steps, byComponent[comp]...)
	}
	return steps
}

func (r *Resolver) recordRuleErrors(category rules.Category, results []*rules.EvaluationResult) {
	n := 0
	for _, res := range results {
		if res.Error == nil {
			continue
		}
		n++
		logger.RuleFailed("rule evaluation failed",
			"kb", r.name, "rule", res.RuleID, "category", string(category), "error", res.Error)
	}
	if n > 0 {
		metrics.RecordRuleErrors(r.name, string(category), n)
	}
}
