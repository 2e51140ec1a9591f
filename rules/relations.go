package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RelationFunc compares a scenario value against a rule-supplied indicator
type RelationFunc func(value, indicator string) (bool, error)

// Relation names understood by the default library
const (
	RelLessThan        = "lessthan"
	RelGreaterThan     = "greaterthan"
	RelIs              = "is"
	RelAre             = "are"
	RelLocate          = "locate"
	RelContainInput    = "contain_input"
	RelContainOutput   = "contain_output"
	RelNoContainInput  = "no_contain_input"
	RelTimescaleLess   = "timescale_less"
	RelTimescaleNoLess = "timescale_noless"
	RelSatisfies       = "satisfies"
)

// timeScaleRank orders time scales from finest to coarsest
var timeScaleRank = map[string]int{
	"minute": 0,
	"hour":   1,
	"day":    2,
	"month":  3,
	"year":   4,
}

// RelationLibrary is a closed dispatch table from relation name to function.
// It is built once at startup and must not be modified after it is shared.
type RelationLibrary struct {
	funcs  map[string]RelationFunc
	checks map[string]func(indicator string) error
}

// NewRelationLibrary returns an empty library
func NewRelationLibrary() *RelationLibrary {
	return &RelationLibrary{
		funcs:  make(map[string]RelationFunc),
		checks: make(map[string]func(string) error),
	}
}

// DefaultRelations returns a library holding every built-in relation
func DefaultRelations() *RelationLibrary {
	lib := NewRelationLibrary()
	lib.mustRegister(RelLessThan, LessThan)
	lib.mustRegister(RelGreaterThan, GreaterThan)
	lib.mustRegister(RelIs, Is)
	lib.mustRegister(RelAre, Are)
	lib.mustRegister(RelLocate, Locate)
	lib.mustRegister(RelContainInput, ContainInput)
	lib.mustRegister(RelContainOutput, ContainOutput)
	lib.mustRegister(RelNoContainInput, NoContainInput)
	lib.mustRegister(RelTimescaleLess, TimescaleLess)
	lib.mustRegister(RelTimescaleNoLess, TimescaleNoLess)

	expr, err := NewExpressionRelation()
	if err != nil {
		panic(err)
	}
	lib.mustRegister(RelSatisfies, expr.Apply)
	lib.checks[RelSatisfies] = func(indicator string) error {
		_, err := expr.Compile(indicator)
		return err
	}
	return lib
}

// Register adds a relation under the given name
func (l *RelationLibrary) Register(name string, fn RelationFunc) error {
	key := relationKey(name)
	if key == "" {
		return fmt.Errorf("relation name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("relation %q has no function", name)
	}
	if _, exists := l.funcs[key]; exists {
		return fmt.Errorf("relation %q already registered", key)
	}
	l.funcs[key] = fn
	return nil
}

func (l *RelationLibrary) mustRegister(name string, fn RelationFunc) {
	if err := l.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup resolves a relation name, failing with *UnknownRelationError
func (l *RelationLibrary) Lookup(name string) (RelationFunc, error) {
	fn, ok := l.funcs[relationKey(name)]
	if !ok {
		return nil, &UnknownRelationError{Relation: name}
	}
	return fn, nil
}

// CheckIndicator validates an indicator ahead of evaluation for relations
// that can reject one statically. Other relations accept any indicator.
func (l *RelationLibrary) CheckIndicator(name, indicator string) error {
	check, ok := l.checks[relationKey(name)]
	if !ok {
		return nil
	}
	return check(indicator)
}

// Apply looks up and invokes a relation
func (l *RelationLibrary) Apply(name, value, indicator string) (bool, error) {
	fn, err := l.Lookup(name)
	if err != nil {
		return false, err
	}
	return fn(value, indicator)
}

// Names returns the registered relation names in sorted order
func (l *RelationLibrary) Names() []string {
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func relationKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeAtom splits an embedded relation such as "is day" or "are TMAX,TMIN"
// into an explicit relation/indicator pair. Atoms that already carry an
// indicator are returned trimmed but otherwise unchanged.
func NormalizeAtom(a Atom) Atom {
	a.Variable = strings.TrimSpace(a.Variable)
	a.Relation = strings.TrimSpace(a.Relation)
	if a.Indicator != "" {
		return a
	}
	rel, rest, found := strings.Cut(a.Relation, " ")
	if !found {
		return a
	}
	a.Relation = rel
	a.Indicator = strings.TrimSpace(rest)
	return a
}

func parseNumber(relation, value, indicator string) (float64, float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, 0, &RelationError{Relation: relation, Value: value, Indicator: indicator, Err: err}
	}
	i, err := strconv.ParseFloat(strings.TrimSpace(indicator), 64)
	if err != nil {
		return 0, 0, &RelationError{Relation: relation, Value: value, Indicator: indicator, Err: err}
	}
	return v, i, nil
}

// LessThan is true when value < indicator, both parsed as real numbers
func LessThan(value, indicator string) (bool, error) {
	v, i, err := parseNumber(RelLessThan, value, indicator)
	if err != nil {
		return false, err
	}
	return v < i, nil
}

// GreaterThan is true when value > indicator, both parsed as real numbers
func GreaterThan(value, indicator string) (bool, error) {
	v, i, err := parseNumber(RelGreaterThan, value, indicator)
	if err != nil {
		return false, err
	}
	return v > i, nil
}

// Is matches a value against an indicator. An indicator holding "/" is an
// alternation and matches when it contains the value; otherwise the two must be equal.
func Is(value, indicator string) (bool, error) {
	if strings.Contains(indicator, "/") {
		return strings.Contains(indicator, value), nil
	}
	return value == indicator, nil
}

// Are is true when every token of a comma-separated indicator appears in the
// value's token set. Single indicators require equality.
func Are(value, indicator string) (bool, error) {
	if !strings.Contains(indicator, ",") {
		return value == indicator, nil
	}
	have := tokenSet(value)
	for _, tok := range Tokenize(indicator) {
		if _, ok := have[tok]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Locate is exact string equality
func Locate(value, indicator string) (bool, error) {
	return value == indicator, nil
}

// ContainInput is true when the value lists at least as many tokens as the
// indicator and every indicator token is present in the value
func ContainInput(value, indicator string) (bool, error) {
	return containsAll(Tokenize(value), Tokenize(indicator)), nil
}

// ContainOutput is ContainInput with the roles of value and indicator swapped
func ContainOutput(value, indicator string) (bool, error) {
	return containsAll(Tokenize(indicator), Tokenize(value)), nil
}

// NoContainInput is true when value and indicator share no token
func NoContainInput(value, indicator string) (bool, error) {
	have := tokenSet(value)
	for _, tok := range Tokenize(indicator) {
		if _, ok := have[tok]; ok {
			return false, nil
		}
	}
	return true, nil
}

// TimescaleLess is true when value is a strictly finer time scale than indicator
func TimescaleLess(value, indicator string) (bool, error) {
	v, i, err := timeScales(RelTimescaleLess, value, indicator)
	if err != nil {
		return false, err
	}
	return v < i, nil
}

// TimescaleNoLess is true when value is the same or a coarser time scale than indicator
func TimescaleNoLess(value, indicator string) (bool, error) {
	v, i, err := timeScales(RelTimescaleNoLess, value, indicator)
	if err != nil {
		return false, err
	}
	return v >= i, nil
}

func timeScales(relation, value, indicator string) (int, int, error) {
	v, ok := timeScaleRank[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return 0, 0, &RelationError{Relation: relation, Value: value, Indicator: indicator,
			Err: fmt.Errorf("unknown time scale %q", value)}
	}
	i, ok := timeScaleRank[strings.ToLower(strings.TrimSpace(indicator))]
	if !ok {
		return 0, 0, &RelationError{Relation: relation, Value: value, Indicator: indicator,
			Err: fmt.Errorf("unknown time scale %q", indicator)}
	}
	return v, i, nil
}

// containsAll reports whether have lists at least as many tokens as want and
// holds every token of want. The first missing token short-circuits.
func containsAll(have, want []string) bool {
	if len(have) < len(want) {
		return false
	}
	set := make(map[string]struct{}, len(have))
	for _, tok := range have {
		set[tok] = struct{}{}
	}
	for _, tok := range want {
		if _, ok := set[tok]; !ok {
			return false
		}
	}
	return true
}

func tokenSet(s string) map[string]struct{} {
	toks := Tokenize(s)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	return set
}
