// Package datalog implements the semi-naive, monotone fixed-point
// evaluator of spec §4.9. Rather than interpreting a declarative rule
// language, it follows the design note's "direct code generation"
// option: Relation is a small generic, mergeable table, and Engine
// drives a fixed set of Go closures (one per relation-population
// rule, supplied by the caller — package uafcheck's rules.go) round
// by round until none of them derive anything new.
package datalog

// Relation is a named table mapping keys to aggregated values. A
// relation declares a Merge function (§4.9 "relations may declare
// merge functions for specific value types") used whenever two
// derivations agree on the key and differ in the value: the engine
// combines them and the combined value re-enters the round iff it
// strictly grew.
//
// Pure-membership relations (Live, Func, CallSite, ...) instantiate
// Relation[K, struct{}] with a merge that is never asked to grow
// (presence is idempotent).
type Relation[K comparable, V any] struct {
	name  string
	data  map[K]V
	merge func(old, new V) (V, bool)
	dirty map[K]struct{}
}

// NewRelation creates an empty relation. merge must be commutative
// and produce a value that dominates both inputs under the
// relation's intended lattice order (§4.9 "Aggregates must be
// declared as lattice-join operations so combined tuples are
// themselves fixed-point-stable").
func NewRelation[K comparable, V any](name string, merge func(old, new V) (V, bool)) *Relation[K, V] {
	return &Relation[K, V]{name: name, data: make(map[K]V), merge: merge, dirty: make(map[K]struct{})}
}

// Set inserts or merges v at k. It returns true if this call produced
// a value that didn't exist before or that strictly grew — i.e. if
// the tuple should count as "newly derived this round" for semi-naive
// purposes.
func (r *Relation[K, V]) Set(k K, v V) bool {
	old, ok := r.data[k]
	if !ok {
		r.data[k] = v
		r.dirty[k] = struct{}{}
		return true
	}
	merged, grew := r.merge(old, v)
	r.data[k] = merged
	if grew {
		r.dirty[k] = struct{}{}
	}
	return grew
}

// Get returns the value at k, if any.
func (r *Relation[K, V]) Get(k K) (V, bool) {
	v, ok := r.data[k]
	return v, ok
}

// Has reports whether k has any value.
func (r *Relation[K, V]) Has(k K) bool {
	_, ok := r.data[k]
	return ok
}

// All returns every (key, value) currently in the relation. The
// returned map is owned by the relation; callers must not mutate it.
func (r *Relation[K, V]) All() map[K]V { return r.data }

// Len returns the number of keys in the relation.
func (r *Relation[K, V]) Len() int { return len(r.data) }

// Delta returns the set of keys that changed (were inserted or grew)
// since the last ClearDelta — the tuples semi-naive evaluation should
// treat as "introduced in the previous round" (§4.9).
func (r *Relation[K, V]) Delta() map[K]struct{} { return r.dirty }

// ClearDelta resets the delta tracking at the start of a new round.
func (r *Relation[K, V]) ClearDelta() { r.dirty = make(map[K]struct{}) }

// Name returns the relation's name, used for derivation explanation
// and diagnostics.
func (r *Relation[K, V]) Name() string { return r.name }

// SetMerge is a convenience merge for plain set-membership relations:
// the "value" is struct{}, union is trivial, and nothing ever grows
// after first insertion.
func SetMerge(old, new struct{}) (struct{}, bool) { return old, false }

// UnionSetMerge merges two Go sets represented as map[T]struct{},
// reporting growth if the union is larger than old.
func UnionSetMerge[T comparable](old, new map[T]struct{}) (map[T]struct{}, bool) {
	if old == nil {
		return new, len(new) > 0
	}
	grew := false
	for k := range new {
		if _, ok := old[k]; !ok {
			old[k] = struct{}{}
			grew = true
		}
	}
	return old, grew
}

// Rule is one relation-population step. It runs once per round and
// returns the number of tuples it newly derived or grew this round;
// the engine sums these to decide whether to keep going (§4.9
// "a round producing no new tuples terminates the computation").
type Rule struct {
	Name string
	Run  func() int
}

// Engine drives a fixed rule set to a fixed point.
type Engine struct {
	rules []Rule
	// explain records, per (relation,key) identity string, which
	// rule last contributed to it and what its supporting keys were
	// — enough to answer "why does this fact hold" (§4.9 "derivation
	// explanation").
	explain map[string]Derivation
}

// Derivation explains why a fact holds: the rule that produced it and
// the identities of the facts its body read.
type Derivation struct {
	Rule    string
	Sources []string
}

func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules, explain: make(map[string]Derivation)}
}

// Explain records that the fact identified by id was derived by rule
// from sources. It has no effect on evaluation, only on later
// Derivation queries. Nothing is recorded for a fact unless a rule
// calls Explain for it; the rules of package uafcheck do not, so
// Derivation finds no explanation for the facts they derive.
func (e *Engine) Explain(id, rule string, sources ...string) {
	e.explain[id] = Derivation{Rule: rule, Sources: sources}
}

// Derivation returns the recorded explanation for id, if any.
func (e *Engine) Derivation(id string) (Derivation, bool) {
	d, ok := e.explain[id]
	return d, ok
}

// RunRulesOnce runs every rule exactly once and returns the total
// number of newly-derived tuples this round (§6 "run_rules_once ->
// list<newly-derived>" — here summarized as a count, with the
// relations themselves queryable for the tuples).
func (e *Engine) RunRulesOnce() int {
	total := 0
	for _, r := range e.rules {
		total += r.Run()
	}
	return total
}

// RunRules loops RunRulesOnce until a round derives nothing new
// (§4.9 "Termination", §6 "run_rules -> ()").
func (e *Engine) RunRules() {
	for e.RunRulesOnce() > 0 {
	}
}
