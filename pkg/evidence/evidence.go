// Package evidence searches a schematic for the facts that satisfy or
// violate a compiled rule atom.
package evidence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/query"
)

// Tolerance is the relative band applied to nominal values.
type Tolerance struct {
	Capacitor float64
	Resistor  float64
}

// DefaultTolerance is ±20 % for capacitors and ±5 % for resistors.
var DefaultTolerance = Tolerance{Capacitor: 0.2, Resistor: 0.05}

// Context anchors one rule to a pin of one instance.
type Context struct {
	Query    *query.Layer
	Instance graph.InstanceID
	Pin      component.PinUID
	Model    *component.Model

	Tolerance Tolerance
	// StrictDistance drops capacitors without a known position from
	// max_dist checks instead of counting them.
	StrictDistance bool
}

// Result is the verdict of one rule and a human readable account of the
// evidence behind it.
type Result struct {
	Verdict diag.Verdict
	Summary string
}

// Severity maps the verdict to a reporting severity. Failures follow the
// firmness of the rule; anything else is informational.
func (r Result) Severity(firm bool) diag.Severity {
	switch r.Verdict {
	case diag.Violated, diag.InvalidTarget, diag.InvalidRule:
		return diag.ForFirmness(firm)
	}
	return diag.Info
}

// Evaluator checks atoms of one kind.
type Evaluator interface {
	Evaluate(c Context, atom *dsl.Atom) Result
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(c Context, atom *dsl.Atom) Result

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(c Context, atom *dsl.Atom) Result {
	return f(c, atom)
}

// Registry maps rule kinds to evaluators. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// DefaultRegistry returns a registry with evaluators for cap and pull.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("cap", EvaluatorFunc(Cap))
	_ = r.Register("pull", EvaluatorFunc(Pull))
	return r
}

// Register adds the evaluator for kind.
func (r *Registry) Register(kind string, e Evaluator) error {
	if kind == "" || e == nil {
		return fmt.Errorf("evidence: invalid evaluator registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.evaluators[kind]; exists {
		return fmt.Errorf("evidence: evaluator for %q already registered", kind)
	}
	r.evaluators[kind] = e
	return nil
}

// Lookup returns the evaluator for kind.
func (r *Registry) Lookup(kind string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[kind]
	return e, ok
}

// Kinds returns the kinds with an evaluator, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Covers returns an error naming every kind that has no evaluator.
func (r *Registry) Covers(kinds []string) error {
	var errs []error
	for _, k := range kinds {
		if _, ok := r.Lookup(k); !ok {
			errs = append(errs, fmt.Errorf("evidence: no evaluator for rule kind %q", k))
		}
	}
	return errors.Join(errs...)
}

// Evaluate dispatches atom to the evaluator of its kind.
func (r *Registry) Evaluate(c Context, atom *dsl.Atom) Result {
	e, ok := r.Lookup(atom.Kind)
	if !ok {
		return Result{Verdict: diag.InvalidRule, Summary: fmt.Sprintf("no evaluator for rule kind %q", atom.Kind)}
	}
	return e.Evaluate(c, atom)
}

// topologyNote reports a pin that could not be placed on a net.
func topologyNote(err error) Result {
	return Result{Verdict: diag.Violated, Summary: "no evidence: " + err.Error()}
}
