// Package diag defines evaluation diagnostics and renders them in a stable
// order.
package diag

import (
	"cmp"
	"slices"
	"sync"
)

// Verdict is the outcome of checking one rule.
type Verdict string

const (
	Satisfied          Verdict = "satisfied"
	Violated           Verdict = "violated"
	UnresolvedSymbolic Verdict = "unresolved-symbolic"
	ConflictingBind    Verdict = "conflicting-bind"
	InvalidTarget      Verdict = "invalid-target"
	InvalidRule        Verdict = "invalid-rule"
	UnresolvedPackage  Verdict = "unresolved-package"
)

// Severity ranks diagnostics for reporting.
type Severity string

const (
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

// Rank orders severities from most to least severe.
func (s Severity) Rank() int {
	switch s {
	case Error:
		return 0
	case Warning:
		return 1
	}
	return 2
}

// ForFirmness maps a failed rule's firmness to its severity.
func ForFirmness(firm bool) Severity {
	if firm {
		return Error
	}
	return Warning
}

// ScopeKind is what a diagnostic is attached to.
type ScopeKind string

const (
	ScopePin       ScopeKind = "pin"
	ScopeNet       ScopeKind = "net"
	ScopeComponent ScopeKind = "component"
)

// Diagnostic is one immutable evaluation result.
type Diagnostic struct {
	RuleText  string    `json:"rule_text"`
	Origin    string    `json:"origin"`
	ScopeKind ScopeKind `json:"scope_kind"`
	ScopeID   string    `json:"scope_id"`
	Verdict   Verdict   `json:"verdict"`
	Severity  Severity  `json:"severity"`
	Evidence  string    `json:"evidence_summary"`
	// Pins are the physical pin ids behind the scope.
	Pins []string `json:"pins,omitempty"`

	// Instance is the declaration index of the component instance.
	Instance int `json:"-"`
	// Seq is the rule declaration order within the instance.
	Seq int `json:"-"`
}

// Compare orders by instance, then scope id, then rule order.
func Compare(a, b Diagnostic) int {
	if c := cmp.Compare(a.Instance, b.Instance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ScopeID, b.ScopeID); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Sort puts diagnostics in emission order. Diagnostics with equal keys keep
// their relative order.
func Sort(ds []Diagnostic) {
	slices.SortStableFunc(ds, Compare)
}

// Collector gathers diagnostics from concurrent evaluators.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add appends diagnostics.
func (c *Collector) Add(ds ...Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, ds...)
}

// Sorted returns a sorted copy of everything collected.
func (c *Collector) Sorted() []Diagnostic {
	c.mu.Lock()
	out := slices.Clone(c.items)
	c.mu.Unlock()
	Sort(out)
	return out
}

// Summary counts diagnostics by severity and verdict.
type Summary struct {
	Total     int             `json:"total"`
	Errors    int             `json:"errors"`
	Warnings  int             `json:"warnings"`
	Infos     int             `json:"infos"`
	ByVerdict map[Verdict]int `json:"by_verdict"`
}

// Summarize counts ds.
func Summarize(ds []Diagnostic) Summary {
	s := Summary{Total: len(ds), ByVerdict: make(map[Verdict]int)}
	for _, d := range ds {
		switch d.Severity {
		case Error:
			s.Errors++
		case Warning:
			s.Warnings++
		default:
			s.Infos++
		}
		s.ByVerdict[d.Verdict]++
	}
	return s
}

// Filter returns the diagnostics at or above threshold.
func Filter(ds []Diagnostic, threshold Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds {
		if d.Severity.Rank() <= threshold.Rank() {
			out = append(out, d)
		}
	}
	return out
}
