package pattern

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// Scope is the addressing unit a pattern's rules apply to.
type Scope string

const (
	ScopePin       Scope = "pin"
	ScopeNet       Scope = "net"
	ScopeComponent Scope = "component"
)

// ParseScope maps a document value to a Scope. Empty means pin.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopePin, nil
	case ScopePin, ScopeNet, ScopeComponent:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q (expected pin, net or component)", s)
}

// Severity as written in a pattern action.
type Severity string

const (
	SeverityUnset    Severity = ""
	SeverityFirm     Severity = "firm"
	SeverityFlexible Severity = "flexible"
)

// Exists holds when some other component on the net of OnNet has the given
// category and, if Value is set, a value satisfying it.
type Exists struct {
	Component string
	OnNet     dsl.PinUID
	Value     *units.Comparison
}

func (e Exists) String() string {
	s := fmt.Sprintf("exists{%s on %s", e.Component, e.OnNet)
	if e.Value != nil {
		s += " " + e.Value.String()
	}
	return s + "}"
}

// Condition is a conjunction of primitives; the zero Condition is true.
type Condition struct {
	// ThisComponent is implied for part-scoped patterns and rejected for
	// global ones.
	ThisComponent bool
	Categories    []string
	HasPins       []dsl.PinUID
	Connected     []dsl.PinUID
	Exists        []Exists
}

// ActionKind selects what an action does when its pattern matches.
type ActionKind int

const (
	ActionBind ActionKind = iota
	ActionRequire
	ActionEscalate
)

func (k ActionKind) String() string {
	switch k {
	case ActionBind:
		return "bind"
	case ActionRequire:
		return "require"
	case ActionEscalate:
		return "escalate"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is one step of a pattern's then-list.
type Action struct {
	Kind ActionKind

	// Key is the symbolic key resolved by a bind action.
	Key string

	// Text is the rule text as written; Atom is its compilation, or Err
	// holds the compile error. Atom already reflects Severity.
	Text string
	Atom *dsl.Atom
	Err  error

	Severity Severity

	// Pin anchors require actions and selects the rules of escalate
	// actions.
	Pin dsl.PinUID

	// Rule narrows an escalation to rules whose canonical body matches.
	// Empty escalates every rule on Pin.
	Rule string
}

// Pattern is a conditional requirement evaluated per component instance.
type Pattern struct {
	Name  string
	Scope Scope
	// Pin is the default anchor for require actions.
	Pin     dsl.PinUID
	When    Condition
	Actions []Action

	// Owner is the component id for part-scoped patterns, empty for
	// patterns from a global pack.
	Owner string
}

// PartScoped reports whether the pattern was declared inside a component.
func (p *Pattern) PartScoped() bool {
	return p.Owner != ""
}

// Pack is a named, ordered set of global patterns.
type Pack struct {
	Name     string
	Patterns []*Pattern
}
