package component

import (
	"fmt"
	"slices"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
)

// PinUID is the semantic identity of a pin, shared with the rule language.
type PinUID = dsl.PinUID

// Role is the electrical role of a pin.
type Role string

const (
	RolePower      Role = "power"
	RoleGround     Role = "ground"
	RoleIO         Role = "io"
	RoleAnalog     Role = "analog"
	RoleClock      Role = "clock"
	RoleConfig     Role = "config"
	RoleProtection Role = "protection"
)

var roles = []Role{RolePower, RoleGround, RoleIO, RoleAnalog, RoleClock, RoleConfig, RoleProtection}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	if slices.Contains(roles, Role(s)) {
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Direction is the signal direction of a pin.
type Direction string

const (
	DirInput         Direction = "input"
	DirOutput        Direction = "output"
	DirBidirectional Direction = "bidirectional"
	DirPassive       Direction = "passive"
)

var directions = []Direction{DirInput, DirOutput, DirBidirectional, DirPassive}

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	if slices.Contains(directions, Direction(s)) {
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// RuleSource is one entry of a pin's rule list: either compiled rule text
// or a symbolic key left for a pattern to bind.
type RuleSource struct {
	Text string
	// Atom is nil for symbolic entries and for text that failed to compile.
	Atom *dsl.Atom
	// Err is the *dsl.CompileError for text that failed to compile.
	Err      error
	Symbolic string
}

// IsSymbolic reports whether the entry defers to a pattern.
func (r RuleSource) IsSymbolic() bool {
	return r.Symbolic != ""
}

func (r RuleSource) String() string {
	if r.IsSymbolic() {
		return "$" + r.Symbolic
	}
	if r.Atom != nil {
		return r.Atom.String()
	}
	return r.Text
}

// PinSpec describes one semantic pin of a component.
type PinSpec struct {
	UID         PinUID
	Names       []string
	Role        Role
	Direction   Direction
	Voltage     *Envelope
	Rules       []RuleSource
	Tags        []string
	Description string
}

// Package maps semantic pins to the physical pin ids of one footprint.
type Package struct {
	Name string
	Pins map[PinUID][]string
}

// Model is a loaded, validated component definition. It is immutable once
// returned by the loader.
type Model struct {
	ID            string
	Category      string
	SchemaVersion string
	Description   string

	Packages map[string]*Package
	Pins     map[PinUID]*PinSpec
	Patterns []*pattern.Pattern

	// Source is the file the model was loaded from, if any.
	Source string
}

// PinUIDs returns the declared pins in lexicographic order.
func (m *Model) PinUIDs() []PinUID {
	uids := make([]PinUID, 0, len(m.Pins))
	for uid := range m.Pins {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}

// PackageNames returns the declared package names in lexicographic order.
func (m *Model) PackageNames() []string {
	names := make([]string, 0, len(m.Packages))
	for name := range m.Packages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Pin returns the spec of uid.
func (m *Model) Pin(uid PinUID) (*PinSpec, bool) {
	p, ok := m.Pins[uid]
	return p, ok
}

// Declared flattens the pin rules into pattern-engine input: pins in
// lexicographic order, rules in declaration order within each pin.
func (m *Model) Declared() []pattern.Declared {
	var out []pattern.Declared
	for _, uid := range m.PinUIDs() {
		for _, r := range m.Pins[uid].Rules {
			out = append(out, pattern.Declared{
				Pin:      uid,
				Text:     r.Text,
				Atom:     r.Atom,
				Err:      r.Err,
				Symbolic: r.Symbolic,
			})
		}
	}
	return out
}

// SymbolicKeys returns every symbolic key declared on any pin.
func (m *Model) SymbolicKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, uid := range m.PinUIDs() {
		for _, r := range m.Pins[uid].Rules {
			if r.IsSymbolic() && !seen[r.Symbolic] {
				seen[r.Symbolic] = true
				keys = append(keys, r.Symbolic)
			}
		}
	}
	return keys
}

// RuleCount returns the number of rule entries across all pins.
func (m *Model) RuleCount() int {
	n := 0
	for _, p := range m.Pins {
		n += len(p.Rules)
	}
	return n
}
