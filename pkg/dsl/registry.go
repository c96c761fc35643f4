package dsl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// ValueType is the syntactic class an argument accepts.
type ValueType int

const (
	MagnitudeValue ValueType = iota
	EnumValue
	PinValue
)

func (t ValueType) String() string {
	switch t {
	case MagnitudeValue:
		return "magnitude"
	case EnumValue:
		return "identifier"
	case PinValue:
		return "pin uid"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// ArgSpec declares one argument of a rule kind.
type ArgSpec struct {
	Name       string
	Type       ValueType
	Required   bool
	Positional bool // may be supplied without name=, in declaration order

	Dim             units.Dimension // MagnitudeValue only
	AllowComparator bool            // MagnitudeValue only: <=, >=, <, >, trailing +
	Enum            []string        // EnumValue only
}

// Value is a type-checked argument value handed to KindSpec.Build.
type Value struct {
	Comparison units.Comparison
	Ident      string
	Pin        PinUID
}

// Args maps argument names to supplied values. Optional arguments that were
// not supplied are absent.
type Args map[string]Value

// KindSpec describes a rule kind: its argument signature and how checked
// arguments become Params.
type KindSpec struct {
	Name  string
	Args  []ArgSpec
	Build func(args Args) (Params, error)
}

// Registry maps kind names to their specs. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*KindSpec
}

// NewRegistry creates a registry holding the given kinds.
func NewRegistry(specs ...*KindSpec) (*Registry, error) {
	r := &Registry{kinds: make(map[string]*KindSpec)}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the base kinds cap and pull.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(CapKind(), PullKind())
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a kind. Registering the same name twice is an error.
func (r *Registry) Register(spec *KindSpec) error {
	if spec == nil || spec.Name == "" || spec.Build == nil {
		return fmt.Errorf("dsl: invalid kind spec")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[spec.Name]; exists {
		return fmt.Errorf("dsl: kind %q already registered", spec.Name)
	}
	r.kinds[spec.Name] = spec
	return nil
}

// Lookup returns the spec for a kind name.
func (r *Registry) Lookup(name string) (*KindSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.kinds[name]
	return spec, ok
}

// Kinds returns all registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CapKind is cap(value, [purpose=decoupling|bulk|ref], [max_dist=length]).
func CapKind() *KindSpec {
	return &KindSpec{
		Name: "cap",
		Args: []ArgSpec{
			{Name: "value", Type: MagnitudeValue, Required: true, Positional: true,
				Dim: units.Capacitance, AllowComparator: true},
			{Name: "purpose", Type: EnumValue,
				Enum: []string{string(PurposeDecoupling), string(PurposeBulk), string(PurposeRef)}},
			{Name: "max_dist", Type: MagnitudeValue, Dim: units.Length},
		},
		Build: func(args Args) (Params, error) {
			p := &CapParams{
				Value:   args["value"].Comparison,
				Purpose: Purpose(args["purpose"].Ident),
			}
			if v, ok := args["max_dist"]; ok {
				q := v.Comparison.Quantity
				if q.Value <= 0 {
					return nil, fmt.Errorf("max_dist must be positive")
				}
				p.MaxDist = &q
			}
			if p.Value.Quantity.Value <= 0 {
				return nil, fmt.Errorf("capacitance must be positive")
			}
			return p, nil
		},
	}
}

// PullKind is pull(up|down, pin_uid, comparator resistance).
func PullKind() *KindSpec {
	return &KindSpec{
		Name: "pull",
		Args: []ArgSpec{
			{Name: "direction", Type: EnumValue, Required: true, Positional: true,
				Enum: []string{string(PullUp), string(PullDown)}},
			{Name: "target", Type: PinValue, Required: true, Positional: true},
			{Name: "resistance", Type: MagnitudeValue, Required: true, Positional: true,
				Dim: units.Resistance, AllowComparator: true},
		},
		Build: func(args Args) (Params, error) {
			p := &PullParams{
				Direction:  PullDirection(args["direction"].Ident),
				Target:     args["target"].Pin,
				Resistance: args["resistance"].Comparison,
			}
			if p.Resistance.Quantity.Value <= 0 {
				return nil, fmt.Errorf("resistance must be positive")
			}
			return p, nil
		},
	}
}
