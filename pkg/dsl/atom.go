package dsl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// PinUID is a stable semantic pin identity of the form
// domain.function.qualifier, independent of package and pin numbering.
type PinUID string

var pinUIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*\.[A-Za-z0-9_]+\.[A-Za-z0-9_]+$`)

// Valid reports whether the UID has the three-segment form.
func (u PinUID) Valid() bool {
	return pinUIDPattern.MatchString(string(u))
}

// Params are the typed arguments of one rule kind. Implementations are
// immutable once built.
type Params interface {
	// Args returns the canonical argument list, in declaration order.
	Args() []string
}

// PinReferrer is implemented by Params that name pins besides the anchor.
type PinReferrer interface {
	References() []PinUID
}

// Atom is one compiled, enforceable requirement.
type Atom struct {
	Kind   string
	Params Params
	// Firm rules fail with error severity, flexible ones with warning.
	Firm bool
}

// String renders the canonical rule text.
func (a *Atom) String() string {
	if a.Firm {
		return a.Body() + "!"
	}
	return a.Body()
}

// Body renders the canonical rule text without the firmness marker.
func (a *Atom) Body() string {
	var args []string
	if a.Params != nil {
		args = a.Params.Args()
	}
	return a.Kind + "(" + strings.Join(args, ", ") + ")"
}

// References returns the pins the rule names besides its anchor.
func (a *Atom) References() []PinUID {
	if r, ok := a.Params.(PinReferrer); ok {
		return r.References()
	}
	return nil
}

// WithFirmness returns a copy of the atom with the given firmness. The
// receiver is never modified.
func (a *Atom) WithFirmness(firm bool) *Atom {
	clone := *a
	clone.Firm = firm
	return &clone
}

// Equal reports whether two atoms render to the same canonical text.
func (a *Atom) Equal(b *Atom) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// Purpose classifies a capacitor requirement.
type Purpose string

const (
	PurposeAny        Purpose = ""
	PurposeDecoupling Purpose = "decoupling"
	PurposeBulk       Purpose = "bulk"
	PurposeRef        Purpose = "ref"
)

// CapParams requires capacitance on the anchor net.
type CapParams struct {
	// Value is the required total; AtLeast for "47u+", Nominal for "0.1u".
	Value   units.Comparison
	Purpose Purpose
	// MaxDist limits counted capacitors to those placed within this length
	// of the anchor component. Nil means unlimited.
	MaxDist *units.Quantity
}

// Args implements Params.
func (p *CapParams) Args() []string {
	args := []string{formatCapValue(p.Value)}
	if p.Purpose != PurposeAny {
		args = append(args, "purpose="+string(p.Purpose))
	}
	if p.MaxDist != nil {
		args = append(args, "max_dist="+p.MaxDist.String())
	}
	return args
}

func formatCapValue(c units.Comparison) string {
	if c.Op == units.AtLeast {
		return c.Quantity.String() + "+"
	}
	return c.String()
}

// PullDirection is the rail a pull resistor ties a pin towards.
type PullDirection string

const (
	PullUp   PullDirection = "up"
	PullDown PullDirection = "down"
)

// PullParams requires a resistor from the anchor net to the net of Target.
type PullParams struct {
	Direction  PullDirection
	Target     PinUID
	Resistance units.Comparison
}

// Args implements Params.
func (p *PullParams) Args() []string {
	return []string{string(p.Direction), string(p.Target), p.Resistance.String()}
}

// References implements PinReferrer.
func (p *PullParams) References() []PinUID {
	return []PinUID{p.Target}
}

// MustCompile compiles text with the default registry and panics on error.
// Intended for tests and package-level literals.
func MustCompile(text string) *Atom {
	atom, err := Compile(text)
	if err != nil {
		panic(fmt.Sprintf("dsl: MustCompile(%q): %v", text, err))
	}
	return atom
}
