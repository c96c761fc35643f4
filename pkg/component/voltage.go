package component

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// Bound is one voltage limit, either absolute or relative to the voltage of
// another pin of the same component.
type Bound struct {
	// Ref is empty for absolute bounds.
	Ref PinUID
	// Offset is in volts; for absolute bounds it is the voltage itself.
	Offset float64
}

var relativeBound = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*\.[A-Za-z0-9_]+\.[A-Za-z0-9_]+)\s*(?:([+-])\s*(.+))?$`)

// ParseBound reads "3.3", "3.3V", "-0.3V", "power.vdd.main" or
// "power.vdd.main + 0.3V".
func ParseBound(s string) (Bound, error) {
	src := strings.TrimSpace(s)
	if m := relativeBound.FindStringSubmatch(src); m != nil {
		b := Bound{Ref: PinUID(m[1])}
		if m[2] == "" {
			return b, nil
		}
		v, err := parseVolts(m[3])
		if err != nil {
			return Bound{}, fmt.Errorf("voltage %q: %w", s, err)
		}
		if m[2] == "-" {
			v = -v
		}
		b.Offset = v
		return b, nil
	}
	v, err := parseVolts(src)
	if err != nil {
		return Bound{}, fmt.Errorf("voltage %q: %w", s, err)
	}
	return Bound{Offset: v}, nil
}

func parseVolts(s string) (float64, error) {
	q, err := units.Parse(s)
	if err != nil {
		return 0, err
	}
	if q, err = q.In(units.Voltage); err != nil {
		return 0, err
	}
	return q.Value, nil
}

// Relative reports whether the bound depends on another pin.
func (b Bound) Relative() bool {
	return b.Ref != ""
}

func (b Bound) String() string {
	if !b.Relative() {
		return formatVolts(b.Offset)
	}
	switch {
	case b.Offset > 0:
		return string(b.Ref) + " + " + formatVolts(b.Offset)
	case b.Offset < 0:
		return string(b.Ref) + " - " + formatVolts(-b.Offset)
	}
	return string(b.Ref)
}

func formatVolts(v float64) string {
	return units.Format(v, units.Voltage)
}

// Envelope is the declared operating voltage range of a pin.
type Envelope struct {
	Nominal *Bound
	AbsMin  *Bound
	AbsMax  *Bound
}

// Refs returns the pins the envelope refers to.
func (e *Envelope) Refs() []PinUID {
	var refs []PinUID
	for _, b := range []*Bound{e.Nominal, e.AbsMin, e.AbsMax} {
		if b != nil && b.Relative() {
			refs = append(refs, b.Ref)
		}
	}
	return refs
}
