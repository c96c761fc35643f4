package units

import (
	"fmt"
	"math"
	"strings"
)

// Op is the comparator attached to a magnitude.
type Op int

const (
	// Nominal means "equal within the caller's tolerance band".
	Nominal Op = iota
	AtLeast
	AtMost
	Greater
	Less
)

var opTokens = map[Op]string{
	Nominal: "",
	AtLeast: ">=",
	AtMost:  "<=",
	Greater: ">",
	Less:    "<",
}

func (o Op) String() string {
	if o == Nominal {
		return "nominal"
	}
	return opTokens[o]
}

// ParseOp maps a comparator token to an Op. The empty string is Nominal.
func ParseOp(tok string) (Op, error) {
	switch tok {
	case "":
		return Nominal, nil
	case ">=":
		return AtLeast, nil
	case "<=":
		return AtMost, nil
	case ">":
		return Greater, nil
	case "<":
		return Less, nil
	}
	return Nominal, fmt.Errorf("units: unknown comparator %q", tok)
}

// Comparison is a magnitude together with the way measured values are
// compared against it.
type Comparison struct {
	Op       Op
	Quantity Quantity
}

// ParseComparison reads "<=10k", ">=10uH", "47u+" (at least) or a bare
// magnitude (nominal).
func ParseComparison(s string) (Comparison, error) {
	src := strings.TrimSpace(s)
	var op Op
	switch {
	case strings.HasPrefix(src, ">="):
		op, src = AtLeast, src[2:]
	case strings.HasPrefix(src, "<="):
		op, src = AtMost, src[2:]
	case strings.HasPrefix(src, ">"):
		op, src = Greater, src[1:]
	case strings.HasPrefix(src, "<"):
		op, src = Less, src[1:]
	}
	src = strings.TrimSpace(src)
	if strings.HasSuffix(src, "+") {
		if op != Nominal {
			return Comparison{}, fmt.Errorf("units: %q combines a comparator with '+'", s)
		}
		op, src = AtLeast, strings.TrimSuffix(src, "+")
	}
	q, err := Parse(src)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{Op: op, Quantity: q}, nil
}

// In assigns or checks the dimension of the compared quantity.
func (c Comparison) In(d Dimension) (Comparison, error) {
	q, err := c.Quantity.In(d)
	if err != nil {
		return c, err
	}
	c.Quantity = q
	return c, nil
}

// HasFloor reports whether the comparison sets a lower limit, so that
// nothing at all cannot satisfy it.
func (c Comparison) HasFloor() bool {
	return c.Op == Nominal || c.Op == AtLeast || c.Op == Greater
}

// Match reports whether v satisfies the comparison. tolerance is the relative
// band applied to Nominal comparisons (0.2 = ±20 %).
func (c Comparison) Match(v, tolerance float64) bool {
	t := c.Quantity.Value
	eps := 1e-9 * math.Abs(t)
	switch c.Op {
	case AtLeast:
		return v >= t-eps
	case AtMost:
		return v <= t+eps
	case Greater:
		return v > t+eps
	case Less:
		return v < t-eps
	default:
		return math.Abs(v-t) <= tolerance*math.Abs(t)+eps
	}
}

func (c Comparison) String() string {
	return opTokens[c.Op] + c.Quantity.String()
}
