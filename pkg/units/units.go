// Package units parses and formats the electrical magnitudes used by pin
// rules and schematic values.
//
// Magnitudes are written with an optional SI prefix and an optional unit
// symbol ("100n", "0.1uF", "10uH", "4.7kΩ") or in RKM notation where the
// multiplier replaces the decimal point ("4k7", "4R7", "2u2"). A magnitude
// written without a unit symbol has no dimension until a caller assigns one
// with Quantity.In.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Dimension identifies the physical quantity a magnitude measures.
type Dimension int

const (
	None Dimension = iota
	Capacitance
	Resistance
	Inductance
	Voltage
	Current
	Frequency
	Length
)

var dimensionNames = map[Dimension]string{
	None:        "dimensionless",
	Capacitance: "capacitance",
	Resistance:  "resistance",
	Inductance:  "inductance",
	Voltage:     "voltage",
	Current:     "current",
	Frequency:   "frequency",
	Length:      "length",
}

var dimensionSymbols = map[Dimension]string{
	Capacitance: "F",
	Resistance:  "\u03a9",
	Inductance:  "H",
	Voltage:     "V",
	Current:     "A",
	Frequency:   "Hz",
	Length:      "m",
}

func (d Dimension) String() string {
	if name, ok := dimensionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Dimension(%d)", int(d))
}

// Symbol returns the unit symbol used when formatting the dimension.
func (d Dimension) Symbol() string {
	return dimensionSymbols[d]
}

// Quantity is a magnitude in base SI units.
type Quantity struct {
	Value float64
	Dim   Dimension
}

// In assigns a dimension to a dimensionless quantity, or checks that an
// explicit unit matches the expected one.
func (q Quantity) In(d Dimension) (Quantity, error) {
	if q.Dim == None {
		q.Dim = d
		return q, nil
	}
	if q.Dim != d {
		return q, fmt.Errorf("expected %s, got %s", d, q.Dim)
	}
	return q, nil
}

func (q Quantity) String() string {
	return Format(q.Value, q.Dim)
}

type prefix struct {
	symbol string
	scale  float64
}

// Ordered from largest to smallest; used by Format.
var formatPrefixes = []prefix{
	{"G", 1e9},
	{"M", 1e6},
	{"k", 1e3},
	{"", 1},
	{"m", 1e-3},
	{"u", 1e-6},
	{"n", 1e-9},
	{"p", 1e-12},
}

var parsePrefixes = map[string]float64{
	"":  1,
	"p": 1e-12,
	"n": 1e-9,
	"u": 1e-6,
	"\u03bc": 1e-6,
	"m": 1e-3,
	"k": 1e3,
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
}

type unitSuffix struct {
	symbol string
	dim    Dimension
	scale  float64
}

// Longest symbols first so "mil" wins over "m" and "ohm" over nothing.
var unitSuffixes = []unitSuffix{
	{"ohms", Resistance, 1},
	{"ohm", Resistance, 1},
	{"Ohm", Resistance, 1},
	{"mil", Length, 25.4e-6},
	{"Hz", Frequency, 1},
	{"in", Length, 0.0254},
	{"\u03a9", Resistance, 1},
	{"R", Resistance, 1},
	{"F", Capacitance, 1},
	{"H", Inductance, 1},
	{"V", Voltage, 1},
	{"A", Current, 1},
	{"m", Length, 1},
}

// Parse reads a magnitude such as "100n", "0.1uF", "4k7" or "10mm".
func Parse(s string) (Quantity, error) {
	src := strings.TrimSpace(norm.NFKC.String(s))
	if src == "" {
		return Quantity{}, fmt.Errorf("units: empty magnitude")
	}

	i := 0
	if src[0] == '-' {
		i++
	}
	sawDot := false
	for i < len(src) {
		c := src[i]
		if c >= '0' && c <= '9' {
			i++
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			i++
			continue
		}
		break
	}
	number := src[:i]
	if number == "" || number == "-" || number == "." {
		return Quantity{}, fmt.Errorf("units: %q does not start with a number", s)
	}
	rest := src[i:]

	// RKM: a multiplier letter standing in for the decimal point.
	letters, after := splitLetters(rest)
	if after != "" && after[0] >= '0' && after[0] <= '9' {
		if sawDot {
			return Quantity{}, fmt.Errorf("units: %q mixes a decimal point with RKM notation", s)
		}
		digits := after
		j := 0
		for j < len(digits) && digits[j] >= '0' && digits[j] <= '9' {
			j++
		}
		mult, dim, ok := rkmMultiplier(letters)
		if !ok {
			return Quantity{}, fmt.Errorf("units: %q is not a valid RKM code", s)
		}
		number = number + "." + digits[:j]
		rest = digits[j:]
		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return Quantity{}, fmt.Errorf("units: %q: %w", s, err)
		}
		q := Quantity{Value: v * mult, Dim: dim}
		if rest == "" {
			return q, nil
		}
		u, ok := lookupUnit(rest)
		if !ok || (dim != None && u.dim != dim) {
			return Quantity{}, fmt.Errorf("units: unknown unit %q in %q", rest, s)
		}
		q.Value *= u.scale
		q.Dim = u.dim
		return q, nil
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("units: %q: %w", s, err)
	}
	if rest == "" {
		return Quantity{Value: v}, nil
	}
	if scale, ok := parsePrefixes[rest]; ok {
		return Quantity{Value: v * scale}, nil
	}
	for _, u := range unitSuffixes {
		if !strings.HasSuffix(rest, u.symbol) {
			continue
		}
		scale, ok := parsePrefixes[strings.TrimSuffix(rest, u.symbol)]
		if !ok {
			continue
		}
		return Quantity{Value: v * scale * u.scale, Dim: u.dim}, nil
	}
	return Quantity{}, fmt.Errorf("units: unknown unit %q in %q", rest, s)
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Quantity {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

func splitLetters(s string) (string, string) {
	for i, r := range s {
		if !unicode.IsLetter(r) {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func rkmMultiplier(letter string) (float64, Dimension, bool) {
	switch letter {
	case "R", "r":
		return 1, Resistance, true
	case "V":
		return 1, Voltage, true
	}
	scale, ok := parsePrefixes[letter]
	if !ok || letter == "" {
		return 0, None, false
	}
	return scale, None, true
}

func lookupUnit(symbol string) (unitSuffix, bool) {
	for _, u := range unitSuffixes {
		if u.symbol == symbol {
			return u, true
		}
	}
	return unitSuffix{}, false
}

// Format renders a value in engineering notation with the dimension's unit
// symbol, e.g. 1e-7 F → "100nF". Mantissas keep six significant digits, so
// Parse(Format(v)) formats back to the same text.
func Format(v float64, d Dimension) string {
	sym := d.Symbol()
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64) + sym
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	idx := len(formatPrefixes) - 1
	for i, p := range formatPrefixes {
		if v >= p.scale*(1-1e-9) {
			idx = i
			break
		}
	}
	m := round6(v / formatPrefixes[idx].scale)
	if m >= 1000 && idx > 0 {
		idx--
		m = round6(m / 1000)
	}
	return sign + strconv.FormatFloat(m, 'f', -1, 64) + formatPrefixes[idx].symbol + sym
}

func round6(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 6, 64), 64)
	if err != nil {
		return v
	}
	return r
}
