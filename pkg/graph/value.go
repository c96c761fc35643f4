package graph

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

var categoryDims = map[string]units.Dimension{
	"capacitor": units.Capacitance,
	"resistor":  units.Resistance,
	"inductor":  units.Inductance,
}

// refCategories maps reference designator prefixes to part categories.
var refCategories = map[string]string{
	"C":  "capacitor",
	"R":  "resistor",
	"L":  "inductor",
	"FB": "ferrite",
	"D":  "diode",
	"Q":  "transistor",
	"Y":  "crystal",
	"J":  "connector",
	"U":  "ic",
}

// CategoryFromRef guesses a part category from the letters of a reference
// designator, e.g. "C12" is a capacitor. It returns "" when unknown.
func CategoryFromRef(ref string) string {
	prefix := strings.TrimRightFunc(ref, func(r rune) bool {
		return unicode.IsDigit(r) || r == '_' || r == '?'
	})
	return refCategories[strings.ToUpper(prefix)]
}

// ValueDimension returns the unit dimension carried by the values of a
// category, or units.None for categories without a measured value.
func ValueDimension(category string) units.Dimension {
	return categoryDims[strings.ToLower(category)]
}

// ParseValue reads the value field of a passive, e.g. "4k7" for a resistor
// or "100nF 50V" for a capacitor. Only the first word is read. Categories
// without a measured value yield nil and no error.
func ParseValue(category, text string) (*units.Quantity, error) {
	dim := ValueDimension(category)
	fields := strings.Fields(text)
	if dim == units.None || len(fields) == 0 {
		return nil, nil
	}
	q, err := units.Parse(fields[0])
	if err != nil {
		return nil, err
	}
	if q, err = q.In(dim); err != nil {
		return nil, fmt.Errorf("%s value %q: %w", category, text, err)
	}
	return &q, nil
}
