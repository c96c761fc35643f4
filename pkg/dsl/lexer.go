package dsl

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// RuleLexer defines the lexical structure of pin rule text.
// Rule order matters: the first pattern that matches at a position wins, so
// dotted PinUIDs must be tried before plain identifiers and two-character
// comparators before single characters.
var RuleLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Whitespace is insignificant everywhere
	{Name: "Whitespace", Pattern: `\s+`},

	// Comparators prefixing a magnitude
	{Name: "Comparator", Pattern: `<=|>=|<|>`},

	// Magnitudes: number, optional prefix/unit/RKM tail, optional "+"
	// (e.g. 0.1u, 100nF, 4k7, 47u+, 4.7kΩ)
	{Name: "Magnitude", Pattern: `(?:[0-9]+\.?[0-9]*|\.[0-9]+)[0-9A-Za-z\x{03bc}\x{03a9}]*\+?`},

	// Semantic pin identities: domain.function.qualifier
	{Name: "PinUID", Pattern: `[A-Za-z][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)+`},

	// Rule kinds, argument names and enumerated values
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},

	// Punctuation
	{Name: "Punct", Pattern: `[(),=!]`},
})
