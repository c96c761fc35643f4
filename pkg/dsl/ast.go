package dsl

import "github.com/alecthomas/participle/v2/lexer"

// ruleNode is the parse tree of one rule line.
// Example: pull(up, power.vddio.main, <=10k)!
type ruleNode struct {
	Pos  lexer.Position
	Kind string     `@Ident "("`
	Args []*argNode `( @@ ( "," @@ )* )? ")"`
	Firm bool       `@"!"?`
}

// argNode is one positional or named argument.
// Example: purpose=bulk
type argNode struct {
	Pos   lexer.Position
	Name  string     `( @Ident "=" )?`
	Value *valueNode `@@`
}

// valueNode holds exactly one of Magnitude, PinUID or Ident; Comparator may
// prefix any of them and is rejected later for non-magnitudes.
type valueNode struct {
	Pos        lexer.Position
	Comparator string `@Comparator?`
	Magnitude  string `( @Magnitude`
	PinUID     string `| @PinUID`
	Ident      string `| @Ident )`
}

func (v *valueNode) text() string {
	switch {
	case v.Magnitude != "":
		return v.Comparator + v.Magnitude
	case v.PinUID != "":
		return v.Comparator + v.PinUID
	default:
		return v.Comparator + v.Ident
	}
}
