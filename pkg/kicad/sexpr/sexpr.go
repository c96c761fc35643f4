// Package sexpr reads the s-expression files written by KiCad: schematics,
// netlists and boards. Every node remembers the line it started on so that
// importers can point at the offending part of a file.
package sexpr

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sexp is either an *Atom or a *List.
type Sexp interface {
	Line() int
	String() string
}

// Atom is a symbol or quoted string.
type Atom struct {
	Value  string
	Quoted bool
	line   int
}

func (a *Atom) Line() int { return a.line }

func (a *Atom) String() string {
	if a.Quoted {
		return strconv.Quote(a.Value)
	}
	return a.Value
}

// List is a parenthesised sequence. KiCad lists start with a symbol naming
// the node, e.g. (comp (ref "U1") ...).
type List struct {
	Items []Sexp
	line  int
}

func (l *List) Line() int { return l.line }

func (l *List) String() string {
	parts := make([]string, len(l.Items))
	for i, it := range l.Items {
		parts[i] = it.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Head returns the node name, or "" when the list does not start with an atom.
func (l *List) Head() string {
	if len(l.Items) == 0 {
		return ""
	}
	if a, ok := l.Items[0].(*Atom); ok {
		return a.Value
	}
	return ""
}

// Find returns the first direct child list named name.
func (l *List) Find(name string) (*List, bool) {
	for _, it := range l.Items {
		if c, ok := it.(*List); ok && c.Head() == name {
			return c, true
		}
	}
	return nil, false
}

// FindAll returns every direct child list named name.
func (l *List) FindAll(name string) []*List {
	var out []*List
	for _, it := range l.Items {
		if c, ok := it.(*List); ok && c.Head() == name {
			out = append(out, c)
		}
	}
	return out
}

// Atom returns the atom at index i.
func (l *List) Atom(i int) (string, bool) {
	if i < 0 || i >= len(l.Items) {
		return "", false
	}
	a, ok := l.Items[i].(*Atom)
	if !ok {
		return "", false
	}
	return a.Value, true
}

// Float returns the atom at index i as a number.
func (l *List) Float(i int) (float64, bool) {
	s, ok := l.Atom(i)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// Value returns the first atom of the child named name, so that
// (comp (ref "U1")) yields "U1" for Value("ref").
func (l *List) Value(name string) (string, bool) {
	c, ok := l.Find(name)
	if !ok {
		return "", false
	}
	return c.Atom(1)
}

// SyntaxError reports malformed input.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("sexpr: line %d: %s", e.Line, e.Msg)
}

// Parse reads every top-level expression from r.
func Parse(r io.Reader) ([]Sexp, error) {
	p := &parser{lex: newLexer(r)}
	var out []Sexp
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if tok.typ == tokenEOF {
			return out, nil
		}
		expr, err := p.expr(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
}

// ParseString is Parse over a string.
func ParseString(s string) ([]Sexp, error) {
	return Parse(strings.NewReader(s))
}

// ParseRoot reads a file whose single top-level list must be named root,
// e.g. "export" for netlists or "kicad_sch" for schematics.
func ParseRoot(r io.Reader, root string) (*List, error) {
	exprs, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, &SyntaxError{Line: 1, Msg: "empty input"}
	}
	l, ok := exprs[0].(*List)
	if !ok || l.Head() != root {
		return nil, &SyntaxError{Line: exprs[0].Line(), Msg: fmt.Sprintf("expected (%s ...), got %s", root, head(exprs[0]))}
	}
	return l, nil
}

func head(s Sexp) string {
	if l, ok := s.(*List); ok {
		return "(" + l.Head() + " ...)"
	}
	return s.String()
}

type parser struct {
	lex *lexer
}

func (p *parser) expr(tok token) (Sexp, error) {
	switch tok.typ {
	case tokenOpen:
		return p.list(tok.line)
	case tokenSymbol:
		return &Atom{Value: tok.value, line: tok.line}, nil
	case tokenString:
		return &Atom{Value: tok.value, Quoted: true, line: tok.line}, nil
	case tokenClose:
		return nil, &SyntaxError{Line: tok.line, Msg: "unexpected ')'"}
	}
	return nil, &SyntaxError{Line: tok.line, Msg: "unexpected end of input"}
}

func (p *parser) list(line int) (*List, error) {
	l := &List{line: line}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch tok.typ {
		case tokenClose:
			return l, nil
		case tokenEOF:
			return nil, &SyntaxError{Line: line, Msg: "list is never closed"}
		}
		item, err := p.expr(tok)
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, item)
	}
}
