package sexpr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTracksLines(t *testing.T) {
	src := `(export (version "E")
  (components
    (comp (ref "U1")
      (value "TPS5430")
      (at 12.5 -4))))
`
	root, err := ParseRoot(strings.NewReader(src), "export")
	require.NoError(t, err)
	assert.Equal(t, 1, root.Line())

	v, ok := root.Value("version")
	assert.True(t, ok)
	assert.Equal(t, "E", v)

	comps, ok := root.Find("components")
	require.True(t, ok)
	assert.Equal(t, 2, comps.Line())
	all := comps.FindAll("comp")
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].Line())

	ref, _ := all[0].Value("ref")
	assert.Equal(t, "U1", ref)

	at, ok := all[0].Find("at")
	require.True(t, ok)
	assert.Equal(t, 5, at.Line())
	x, ok := at.Float(1)
	assert.True(t, ok)
	assert.Equal(t, 12.5, x)
	y, _ := at.Float(2)
	assert.Equal(t, -4.0, y)
	_, ok = at.Float(3)
	assert.False(t, ok)
}

func TestAtoms(t *testing.T) {
	exprs, err := ParseString(`(field (name "ERC_Tags") "bulk, \"hot\"")
sym`)
	require.NoError(t, err)
	require.Len(t, exprs, 2)

	l := exprs[0].(*List)
	assert.Equal(t, "field", l.Head())
	s, ok := l.Atom(2)
	assert.True(t, ok)
	assert.Equal(t, `bulk, "hot"`, s)
	_, ok = l.Atom(1)
	assert.False(t, ok, "index 1 is a list")

	a := exprs[1].(*Atom)
	assert.False(t, a.Quoted)
	assert.Equal(t, 2, a.Line())
	assert.Equal(t, `(field (name "ERC_Tags") "bulk, \"hot\"")`, l.String())
}

func TestHashStartsAnAtom(t *testing.T) {
	exprs, err := ParseString("(node (ref #PWR01) (pin 1))\n#FLG02")
	require.NoError(t, err)
	require.Len(t, exprs, 2)

	ref, ok := exprs[0].(*List).Value("ref")
	assert.True(t, ok)
	assert.Equal(t, "#PWR01", ref)
	assert.Equal(t, "#FLG02", exprs[1].(*Atom).Value)
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  string
	}{
		{"unclosed", "(a\n(b c)\n", "sexpr: line 1: list is never closed"},
		{"stray close", "(a)\n)", "sexpr: line 2: unexpected ')'"},
		{"string", "(a\n \"oops", "sexpr: line 2: unterminated string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.src)
			var serr *SyntaxError
			require.ErrorAs(t, err, &serr)
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestParseRootChecksName(t *testing.T) {
	_, err := ParseRoot(strings.NewReader("(kicad_pcb)"), "export")
	assert.EqualError(t, err, "sexpr: line 1: expected (export ...), got (kicad_pcb ...)")

	_, err = ParseRoot(strings.NewReader("  "), "export")
	assert.EqualError(t, err, "sexpr: line 1: empty input")
}
