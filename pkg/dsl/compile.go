package dsl

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// CompileError reports malformed rule text. It is scoped to a single rule.
type CompileError struct {
	Text    string // rule text as written
	Offset  int    // rune offset into the normalized text
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q: offset %d: %s", e.Text, e.Offset, e.Message)
}

// Compiler turns rule text into atoms using a kind registry.
type Compiler struct {
	parser   *participle.Parser[ruleNode]
	registry *Registry
}

// NewCompiler creates a compiler for the kinds in registry.
func NewCompiler(registry *Registry) (*Compiler, error) {
	parser, err := participle.Build[ruleNode](
		participle.Lexer(RuleLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule parser: %w", err)
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Compiler{parser: parser, registry: registry}, nil
}

// Registry returns the kind registry the compiler validates against.
func (c *Compiler) Registry() *Registry {
	return c.registry
}

var defaultCompiler = sync.OnceValues(func() (*Compiler, error) {
	return NewCompiler(DefaultRegistry())
})

// Compile compiles text with the base kinds.
func Compile(text string) (*Atom, error) {
	c, err := defaultCompiler()
	if err != nil {
		return nil, err
	}
	return c.Compile(text)
}

// Compile parses one rule line and checks it against the kind's signature.
func (c *Compiler) Compile(text string) (*Atom, error) {
	src := strings.TrimSpace(norm.NFKC.String(text))
	fail := func(byteOffset int, format string, args ...any) error {
		if byteOffset > len(src) {
			byteOffset = len(src)
		}
		return &CompileError{
			Text:    text,
			Offset:  utf8.RuneCountInString(src[:byteOffset]),
			Message: fmt.Sprintf(format, args...),
		}
	}

	if src == "" {
		return nil, fail(0, "empty rule")
	}

	node, err := c.parser.ParseString("", src)
	if err != nil {
		var perr participle.Error
		if errors.As(err, &perr) {
			return nil, fail(perr.Position().Offset, "%s", perr.Message())
		}
		return nil, fail(0, "%v", err)
	}

	spec, ok := c.registry.Lookup(node.Kind)
	if !ok {
		return nil, fail(node.Pos.Offset, "unknown rule kind %q (known: %s)",
			node.Kind, strings.Join(c.registry.Kinds(), ", "))
	}

	args, err := bindArgs(spec, node, fail)
	if err != nil {
		return nil, err
	}

	params, err := spec.Build(args)
	if err != nil {
		return nil, fail(node.Pos.Offset, "%s: %v", spec.Name, err)
	}

	return &Atom{Kind: spec.Name, Params: params, Firm: node.Firm}, nil
}

type failFunc func(byteOffset int, format string, args ...any) error

// bindArgs matches positional and named arguments to the kind's signature
// and type-checks each value.
func bindArgs(spec *KindSpec, node *ruleNode, fail failFunc) (Args, error) {
	var positional []ArgSpec
	for _, a := range spec.Args {
		if a.Positional {
			positional = append(positional, a)
		}
	}

	args := make(Args)
	seenNamed := false
	next := 0
	for _, arg := range node.Args {
		var as ArgSpec
		if arg.Name == "" {
			if seenNamed {
				return nil, fail(arg.Pos.Offset, "positional argument after named argument")
			}
			if next >= len(positional) {
				return nil, fail(arg.Pos.Offset, "%s takes at most %d positional arguments",
					spec.Name, len(positional))
			}
			as = positional[next]
			next++
		} else {
			seenNamed = true
			idx := slices.IndexFunc(spec.Args, func(a ArgSpec) bool { return a.Name == arg.Name })
			if idx < 0 {
				return nil, fail(arg.Pos.Offset, "%s has no argument %q", spec.Name, arg.Name)
			}
			as = spec.Args[idx]
		}
		if _, dup := args[as.Name]; dup {
			return nil, fail(arg.Pos.Offset, "argument %q given twice", as.Name)
		}

		v, err := checkValue(as, arg.Value)
		if err != nil {
			return nil, fail(arg.Value.Pos.Offset, "argument %q: %v", as.Name, err)
		}
		args[as.Name] = v
	}

	for _, as := range spec.Args {
		if _, ok := args[as.Name]; as.Required && !ok {
			return nil, fail(node.Pos.Offset, "%s requires argument %q", spec.Name, as.Name)
		}
	}
	return args, nil
}

func checkValue(as ArgSpec, v *valueNode) (Value, error) {
	switch as.Type {
	case MagnitudeValue:
		if v.Magnitude == "" {
			return Value{}, fmt.Errorf("expected a magnitude, got %q", v.text())
		}
		if !as.AllowComparator && (v.Comparator != "" || strings.HasSuffix(v.Magnitude, "+")) {
			return Value{}, fmt.Errorf("comparator not allowed here")
		}
		cmp, err := units.ParseComparison(v.Comparator + v.Magnitude)
		if err != nil {
			return Value{}, err
		}
		cmp, err = cmp.In(as.Dim)
		if err != nil {
			return Value{}, err
		}
		return Value{Comparison: cmp}, nil

	case EnumValue:
		if v.Ident == "" || v.Comparator != "" {
			return Value{}, fmt.Errorf("expected one of %s, got %q", strings.Join(as.Enum, "|"), v.text())
		}
		if !slices.Contains(as.Enum, v.Ident) {
			return Value{}, fmt.Errorf("unknown value %q (expected %s)", v.Ident, strings.Join(as.Enum, "|"))
		}
		return Value{Ident: v.Ident}, nil

	case PinValue:
		if v.PinUID == "" || v.Comparator != "" {
			return Value{}, fmt.Errorf("expected a pin uid, got %q", v.text())
		}
		uid := PinUID(v.PinUID)
		if !uid.Valid() {
			return Value{}, fmt.Errorf("pin uid %q must have the form domain.function.qualifier", v.PinUID)
		}
		return Value{Pin: uid}, nil
	}
	return Value{}, fmt.Errorf("unsupported argument type %s", as.Type)
}
