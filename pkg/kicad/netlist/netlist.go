// Package netlist imports KiCad netlists (.net, s-expression format) into a
// schematic graph.
//
// KiCad symbols carry no notion of component models, so the importer reads
// optional symbol fields:
//
//	ERC_Component  component model id (default: the library part, when known)
//	ERC_Package    package name (default: the footprint name after ':')
//	ERC_Category   part category (default: from the library part or reference)
//	ERC_Tags       comma separated purpose tags, e.g. "bulk"
package netlist

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/kicad/sexpr"
)

// Symbol fields read by the importer.
const (
	FieldComponent = "ERC_Component"
	FieldPackage   = "ERC_Package"
	FieldCategory  = "ERC_Category"
	FieldTags      = "ERC_Tags"
)

// Warning is a netlist entry the importer skipped or guessed at.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// Result is an imported netlist.
type Result struct {
	Graph    *graph.Graph
	Warnings []Warning
}

type importer struct {
	known     func(part string) bool
	positions map[string]graph.Point
	logger    *slog.Logger
	warnings  []Warning
}

// Option configures an import.
type Option func(*importer)

// WithKnownComponents makes library parts accepted by known act as component
// model ids when no ERC_Component field is set.
func WithKnownComponents(known func(part string) bool) Option {
	return func(im *importer) {
		im.known = known
	}
}

// WithPositions attaches symbol positions, see ReadPositions.
func WithPositions(pos map[string]graph.Point) Option {
	return func(im *importer) {
		im.positions = pos
	}
}

// WithLogger logs every warning as it is found.
func WithLogger(logger *slog.Logger) Option {
	return func(im *importer) {
		im.logger = logger
	}
}

// ReadFile imports the netlist at path.
func ReadFile(path string, opts ...Option) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open netlist: %w", err)
	}
	defer f.Close()
	return Read(f, opts...)
}

// Read imports a netlist. Malformed entries become warnings; only unreadable
// input is an error.
func Read(r io.Reader, opts ...Option) (*Result, error) {
	im := &importer{
		known:  func(string) bool { return false },
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(im)
	}

	root, err := sexpr.ParseRoot(r, "export")
	if err != nil {
		return nil, fmt.Errorf("netlist: %w", err)
	}

	b := graph.NewBuilder()
	if comps, ok := root.Find("components"); ok {
		for _, c := range comps.FindAll("comp") {
			inst, ok := im.instance(c)
			if !ok {
				continue
			}
			if _, err := b.AddInstance(inst); err != nil {
				im.warn(c.Line(), "%v", err)
			}
		}
	}
	if nets, ok := root.Find("nets"); ok {
		for _, n := range nets.FindAll("net") {
			im.net(b, n)
		}
	}
	return &Result{Graph: b.Build(), Warnings: im.warnings}, nil
}

func (im *importer) warn(line int, format string, args ...any) {
	w := Warning{Line: line, Message: fmt.Sprintf(format, args...)}
	im.warnings = append(im.warnings, w)
	im.logger.Warn("netlist entry skipped", "line", w.Line, "problem", w.Message)
}

func (im *importer) instance(c *sexpr.List) (graph.Instance, bool) {
	ref, _ := c.Value("ref")
	if ref == "" {
		im.warn(c.Line(), "component without reference designator")
		return graph.Instance{}, false
	}
	if strings.HasPrefix(ref, "#") {
		return graph.Instance{}, false
	}

	fields := fieldsOf(c)
	var lib, part string
	if ls, ok := c.Find("libsource"); ok {
		lib, _ = ls.Value("lib")
		part, _ = ls.Value("part")
	}

	inst := graph.Instance{
		Ref:       ref,
		Component: fields[FieldComponent],
		Package:   fields[FieldPackage],
		Category:  strings.ToLower(fields[FieldCategory]),
		Tags:      splitTags(fields[FieldTags]),
	}
	if inst.Component == "" && part != "" && im.known(part) {
		inst.Component = part
	}
	if inst.Package == "" {
		if fp, ok := c.Value("footprint"); ok {
			_, name, found := strings.Cut(fp, ":")
			if !found {
				name = fp
			}
			inst.Package = name
		}
	}
	if inst.Category == "" && inst.Component == "" {
		inst.Category = partCategory(lib, part)
		if inst.Category == "" {
			inst.Category = graph.CategoryFromRef(ref)
		}
	}
	if inst.Component != "" && inst.Package == "" {
		im.warn(c.Line(), "%s: component %s has no footprint or %s field", ref, inst.Component, FieldPackage)
	}

	value, _ := c.Value("value")
	q, err := graph.ParseValue(inst.Category, value)
	if err != nil {
		im.warn(c.Line(), "%s: value ignored: %v", ref, err)
	}
	inst.Value = q

	if p, ok := im.positions[ref]; ok {
		inst.Position = &p
	}
	return inst, true
}

func (im *importer) net(b *graph.Builder, n *sexpr.List) {
	name, _ := n.Value("name")
	name = netName(name)
	var eps []graph.Endpoint
	for _, node := range n.FindAll("node") {
		ref, _ := node.Value("ref")
		pin, _ := node.Value("pin")
		if strings.HasPrefix(ref, "#") {
			continue
		}
		ep, err := b.Pin(ref, pin)
		if err != nil {
			im.warn(node.Line(), "net %s: %v", name, err)
			continue
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return
	}
	if err := b.Connect(name, eps...); err != nil {
		im.warn(n.Line(), "net %s: %v", name, err)
	}
}

// fieldsOf collects user fields in both the (fields (field (name N) V)) and
// (property (name N) (value V)) spellings.
func fieldsOf(c *sexpr.List) map[string]string {
	out := make(map[string]string)
	if fs, ok := c.Find("fields"); ok {
		for _, f := range fs.FindAll("field") {
			name, _ := f.Value("name")
			if v, ok := f.Atom(len(f.Items) - 1); ok && name != "" {
				out[name] = v
			}
		}
	}
	for _, p := range c.FindAll("property") {
		name, _ := p.Value("name")
		if v, ok := p.Value("value"); ok && name != "" {
			out[name] = v
		}
	}
	return out
}

// partCategory maps the generic parts of KiCad's Device library, e.g.
// "C_Small" or "R_US", to a category.
func partCategory(lib, part string) string {
	if lib != "Device" {
		return ""
	}
	base, _, _ := strings.Cut(part, "_")
	switch base {
	case "Ferrite":
		return "ferrite"
	case "Crystal":
		return "crystal"
	}
	return graph.CategoryFromRef(base)
}

// netName drops the root sheet prefix KiCad puts on local labels.
func netName(name string) string {
	if rest, ok := strings.CutPrefix(name, "/"); ok && !strings.Contains(rest, "/") {
		return rest
	}
	return name
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
