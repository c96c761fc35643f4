// Package schematicdoc reads schematics written as YAML or JSON documents.
//
// A document lists component instances and the nets connecting their pins:
//
//	schematic: buck-demo
//	instances:
//	  - {ref: U1, component: TPS5430, package: so8}
//	  - {ref: C3, category: capacitor, value: 10u, tags: [bulk], position: {x: 12.5, y: 4}}
//	nets:
//	  - {name: VOUT, pins: [U1.4, C3.1]}
package schematicdoc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
)

// Problem is one defect in a schematic document.
type Problem struct {
	Line    int
	Message string
}

func (p Problem) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("line %d: %s", p.Line, p.Message)
	}
	return p.Message
}

// Error lists every problem found in a document.
type Error struct {
	Source   string
	Problems []Problem
}

func (e *Error) Error() string {
	name := e.Source
	if name == "" {
		name = "schematic"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", name, e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d problems", name, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

// Schematic is a loaded document.
type Schematic struct {
	Name   string
	Source string
	Graph  *graph.Graph
}

type positionDoc struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type instanceDoc struct {
	Ref       string       `yaml:"ref"`
	Component string       `yaml:"component"`
	Package   string       `yaml:"package"`
	Category  string       `yaml:"category"`
	Value     string       `yaml:"value"`
	Tags      []string     `yaml:"tags"`
	Position  *positionDoc `yaml:"position"`
}

type netDoc struct {
	Name string   `yaml:"name"`
	Pins []string `yaml:"pins"`
}

var (
	topKeys      = []string{"schematic", "instances", "nets"}
	instanceKeys = []string{"ref", "component", "package", "category", "value", "tags", "position"}
	netKeys      = []string{"name", "pins"}
)

// Parse reads a schematic document. JSON input is accepted as YAML.
func Parse(data []byte) (*Schematic, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, &Error{Problems: []Problem{{Message: fmt.Sprintf("failed to decode document: %v", err)}}}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, &Error{Problems: []Problem{{Line: root.Line, Message: "document must be a mapping"}}}
	}

	var ps problems
	doc := root.Content[0]
	ps.checkKeys(doc, topKeys)

	s := &Schematic{}
	b := graph.NewBuilder()
	if n := lookup(doc, "schematic"); n != nil {
		s.Name = n.Value
	}
	if n := lookup(doc, "instances"); n != nil {
		for _, item := range sequence(n, &ps, "instances") {
			if !ps.checkKeys(item, instanceKeys) {
				continue
			}
			var d instanceDoc
			if err := item.Decode(&d); err != nil {
				ps.add(item.Line, "%v", err)
				continue
			}
			inst, err := d.instance()
			if err == nil {
				_, err = b.AddInstance(inst)
			}
			if err != nil {
				ps.add(item.Line, "%v", err)
			}
		}
	}
	if n := lookup(doc, "nets"); n != nil {
		for _, item := range sequence(n, &ps, "nets") {
			if !ps.checkKeys(item, netKeys) {
				continue
			}
			var d netDoc
			if err := item.Decode(&d); err != nil {
				ps.add(item.Line, "%v", err)
				continue
			}
			if err := connect(b, d); err != nil {
				ps.add(item.Line, "%v", err)
			}
		}
	}
	if len(ps) > 0 {
		return nil, &Error{Problems: ps}
	}
	s.Graph = b.Build()
	return s, nil
}

// Load reads a schematic document from path.
func Load(path string) (*Schematic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schematic: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			serr.Source = path
		}
		return nil, err
	}
	s.Source = path
	return s, nil
}

func (d instanceDoc) instance() (graph.Instance, error) {
	inst := graph.Instance{
		Ref:       strings.TrimSpace(d.Ref),
		Component: d.Component,
		Package:   d.Package,
		Category:  strings.ToLower(d.Category),
		Tags:      d.Tags,
	}
	if inst.Ref == "" {
		return inst, errors.New("instance has no ref")
	}
	if inst.Category == "" && inst.Component == "" {
		inst.Category = graph.CategoryFromRef(inst.Ref)
	}
	if d.Component != "" && d.Package == "" {
		return inst, fmt.Errorf("instance %s: component %s needs a package", inst.Ref, d.Component)
	}
	v, err := graph.ParseValue(inst.Category, d.Value)
	if err != nil {
		return inst, fmt.Errorf("instance %s: %w", inst.Ref, err)
	}
	inst.Value = v
	if d.Position != nil {
		inst.Position = &graph.Point{X: d.Position.X, Y: d.Position.Y}
	}
	return inst, nil
}

func connect(b *graph.Builder, d netDoc) error {
	if len(d.Pins) == 0 {
		return fmt.Errorf("net %q has no pins", d.Name)
	}
	var errs []error
	eps := make([]graph.Endpoint, 0, len(d.Pins))
	for _, p := range d.Pins {
		ref, pin, ok := strings.Cut(p, ".")
		if !ok || ref == "" || pin == "" {
			errs = append(errs, fmt.Errorf("net %q: pin %q is not REF.PIN", d.Name, p))
			continue
		}
		ep, err := b.Pin(ref, pin)
		if err != nil {
			errs = append(errs, fmt.Errorf("net %q: %w", d.Name, err))
			continue
		}
		eps = append(eps, ep)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return b.Connect(d.Name, eps...)
}

type problems []Problem

func (ps *problems) add(line int, format string, args ...any) {
	*ps = append(*ps, Problem{Line: line, Message: fmt.Sprintf(format, args...)})
}

// checkKeys reports fields outside allowed. It returns false when n is not
// a mapping at all.
func (ps *problems) checkKeys(n *yaml.Node, allowed []string) bool {
	if n.Kind != yaml.MappingNode {
		ps.add(n.Line, "expected a mapping")
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if k := n.Content[i]; !slices.Contains(allowed, k.Value) {
			ps.add(k.Line, "unknown field %q", k.Value)
		}
	}
	return true
}

func lookup(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func sequence(n *yaml.Node, ps *problems, field string) []*yaml.Node {
	if n.Kind != yaml.SequenceNode {
		ps.add(n.Line, "%s must be a list", field)
		return nil
	}
	return n.Content
}
