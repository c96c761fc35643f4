package netlist

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/kicad/sexpr"
)

// ReadPositionsFile reads placements from a .kicad_sch or .kicad_pcb file.
func ReadPositionsFile(path string) (map[string]graph.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open placement file: %w", err)
	}
	defer f.Close()
	return ReadPositions(f)
}

// ReadPositions returns the placement of every part, keyed by reference
// designator. A KiCad schematic yields symbol positions; a board yields
// footprint positions, which is what max_dist means physically. Units of
// multi-unit symbols share the position of the first unit. Power symbols
// are left out.
func ReadPositions(r io.Reader) (map[string]graph.Point, error) {
	exprs, err := sexpr.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("netlist: %w", err)
	}
	var root *sexpr.List
	if len(exprs) > 0 {
		root, _ = exprs[0].(*sexpr.List)
	}

	var parts []*sexpr.List
	switch {
	case root != nil && root.Head() == "kicad_sch":
		parts = root.FindAll("symbol")
	case root != nil && root.Head() == "kicad_pcb":
		parts = root.FindAll("footprint")
		// KiCad 5 boards
		parts = append(parts, root.FindAll("module")...)
	default:
		return nil, fmt.Errorf("netlist: not a KiCad schematic or board")
	}

	out := make(map[string]graph.Point)
	for _, part := range parts {
		ref := reference(part)
		if ref == "" || strings.HasPrefix(ref, "#") {
			continue
		}
		if _, seen := out[ref]; seen {
			continue
		}
		at, ok := part.Find("at")
		if !ok {
			continue
		}
		x, okx := at.Float(1)
		y, oky := at.Float(2)
		if okx && oky {
			out[ref] = graph.Point{X: x, Y: y}
		}
	}
	return out, nil
}

// reference reads (property "Reference" "U1" ...), or the older
// (fp_text reference "U1" ...) of boards.
func reference(part *sexpr.List) string {
	for _, p := range part.FindAll("property") {
		if name, _ := p.Atom(1); name == "Reference" {
			ref, _ := p.Atom(2)
			return ref
		}
	}
	for _, t := range part.FindAll("fp_text") {
		if kind, _ := t.Atom(1); kind == "reference" {
			ref, _ := t.Atom(2)
			return ref
		}
	}
	return ""
}
