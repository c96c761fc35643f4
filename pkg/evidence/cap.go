package evidence

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

var purposes = []dsl.Purpose{dsl.PurposeDecoupling, dsl.PurposeBulk, dsl.PurposeRef}

// Cap sums the capacitors on the anchor net and compares the total with the
// required value.
func Cap(c Context, atom *dsl.Atom) Result {
	p, ok := atom.Params.(*dsl.CapParams)
	if !ok {
		return Result{Verdict: diag.InvalidRule, Summary: "cap: unexpected parameters"}
	}
	net, err := c.Query.NetOf(c.Instance, c.Pin)
	if err != nil {
		return topologyNote(err)
	}

	var (
		total   float64
		found   []string
		skipped int
	)
	for _, inst := range c.Query.ComponentsOnNet(net) {
		if inst == c.Instance || !c.Query.Matches(inst, "capacitor", nil, 0) {
			continue
		}
		v, ok := c.Query.ValueOf(inst)
		if !ok || (v.Dim != units.None && v.Dim != units.Capacitance) {
			continue
		}
		if !servesPurpose(c.Query.Tags(inst), p.Purpose) || !withinReach(c, inst, p.MaxDist) {
			skipped++
			continue
		}
		total += v.Value
		found = append(found, c.Query.Ref(inst)+" "+units.Format(v.Value, units.Capacitance))
	}

	required := p.Args()[0]
	var b strings.Builder
	fmt.Fprintf(&b, "net %s: ", c.Query.NetName(net))
	if len(found) == 0 {
		b.WriteString("no capacitor found")
	} else {
		fmt.Fprintf(&b, "found %s (%s)", units.Format(total, units.Capacitance), strings.Join(found, ", "))
	}
	fmt.Fprintf(&b, ", required %s", required)
	if p.Purpose != dsl.PurposeAny {
		fmt.Fprintf(&b, " %s", p.Purpose)
	}
	if skipped > 0 {
		fmt.Fprintf(&b, "; %d excluded by purpose or distance", skipped)
	}

	if p.Value.Match(total, c.Tolerance.Capacitor) && (len(found) > 0 || !p.Value.HasFloor()) {
		return Result{Verdict: diag.Satisfied, Summary: b.String()}
	}
	return Result{Verdict: diag.Violated, Summary: b.String()}
}

// servesPurpose reports whether a capacitor with tags counts toward want.
// Untagged capacitors count toward any purpose; tagged ones only toward
// their own. A rule without a purpose counts every capacitor.
func servesPurpose(tags []string, want dsl.Purpose) bool {
	if want == dsl.PurposeAny {
		return true
	}
	var own []dsl.Purpose
	for _, t := range tags {
		if p := dsl.Purpose(strings.ToLower(t)); slices.Contains(purposes, p) {
			own = append(own, p)
		}
	}
	if len(own) == 0 {
		return true
	}
	return slices.Contains(own, want)
}

func withinReach(c Context, inst graph.InstanceID, limit *units.Quantity) bool {
	if limit == nil {
		return true
	}
	d, known := c.Query.Distance(c.Instance, inst)
	if !known {
		return !c.StrictDistance
	}
	return d <= limit.Value*(1+1e-9)
}
