package evidence

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// Pull looks for a resistor between the anchor net and the net of the
// target pin. The target role is checked first; a target that cannot be
// pulled towards is reported whether or not a resistor exists.
func Pull(c Context, atom *dsl.Atom) Result {
	p, ok := atom.Params.(*dsl.PullParams)
	if !ok {
		return Result{Verdict: diag.InvalidRule, Summary: "pull: unexpected parameters"}
	}
	if res, ok := checkTarget(c, p); !ok {
		return res
	}

	anchor, err := c.Query.NetOf(c.Instance, c.Pin)
	if err != nil {
		return topologyNote(err)
	}
	target, err := c.Query.NetOf(c.Instance, p.Target)
	if err != nil {
		return topologyNote(err)
	}
	anchorName, targetName := c.Query.NetName(anchor), c.Query.NetName(target)
	if anchor == target {
		return Result{Verdict: diag.Violated,
			Summary: fmt.Sprintf("%s is tied directly to %s, no resistor between them", c.Pin, p.Target)}
	}

	var mismatched []string
	for _, inst := range c.Query.ComponentsOnNet(anchor) {
		if inst == c.Instance || !c.Query.Matches(inst, "resistor", nil, 0) || !c.Query.Bridges(inst, anchor, target) {
			continue
		}
		ref := c.Query.Ref(inst)
		v, ok := c.Query.ValueOf(inst)
		if !ok || (v.Dim != units.None && v.Dim != units.Resistance) {
			mismatched = append(mismatched, ref+" (no value)")
			continue
		}
		value := units.Format(v.Value, units.Resistance)
		if p.Resistance.Match(v.Value, c.Tolerance.Resistor) {
			return Result{Verdict: diag.Satisfied,
				Summary: fmt.Sprintf("%s %s bridges %s to %s", ref, value, anchorName, targetName)}
		}
		mismatched = append(mismatched, ref+" "+value)
	}
	if len(mismatched) > 0 {
		return Result{Verdict: diag.Violated,
			Summary: fmt.Sprintf("%s bridges %s to %s, required %s",
				strings.Join(mismatched, ", "), anchorName, targetName, p.Resistance)}
	}
	return Result{Verdict: diag.Violated,
		Summary: fmt.Sprintf("no resistor bridges %s to %s, required %s", anchorName, targetName, p.Resistance)}
}

func checkTarget(c Context, p *dsl.PullParams) (Result, bool) {
	want := component.RolePower
	if p.Direction == dsl.PullDown {
		want = component.RoleGround
	}
	if c.Model == nil {
		return Result{Verdict: diag.InvalidTarget, Summary: fmt.Sprintf("pull target %s has no component model", p.Target)}, false
	}
	spec, ok := c.Model.Pin(p.Target)
	if !ok {
		return Result{Verdict: diag.InvalidTarget,
			Summary: fmt.Sprintf("pull target %s is not a pin of %s", p.Target, c.Model.ID)}, false
	}
	if spec.Role != want {
		return Result{Verdict: diag.InvalidTarget,
			Summary: fmt.Sprintf("pull %s target %s has role %s, expected %s", p.Direction, p.Target, spec.Role, want)}, false
	}
	return Result{}, true
}
