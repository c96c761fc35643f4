package pattern

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

type fakeSubject struct {
	id        string
	category  string
	roles     map[dsl.PinUID]string
	connected map[dsl.PinUID]bool
	exists    func(Exists) bool
}

func (f *fakeSubject) ComponentID() string { return f.id }
func (f *fakeSubject) Category() string    { return f.category }

func (f *fakeSubject) Pins() []dsl.PinUID {
	var pins []dsl.PinUID
	for p := range f.roles {
		pins = append(pins, p)
	}
	slices.Sort(pins)
	return pins
}

func (f *fakeSubject) HasPin(uid dsl.PinUID) bool {
	_, ok := f.roles[uid]
	return ok
}

func (f *fakeSubject) PinRole(uid dsl.PinUID) string { return f.roles[uid] }
func (f *fakeSubject) Connected(uid dsl.PinUID) bool { return f.connected[uid] }

func (f *fakeSubject) Exists(e Exists) bool {
	return f.exists != nil && f.exists(e)
}

func buck() *fakeSubject {
	return &fakeSubject{
		id:       "TPS5430",
		category: "regulator",
		roles: map[dsl.PinUID]string{
			"power.vin.main":  "power",
			"power.sw.node":   "power",
			"power.vout.main": "power",
			"ground.gnd.main": "ground",
		},
		connected: map[dsl.PinUID]bool{"power.vin.main": true, "power.sw.node": true},
	}
}

func decodeOne(t *testing.T, src, owner string) *Pattern {
	t.Helper()
	var doc Doc
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	p, err := (&Decoder{}).Decode(doc, owner)
	require.NoError(t, err)
	return p
}

func TestDecodePattern(t *testing.T) {
	p := decodeOne(t, `
name: buck_output
when:
  exists: {component: inductor, on_net: power.sw.node, value: ">=10uH"}
then:
  - bind: out_bulk
    require: cap(47u+)
    severity: firm
  - require: cap(0.1u)
    pin: power.vin.main
  - escalate: {pin: power.vin.main, rule: "cap(0.1u)"}
`, "TPS5430")

	assert.Equal(t, "buck_output", p.Name)
	assert.Equal(t, ScopePin, p.Scope)
	assert.True(t, p.PartScoped())
	assert.True(t, p.When.ThisComponent, "part-scoped patterns imply this_component")
	require.Len(t, p.When.Exists, 1)
	assert.Equal(t, "inductor", p.When.Exists[0].Component)
	assert.Equal(t, "exists{inductor on power.sw.node >=10uH}", p.When.Exists[0].String())

	require.Len(t, p.Actions, 3)
	assert.Equal(t, ActionBind, p.Actions[0].Kind)
	assert.Equal(t, "cap(47uF+)!", p.Actions[0].Atom.String())
	assert.Equal(t, ActionRequire, p.Actions[1].Kind)
	assert.Equal(t, dsl.PinUID("power.vin.main"), p.Actions[1].Pin)
	assert.Equal(t, ActionEscalate, p.Actions[2].Kind)
	assert.Equal(t, "cap(100nF)", p.Actions[2].Rule)
}

func TestDecodeSingleActionAndCategoryList(t *testing.T) {
	p := decodeOne(t, `
name: mcu_vdd
pin: power.vdd.main
when:
  category: [mcu, fpga]
  has_pin: power.vdd.main
then:
  require: cap(0.1u, purpose=decoupling)
`, "")
	assert.Equal(t, []string{"mcu", "fpga"}, p.When.Categories)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, dsl.PinUID("power.vdd.main"), p.Actions[0].Pin)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		owner string
		want  string
	}{
		{"no name", `then: {require: cap(1u), pin: power.vdd.main}`, "", "no name"},
		{"bad scope", "name: x\nscope: board\nthen: {require: cap(1u), pin: power.vdd.main}", "", "unknown scope"},
		{"no actions", "name: x\nwhen: {category: mcu}", "", "no actions"},
		{"this_component global", "name: x\nwhen: {this_component: true}\nthen: {require: cap(1u), pin: power.vdd.main}", "", "only meaningful"},
		{"require without pin", "name: x\nthen: {require: cap(1u)}", "", "needs a pin"},
		{"bind without require", "name: x\nthen: {bind: k}", "", "has no require"},
		{"lowering escalation", "name: x\nthen: {escalate: {pin: power.vdd.main}, severity: flexible}", "", "cannot lower"},
		{"bad severity", "name: x\nthen: {bind: k, require: cap(1u), severity: loud}", "", "unknown severity"},
		{"bad exists value", "name: x\nwhen: {exists: {component: inductor, on_net: power.sw.node, value: lots}}\nthen: {bind: k, require: cap(1u)}", "", "value"},
		{"empty action", "name: x\nthen: {severity: firm}", "", "one of bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Doc
			require.NoError(t, yaml.Unmarshal([]byte(tt.src), &doc))
			_, err := (&Decoder{}).Decode(doc, tt.owner)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeKeepsCompileErrors(t *testing.T) {
	p := decodeOne(t, "name: x\nthen: {bind: k, require: \"cap(1u\"}", "")
	require.Len(t, p.Actions, 1)
	assert.Nil(t, p.Actions[0].Atom)
	var cerr *dsl.CompileError
	assert.ErrorAs(t, p.Actions[0].Err, &cerr)
}

func TestReadPack(t *testing.T) {
	pack, err := (&Decoder{}).ReadPack(strings.NewReader(`
pack: power-basics
patterns:
  - name: vdd_decoupling
    when: {has_pin: power.vdd.main}
    then: {require: cap(0.1u), pin: power.vdd.main}
  - name: vdd_bulk
    when: {has_pin: power.vdd.main}
    then: {require: cap(10u+), pin: power.vdd.main}
`))
	require.NoError(t, err)
	assert.Equal(t, "power-basics", pack.Name)
	require.Len(t, pack.Patterns, 2)
	assert.False(t, pack.Patterns[0].PartScoped())

	_, err = (&Decoder{}).ReadPack(strings.NewReader(`
pack: dup
patterns:
  - {name: a, then: {require: cap(1u), pin: power.vdd.main}}
  - {name: a, then: {require: cap(1u), pin: power.vdd.main}}
`))
	assert.ErrorContains(t, err, "declared twice")
}

func TestBindingsFirstClaimWins(t *testing.T) {
	b := NewBindings()
	first := Origin{Layer: LayerPart, Source: "U", Pattern: "p1"}
	second := Origin{Layer: LayerGlobal, Source: "pack", Pattern: "p2"}

	r, c := b.Claim("k", dsl.MustCompile("cap(1u)"), first)
	assert.Equal(t, Claimed, r)
	assert.Equal(t, first, c.Origin)

	r, c = b.Claim("k", dsl.MustCompile("cap(1uF)"), second)
	assert.Equal(t, Duplicate, r)
	assert.Equal(t, first, c.Origin)

	r, c = b.Claim("k", dsl.MustCompile("cap(2u)"), second)
	assert.Equal(t, Conflicting, r)
	assert.Equal(t, first, c.Origin)
	assert.Equal(t, "cap(1uF)", c.Atom.String())
	assert.Equal(t, 1, b.Len())
}

func declaredBuck() []Declared {
	return []Declared{
		{Pin: "power.vin.main", Text: "cap(10u+)!", Atom: dsl.MustCompile("cap(10u+)!")},
		{Pin: "power.vout.main", Symbolic: "out_bulk"},
		{Pin: "power.vin.main", Text: "cap(0.1u)", Atom: dsl.MustCompile("cap(0.1u)")},
	}
}

func TestResolveDirectOnly(t *testing.T) {
	res := (&Resolver{}).Resolve(buck(), declaredBuck())

	require.Len(t, res.Rules, 2)
	assert.Equal(t, LayerDirect, res.Rules[0].Origin.Layer)
	assert.Equal(t, "direct:TPS5430", res.Rules[0].Origin.String())
	assert.Equal(t, 0, res.Rules[0].Seq)
	assert.Equal(t, 2, res.Rules[1].Seq)

	require.Len(t, res.Unbound, 1)
	assert.Equal(t, Unbound{Key: "out_bulk", Pin: "power.vout.main", Seq: 1}, res.Unbound[0])
	assert.Empty(t, res.Conflicts)
}

func TestResolveBindWhenConditionHolds(t *testing.T) {
	part := decodeOne(t, `
name: buck_output
when:
  exists: {component: inductor, on_net: power.sw.node, value: ">=10uH"}
then:
  - {bind: out_bulk, require: cap(47u+), severity: firm}
`, "TPS5430")

	subj := buck()
	subj.exists = func(e Exists) bool { return e.Component == "inductor" }
	r := &Resolver{Layers: []Layer{PartLayer("TPS5430", []*Pattern{part})}}

	res := r.Resolve(subj, declaredBuck())
	assert.Empty(t, res.Unbound)
	bound := res.RulesOn("power.vout.main")
	require.Len(t, bound, 1)
	assert.Equal(t, "cap(47uF+)!", bound[0].Atom.String())
	assert.Equal(t, "out_bulk", bound[0].Key)
	assert.Equal(t, 1, bound[0].Seq, "bound rule takes the slot of its symbolic entry")
	assert.Equal(t, "part:TPS5430/buck_output", bound[0].Origin.String())

	subj.exists = nil
	res = r.Resolve(subj, declaredBuck())
	assert.Len(t, res.Unbound, 1)
	assert.Empty(t, res.Fired)
}

func TestResolveConflictingBind(t *testing.T) {
	part := decodeOne(t, "name: a\nthen: {bind: out_bulk, require: cap(47u+)}", "TPS5430")
	pack := &Pack{Name: "generic", Patterns: []*Pattern{
		decodeOne(t, "name: same\nthen: {bind: out_bulk, require: cap(47uF+)}", ""),
		decodeOne(t, "name: other\nthen: {bind: out_bulk, require: cap(22u+)}", ""),
	}}
	r := &Resolver{Layers: []Layer{PartLayer("TPS5430", []*Pattern{part}), PackLayer(pack)}}

	res := r.Resolve(buck(), declaredBuck())
	require.Len(t, res.Conflicts, 1, "identical binds are not conflicts")
	c := res.Conflicts[0]
	assert.Equal(t, "out_bulk", c.Key)
	assert.Equal(t, LayerPart, c.Held.Origin.Layer)
	assert.Equal(t, "cap(22uF+)", c.Rejected.Atom.String())

	bound := res.RulesOn("power.vout.main")
	require.Len(t, bound, 1)
	assert.Equal(t, "cap(47uF+)", bound[0].Atom.String(), "the first claim is honoured")
}

func TestResolveRequireAndEscalate(t *testing.T) {
	pack := &Pack{Name: "strict", Patterns: []*Pattern{
		decodeOne(t, `
name: harden_vin
when: {category: regulator, connected: power.vin.main}
then:
  - {escalate: {pin: power.vin.main, rule: "cap(0.1u)"}}
  - {require: "cap(1u)", pin: power.vin.main}
  - {require: "cap(1u)", pin: power.vin.main}
  - {require: "cap(1u)", pin: power.nope.main}
`, ""),
	}}
	res := (&Resolver{Layers: []Layer{PackLayer(pack)}}).Resolve(buck(), declaredBuck())

	vin := res.RulesOn("power.vin.main")
	require.Len(t, vin, 3, "duplicate requires collapse")
	assert.True(t, vin[0].Atom.Firm)
	assert.Nil(t, vin[0].Escalated, "already firm rules are untouched")
	assert.True(t, vin[1].Atom.Firm, "escalated")
	require.NotNil(t, vin[1].Escalated)
	assert.Equal(t, "pack:strict/harden_vin", vin[1].Escalated.String())
	assert.False(t, vin[2].Atom.Firm)
	assert.Equal(t, 3, vin[2].Seq)

	bad := res.RulesOn("power.nope.main")
	require.Len(t, bad, 1)
	assert.Nil(t, bad[0].Atom)
	assert.ErrorContains(t, bad[0].Err, "does not declare")
}

func TestResolveEscalationNeverLowers(t *testing.T) {
	pack := &Pack{Name: "p", Patterns: []*Pattern{
		decodeOne(t, "name: e\nthen: {escalate: {pin: power.vin.main}}", ""),
	}}
	res := (&Resolver{Layers: []Layer{PackLayer(pack), PackLayer(pack)}}).Resolve(buck(), declaredBuck())
	for _, r := range res.RulesOn("power.vin.main") {
		assert.True(t, r.Atom.Firm)
	}
}

func TestDecouplingHeuristic(t *testing.T) {
	r := &Resolver{Heuristics: []Heuristic{DecouplingHeuristic{}}}
	res := r.Resolve(buck(), declaredBuck())

	var added []*Rule
	for _, rule := range res.Rules {
		if rule.Origin.Layer == LayerHeuristic {
			added = append(added, rule)
		}
	}
	require.Len(t, added, 1, "vin has a cap rule and vout a symbolic entry")
	assert.Equal(t, dsl.PinUID("power.sw.node"), added[0].Pin)
	assert.False(t, added[0].Atom.Firm)
	assert.Equal(t, "heuristic:decoupling", added[0].Origin.String())
}
