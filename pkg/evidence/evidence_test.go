package evidence

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pinmap"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/query"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

const mcuDoc = `
component: MCU
category: mcu
packages:
  qfn:
    power.vdd.main: [1]
    ground.gnd.main: [2]
    io.i2c.sda: [3]
    power.vddio.main: [4]
    io.i2c.scl: [5]
pins:
  power.vdd.main: {role: power, direction: input}
  power.vddio.main: {role: power, direction: input}
  ground.gnd.main: {role: ground, direction: passive}
  io.i2c.sda: {role: io, direction: bidirectional}
  io.i2c.scl: {role: io, direction: bidirectional}
`

type bench struct {
	layer *query.Layer
	model *component.Model
	u1    graph.InstanceID
}

func (b bench) ctx(pin component.PinUID) Context {
	return Context{Query: b.layer, Instance: b.u1, Pin: pin, Model: b.model, Tolerance: DefaultTolerance}
}

func capacitance(v float64) *units.Quantity {
	return &units.Quantity{Value: v, Dim: units.Capacitance}
}

// newBench wires MCU U1 with two capacitors on VDD, a 4.7k pull-up from SDA
// to +3V3 and a pull-up on SCL that is far too weak.
func newBench(t *testing.T) bench {
	t.Helper()
	model, err := component.LoadDocument([]byte(mcuDoc), nil)
	require.NoError(t, err)
	view, err := pinmap.Resolve(model, "qfn")
	require.NoError(t, err)

	b := graph.NewBuilder()
	u1, err := b.AddInstance(graph.Instance{Ref: "U1", Component: "MCU", Package: "qfn", Position: &graph.Point{}})
	require.NoError(t, err)
	for _, inst := range []graph.Instance{
		{Ref: "C1", Category: "capacitor", Value: capacitance(100e-9), Position: &graph.Point{X: 3, Y: 4}},
		{Ref: "C2", Category: "capacitor", Value: capacitance(10e-6), Tags: []string{"bulk"}},
		{Ref: "R1", Category: "resistor", Value: &units.Quantity{Value: 4700, Dim: units.Resistance}},
		{Ref: "R2", Category: "resistor", Value: &units.Quantity{Value: 100e3, Dim: units.Resistance}},
	} {
		_, err := b.AddInstance(inst)
		require.NoError(t, err)
	}
	pin := func(ref, p string) graph.Endpoint {
		ep, err := b.Pin(ref, p)
		require.NoError(t, err)
		return ep
	}
	require.NoError(t, b.Connect("VDD", pin("U1", "1"), pin("C1", "1"), pin("C2", "1")))
	require.NoError(t, b.Connect("GND", pin("U1", "2"), pin("C1", "2"), pin("C2", "2")))
	require.NoError(t, b.Connect("SDA", pin("U1", "3"), pin("R1", "1")))
	require.NoError(t, b.Connect("+3V3", pin("U1", "4"), pin("R1", "2"), pin("R2", "2")))
	require.NoError(t, b.Connect("SCL", pin("U1", "5"), pin("R2", "1")))

	return bench{
		layer: query.New(b.Build(), map[graph.InstanceID]query.Binding{u1: {Model: model, View: view}}),
		model: model,
		u1:    u1,
	}
}

func TestCap(t *testing.T) {
	b := newBench(t)
	tests := []struct {
		rule    string
		verdict diag.Verdict
		summary string
	}{
		{"cap(10u)", diag.Satisfied, "net VDD: found 10.1uF (C1 100nF, C2 10uF), required 10uF"},
		{"cap(47u+)!", diag.Violated, "net VDD: found 10.1uF (C1 100nF, C2 10uF), required 47uF+"},
		{"cap(0.1u, purpose=decoupling)", diag.Satisfied,
			"net VDD: found 100nF (C1 100nF), required 100nF decoupling; 1 excluded by purpose or distance"},
		{"cap(10u, purpose=bulk)", diag.Satisfied, "net VDD: found 10.1uF (C1 100nF, C2 10uF), required 10uF bulk"},
		{"cap(1u, purpose=ref)", diag.Violated,
			"net VDD: found 100nF (C1 100nF), required 1uF ref; 1 excluded by purpose or distance"},
		{"cap(10u, max_dist=2mm)", diag.Satisfied,
			"net VDD: found 10uF (C2 10uF), required 10uF; 1 excluded by purpose or distance"},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			res := Cap(b.ctx("power.vdd.main"), dsl.MustCompile(tt.rule))
			assert.Equal(t, tt.verdict, res.Verdict)
			assert.Equal(t, tt.summary, res.Summary)
		})
	}
}

func TestCapStrictDistance(t *testing.T) {
	b := newBench(t)
	c := b.ctx("power.vdd.main")
	c.StrictDistance = true
	res := Cap(c, dsl.MustCompile("cap(10u, max_dist=2mm)"))
	assert.Equal(t, diag.Violated, res.Verdict)
	assert.Equal(t, "net VDD: no capacitor found, required 10uF; 2 excluded by purpose or distance", res.Summary)

	res = Cap(c, dsl.MustCompile("cap(0.1u, max_dist=10mm)"))
	assert.Equal(t, diag.Satisfied, res.Verdict)
}

func TestCapMissingCapacitor(t *testing.T) {
	b := newBench(t)
	res := Cap(b.ctx("io.i2c.sda"), dsl.MustCompile("cap(0.1u)!"))
	assert.Equal(t, diag.Violated, res.Verdict)
	assert.Equal(t, diag.Error, res.Severity(true))
	assert.Equal(t, "net SDA: no capacitor found, required 100nF", res.Summary)
}

func TestCapUpperBoundOnEmptyNet(t *testing.T) {
	b := newBench(t)
	res := Cap(b.ctx("io.i2c.sda"), dsl.MustCompile("cap(<=1u)"))
	assert.Equal(t, diag.Satisfied, res.Verdict)
	assert.Equal(t, "net SDA: no capacitor found, required <=1uF", res.Summary)

	res = Cap(b.ctx("io.i2c.sda"), dsl.MustCompile("cap(>1n)"))
	assert.Equal(t, diag.Violated, res.Verdict)

	res = Cap(b.ctx("power.vdd.main"), dsl.MustCompile("cap(<=1u)"))
	assert.Equal(t, diag.Violated, res.Verdict)
}

func TestTopologyGapIsViolation(t *testing.T) {
	model, err := component.LoadDocument([]byte(mcuDoc), nil)
	require.NoError(t, err)
	view, err := pinmap.Resolve(model, "qfn")
	require.NoError(t, err)
	gb := graph.NewBuilder()
	u1, err := gb.AddInstance(graph.Instance{Ref: "U1", Component: "MCU", Package: "qfn"})
	require.NoError(t, err)
	layer := query.New(gb.Build(), map[graph.InstanceID]query.Binding{u1: {Model: model, View: view}})

	c := Context{Query: layer, Instance: u1, Pin: "power.vdd.main", Model: model, Tolerance: DefaultTolerance}
	res := Cap(c, dsl.MustCompile("cap(0.1u)"))
	assert.Equal(t, diag.Violated, res.Verdict)
	assert.Equal(t, "no evidence: U1 power.vdd.main: pin is not connected to any net (pins 1)", res.Summary)
	assert.Equal(t, diag.Warning, res.Severity(false))
}

func TestPull(t *testing.T) {
	b := newBench(t)
	tests := []struct {
		pin     component.PinUID
		rule    string
		verdict diag.Verdict
		summary string
	}{
		{"io.i2c.sda", "pull(up, power.vddio.main, <=10k)!", diag.Satisfied, "R1 4.7kΩ bridges SDA to +3V3"},
		{"io.i2c.sda", "pull(up, power.vddio.main, 4k7)", diag.Satisfied, "R1 4.7kΩ bridges SDA to +3V3"},
		{"io.i2c.sda", "pull(up, power.vddio.main, <=1k)!", diag.Violated, "R1 4.7kΩ bridges SDA to +3V3, required <=1kΩ"},
		{"io.i2c.scl", "pull(up, power.vddio.main, <=10k)", diag.Violated, "R2 100kΩ bridges SCL to +3V3, required <=10kΩ"},
		{"io.i2c.sda", "pull(up, power.vdd.main, <=10k)", diag.Violated, "no resistor bridges SDA to VDD, required <=10kΩ"},
		{"io.i2c.sda", "pull(up, ground.gnd.main, <=10k)!", diag.InvalidTarget,
			"pull up target ground.gnd.main has role ground, expected power"},
		{"io.i2c.sda", "pull(down, power.vddio.main, <=10k)", diag.InvalidTarget,
			"pull down target power.vddio.main has role power, expected ground"},
		{"io.i2c.sda", "pull(up, power.nope.main, <=10k)", diag.InvalidTarget,
			"pull target power.nope.main is not a pin of MCU"},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			res := Pull(b.ctx(tt.pin), dsl.MustCompile(tt.rule))
			assert.Equal(t, tt.verdict, res.Verdict)
			assert.Equal(t, tt.summary, res.Summary)
		})
	}
}

func TestPullUpWrongRoleIgnoresResistor(t *testing.T) {
	b := newBench(t)
	// R1 would satisfy the value, but a pull-up towards a non-power pin is
	// never valid.
	model := *b.model
	model.Pins = map[component.PinUID]*component.PinSpec{}
	for uid, spec := range b.model.Pins {
		clone := *spec
		model.Pins[uid] = &clone
	}
	model.Pins["power.vddio.main"].Role = component.RoleIO
	c := b.ctx("io.i2c.sda")
	c.Model = &model

	res := Pull(c, dsl.MustCompile("pull(up, power.vddio.main, <=10k)!"))
	assert.Equal(t, diag.InvalidTarget, res.Verdict)
	assert.Equal(t, diag.Error, res.Severity(true))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"cap", "pull"}, r.Kinds())
	require.NoError(t, r.Covers(dsl.DefaultRegistry().Kinds()))
	assert.EqualError(t, r.Covers([]string{"cap", "esd"}), `evidence: no evaluator for rule kind "esd"`)
	assert.Error(t, r.Register("cap", EvaluatorFunc(Cap)))
	assert.Error(t, r.Register("", EvaluatorFunc(Cap)))

	calls := 0
	require.NoError(t, r.Register("esd", EvaluatorFunc(func(Context, *dsl.Atom) Result {
		calls++
		return Result{Verdict: diag.Satisfied}
	})))
	res := r.Evaluate(Context{}, &dsl.Atom{Kind: "esd"})
	assert.Equal(t, diag.Satisfied, res.Verdict)
	assert.Equal(t, 1, calls)

	res = NewRegistry().Evaluate(Context{}, &dsl.Atom{Kind: "cap"})
	assert.Equal(t, diag.InvalidRule, res.Verdict)
}

func TestSeverityFollowsFirmness(t *testing.T) {
	verdicts := []diag.Verdict{diag.Satisfied, diag.Violated, diag.InvalidTarget, diag.InvalidRule}
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("failures are errors iff firm", prop.ForAll(
		func(i int, firm bool) bool {
			res := Result{Verdict: verdicts[i]}
			got := res.Severity(firm)
			switch {
			case res.Verdict == diag.Satisfied:
				return got == diag.Info
			case firm:
				return got == diag.Error
			default:
				return got == diag.Warning
			}
		},
		gen.IntRange(0, len(verdicts)-1),
		gen.Bool(),
	))
	properties.TestingRun(t)
}
