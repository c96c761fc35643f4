package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pinmap"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

const regDoc = `
component: REG
category: regulator
packages:
  so8:
    power.vin.main: [1, 8]
    power.vout.main: [4]
    ground.gnd.main: [5]
    config.en.main: [2]
pins:
  power.vin.main: {role: power, direction: input}
  power.vout.main: {role: power, direction: output}
  ground.gnd.main: {role: ground, direction: passive}
  config.en.main: {role: config, direction: input}
`

type fixture struct {
	layer      *Layer
	u1, c1, c2 graph.InstanceID
	l1, r1     graph.InstanceID
}

func newFixture(t *testing.T, split bool) fixture {
	t.Helper()
	model, err := component.LoadDocument([]byte(regDoc), nil)
	require.NoError(t, err)
	view, err := pinmap.Resolve(model, "so8")
	require.NoError(t, err)

	b := graph.NewBuilder()
	var f fixture
	f.u1, _ = b.AddInstance(graph.Instance{Ref: "U1", Component: "REG", Package: "so8", Position: &graph.Point{X: 0, Y: 0}})
	f.c1, _ = b.AddInstance(graph.Instance{Ref: "C1", Category: "capacitor", Tags: []string{"bulk"},
		Value: &units.Quantity{Value: 10e-6, Dim: units.Capacitance}, Position: &graph.Point{X: 3, Y: 4}})
	f.c2, _ = b.AddInstance(graph.Instance{Ref: "C2", Category: "Capacitor",
		Value: &units.Quantity{Value: 100e-9, Dim: units.Capacitance}})
	f.l1, _ = b.AddInstance(graph.Instance{Ref: "L1", Category: "inductor",
		Value: &units.Quantity{Value: 22e-6, Dim: units.Inductance}})
	f.r1, _ = b.AddInstance(graph.Instance{Ref: "R1", Category: "resistor"})

	pin := func(ref, p string) graph.Endpoint {
		ep, err := b.Pin(ref, p)
		require.NoError(t, err)
		return ep
	}
	require.NoError(t, b.Connect("VIN", pin("U1", "1"), pin("C1", "1"), pin("C2", "1"), pin("R1", "1")))
	if split {
		require.NoError(t, b.Connect("VIN2", pin("U1", "8")))
	} else {
		require.NoError(t, b.Connect("VIN", pin("U1", "8")))
	}
	require.NoError(t, b.Connect("EN", pin("U1", "2"), pin("R1", "2")))
	require.NoError(t, b.Connect("GND", pin("U1", "5"), pin("C1", "2"), pin("C2", "2")))
	require.NoError(t, b.Connect("SW", pin("L1", "1")))

	f.layer = New(b.Build(), map[graph.InstanceID]Binding{f.u1: {Model: model, View: view}})
	return f
}

func TestNetOf(t *testing.T) {
	f := newFixture(t, false)
	net, err := f.layer.NetOf(f.u1, "power.vin.main")
	require.NoError(t, err)
	assert.Equal(t, "VIN", f.layer.NetName(net))
	assert.Equal(t, []graph.InstanceID{f.u1, f.c1, f.c2, f.r1}, f.layer.ComponentsOnNet(net))
	assert.Equal(t, []string{"1", "8"}, f.layer.Physical(f.u1, "power.vin.main"))
}

func TestNetOfErrors(t *testing.T) {
	f := newFixture(t, true)
	tests := []struct {
		inst   graph.InstanceID
		uid    component.PinUID
		reason TopologyReason
	}{
		{f.u1, "power.vin.main", SplitNet},
		{f.u1, "power.vout.main", NotConnected},
		{f.u1, "power.nope.main", Unmapped},
		{f.c1, "passive.term.a", NoModel},
	}
	for _, tt := range tests {
		t.Run(string(tt.uid), func(t *testing.T) {
			net, err := f.layer.NetOf(tt.inst, tt.uid)
			assert.Equal(t, graph.NoNet, net)
			var terr *TopologyError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.reason, terr.Reason)
		})
	}

	_, err := f.layer.NetOf(f.u1, "power.vin.main")
	assert.EqualError(t, err, "U1 power.vin.main: physical pins are on different nets (VIN, VIN2)")
}

func TestConnected(t *testing.T) {
	f := newFixture(t, false)
	assert.True(t, f.layer.Connected(f.u1, "power.vin.main"))
	assert.True(t, f.layer.Connected(f.u1, "config.en.main"))
	assert.False(t, f.layer.Connected(f.u1, "power.vout.main"))
}

func TestMatches(t *testing.T) {
	f := newFixture(t, false)
	atLeast10u := units.Comparison{Op: units.AtLeast, Quantity: units.Quantity{Value: 10e-6, Dim: units.Inductance}}
	assert.True(t, f.layer.Matches(f.l1, "inductor", &atLeast10u, 0))
	assert.True(t, f.layer.Matches(f.l1, "Inductor", nil, 0))
	assert.False(t, f.layer.Matches(f.c1, "inductor", nil, 0))

	cap10u := units.Comparison{Quantity: units.Quantity{Value: 10e-6, Dim: units.Inductance}}
	assert.False(t, f.layer.Matches(f.c1, "capacitor", &cap10u, 0.2), "dimension mismatch")

	nominal := units.Comparison{Quantity: units.Quantity{Value: 0.1e-6}}
	assert.True(t, f.layer.Matches(f.c2, "capacitor", &nominal, 0.2), "category match ignores case")
	assert.False(t, f.layer.Matches(f.r1, "resistor", &nominal, 0.2), "no value")
}

func TestCategoryFallsBackToModel(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, "regulator", f.layer.Category(f.u1))
	assert.Equal(t, "capacitor", f.layer.Category(f.c1))
}

func TestDistanceAndBridges(t *testing.T) {
	f := newFixture(t, false)
	d, ok := f.layer.Distance(f.u1, f.c1)
	require.True(t, ok)
	assert.InDelta(t, 5e-3, d, 1e-12)
	_, ok = f.layer.Distance(f.u1, f.c2)
	assert.False(t, ok)

	g := f.layer.Graph()
	vin, _ := g.NetByName("VIN")
	en, _ := g.NetByName("EN")
	gnd, _ := g.NetByName("GND")
	assert.True(t, f.layer.Bridges(f.r1, vin, en))
	assert.False(t, f.layer.Bridges(f.r1, vin, gnd))
	assert.False(t, f.layer.Bridges(f.r1, vin, vin))
}
