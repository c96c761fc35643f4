// Package query answers read-only questions about a schematic graph in
// terms of semantic pins.
package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pinmap"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// TopologyReason classifies why a pin could not be placed on a net.
type TopologyReason int

const (
	// NoModel means the instance has no resolved component model.
	NoModel TopologyReason = iota
	// Unmapped means the pin has no physical pin in the chosen package.
	Unmapped
	// NotConnected means none of the physical pins is on a net.
	NotConnected
	// SplitNet means the physical pins of one semantic pin sit on
	// different nets.
	SplitNet
)

// TopologyError reports a pin that cannot be mapped to exactly one net.
type TopologyError struct {
	Ref    string
	Pin    component.PinUID
	Reason TopologyReason
	Detail string
}

func (e *TopologyError) Error() string {
	var msg string
	switch e.Reason {
	case NoModel:
		msg = "instance has no resolved component model"
	case Unmapped:
		msg = "pin has no physical pin in the chosen package"
	case NotConnected:
		msg = "pin is not connected to any net"
	case SplitNet:
		msg = "physical pins are on different nets"
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return fmt.Sprintf("%s %s: %s", e.Ref, e.Pin, msg)
}

// Binding is the resolved model and pin view of one instance.
type Binding struct {
	Model *component.Model
	View  *pinmap.View
}

// Layer wraps a graph with the pin views of its instances. It never
// mutates either, so one Layer can serve any number of goroutines.
type Layer struct {
	g        *graph.Graph
	bindings []Binding
}

// New creates a query layer. Instances missing from bindings are treated
// as model-less passives.
func New(g *graph.Graph, bindings map[graph.InstanceID]Binding) *Layer {
	l := &Layer{g: g, bindings: make([]Binding, g.Len())}
	for id, b := range bindings {
		if int(id) >= 0 && int(id) < len(l.bindings) {
			l.bindings[id] = b
		}
	}
	return l
}

// Graph returns the underlying graph.
func (l *Layer) Graph() *graph.Graph {
	return l.g
}

// Binding returns the model and view of inst, if it has one.
func (l *Layer) Binding(inst graph.InstanceID) (Binding, bool) {
	b := l.bindings[inst]
	return b, b.Model != nil && b.View != nil
}

// Ref returns the reference designator of inst.
func (l *Layer) Ref(inst graph.InstanceID) string {
	return l.g.Instance(inst).Ref
}

// NetOf returns the single net all physical pins of uid are on.
func (l *Layer) NetOf(inst graph.InstanceID, uid component.PinUID) (graph.NetID, error) {
	ref := l.Ref(inst)
	b, ok := l.Binding(inst)
	if !ok {
		return graph.NoNet, &TopologyError{Ref: ref, Pin: uid, Reason: NoModel}
	}
	phys, ok := b.View.Physical(uid)
	if !ok {
		return graph.NoNet, &TopologyError{Ref: ref, Pin: uid, Reason: Unmapped, Detail: "package " + b.View.Package}
	}

	net := graph.NoNet
	var names []string
	for _, p := range phys {
		n := l.g.NetOfPin(inst, p)
		if n == graph.NoNet {
			continue
		}
		if net == graph.NoNet {
			net = n
			names = append(names, l.g.Net(n).Name)
			continue
		}
		if name := l.g.Net(n).Name; n != net && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	switch {
	case net == graph.NoNet:
		return graph.NoNet, &TopologyError{Ref: ref, Pin: uid, Reason: NotConnected,
			Detail: "pins " + strings.Join(phys, ",")}
	case len(names) > 1:
		return graph.NoNet, &TopologyError{Ref: ref, Pin: uid, Reason: SplitNet,
			Detail: strings.Join(names, ", ")}
	}
	return net, nil
}

// NetName returns the name of net.
func (l *Layer) NetName(net graph.NetID) string {
	return l.g.Net(net).Name
}

// ComponentsOnNet returns each instance with a pin on net once, in
// declaration order.
func (l *Layer) ComponentsOnNet(net graph.NetID) []graph.InstanceID {
	var out []graph.InstanceID
	for _, ep := range l.g.Net(net).Endpoints {
		if len(out) == 0 || out[len(out)-1] != ep.Instance {
			out = append(out, ep.Instance)
		}
	}
	return out
}

// Connected reports whether the net of uid reaches another instance.
func (l *Layer) Connected(inst graph.InstanceID, uid component.PinUID) bool {
	net, err := l.NetOf(inst, uid)
	if err != nil {
		return false
	}
	for _, other := range l.ComponentsOnNet(net) {
		if other != inst {
			return true
		}
	}
	return false
}

// ValueOf returns the nominal value of a passive instance.
func (l *Layer) ValueOf(inst graph.InstanceID) (units.Quantity, bool) {
	v := l.g.Instance(inst).Value
	if v == nil {
		return units.Quantity{}, false
	}
	return *v, true
}

// Category returns the instance category, falling back to the category of
// its component model.
func (l *Layer) Category(inst graph.InstanceID) string {
	if c := l.g.Instance(inst).Category; c != "" {
		return c
	}
	if m := l.bindings[inst].Model; m != nil {
		return m.Category
	}
	return ""
}

// Tags returns the instance tags.
func (l *Layer) Tags(inst graph.InstanceID) []string {
	return l.g.Instance(inst).Tags
}

// Matches reports whether inst has the category and, if cmp is set, a value
// satisfying it. tolerance applies to nominal comparisons.
func (l *Layer) Matches(inst graph.InstanceID, category string, cmp *units.Comparison, tolerance float64) bool {
	if !strings.EqualFold(l.Category(inst), category) {
		return false
	}
	if cmp == nil {
		return true
	}
	v, ok := l.ValueOf(inst)
	if !ok {
		return false
	}
	if cmp.Quantity.Dim != units.None && v.Dim != units.None && cmp.Quantity.Dim != v.Dim {
		return false
	}
	return cmp.Match(v.Value, tolerance)
}

// Distance returns the placement distance between two instances in metres.
// ok is false when either position is unknown.
func (l *Layer) Distance(a, b graph.InstanceID) (float64, bool) {
	pa, pb := l.g.Instance(a).Position, l.g.Instance(b).Position
	if pa == nil || pb == nil {
		return 0, false
	}
	return pa.Distance(*pb), true
}

// Bridges reports whether inst has one pin on net a and another on net b.
func (l *Layer) Bridges(inst graph.InstanceID, a, b graph.NetID) bool {
	nets := l.g.NetsOf(inst)
	return a != b && slices.Contains(nets, a) && slices.Contains(nets, b)
}

// Physical returns the physical pins of uid on inst.
func (l *Layer) Physical(inst graph.InstanceID, uid component.PinUID) []string {
	b, ok := l.Binding(inst)
	if !ok {
		return nil
	}
	phys, _ := b.View.Physical(uid)
	return phys
}
