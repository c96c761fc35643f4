// Package graph holds the schematic as a flat arena of component instances
// and nets that refer to each other by index.
package graph

import (
	"math"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// InstanceID indexes Graph instances in declaration order.
type InstanceID int

// NetID indexes Graph nets.
type NetID int

// NoNet is returned when a pin is not on any net.
const NoNet NetID = -1

// Point is a placement position in millimetres.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Distance returns the straight-line distance between two points in metres.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y) * 1e-3
}

// Instance is one placed component.
type Instance struct {
	ID  InstanceID
	Ref string
	// Component is the component model id. Passives without a model leave
	// it empty and are described by Category and Value alone.
	Component string
	Package   string
	Category  string
	Value     *units.Quantity
	Tags      []string
	Position  *Point
}

// HasTag reports whether the instance carries tag.
func (i *Instance) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Endpoint is one physical pin of one instance.
type Endpoint struct {
	Instance InstanceID
	Pin      string
}

// Net is a set of electrically joined endpoints.
type Net struct {
	ID   NetID
	Name string
	// Aliases are further names merged into this net.
	Aliases   []string
	Endpoints []Endpoint
}

// Graph is an immutable schematic. All methods are safe for concurrent use.
type Graph struct {
	instances []Instance
	nets      []Net
	byRef     map[string]InstanceID
	byName    map[string]NetID
	pinNet    map[Endpoint]NetID
	instNets  [][]NetID
}

// Len returns the number of instances.
func (g *Graph) Len() int {
	return len(g.instances)
}

// Instances returns all instances in declaration order. The slice must not
// be modified.
func (g *Graph) Instances() []Instance {
	return g.instances
}

// Instance returns the instance with the given id.
func (g *Graph) Instance(id InstanceID) *Instance {
	return &g.instances[id]
}

// Lookup finds an instance by reference designator.
func (g *Graph) Lookup(ref string) (InstanceID, bool) {
	id, ok := g.byRef[ref]
	return id, ok
}

// Nets returns all nets. The slice must not be modified.
func (g *Graph) Nets() []Net {
	return g.nets
}

// Net returns the net with the given id.
func (g *Graph) Net(id NetID) *Net {
	return &g.nets[id]
}

// NetByName finds a net by name or alias.
func (g *Graph) NetByName(name string) (NetID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// NetOfPin returns the net a physical pin is on.
func (g *Graph) NetOfPin(inst InstanceID, pin string) NetID {
	if id, ok := g.pinNet[Endpoint{Instance: inst, Pin: pin}]; ok {
		return id
	}
	return NoNet
}

// NetsOf returns the nets touching an instance, in net order.
func (g *Graph) NetsOf(inst InstanceID) []NetID {
	return g.instNets[inst]
}

// PinsOn returns the physical pins of inst that sit on net.
func (g *Graph) PinsOn(inst InstanceID, net NetID) []string {
	var pins []string
	for _, ep := range g.nets[net].Endpoints {
		if ep.Instance == inst {
			pins = append(pins, ep.Pin)
		}
	}
	return pins
}
