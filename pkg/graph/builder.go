package graph

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Builder assembles a Graph. Nets that share an endpoint or a name are
// merged with union-find, so connections may be declared in any order.
type Builder struct {
	instances []Instance
	byRef     map[string]InstanceID

	// union-find over endpoints and net names
	nodes  map[node]int
	keys   []node
	parent []int
	rank   []int
}

type node struct {
	ep     Endpoint
	name   string
	isName bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		byRef: make(map[string]InstanceID),
		nodes: make(map[node]int),
	}
}

// AddInstance appends an instance. Reference designators must be unique.
func (b *Builder) AddInstance(inst Instance) (InstanceID, error) {
	inst.Ref = strings.TrimSpace(inst.Ref)
	if inst.Ref == "" {
		return 0, fmt.Errorf("graph: instance without reference designator")
	}
	if _, dup := b.byRef[inst.Ref]; dup {
		return 0, fmt.Errorf("graph: duplicate reference designator %s", inst.Ref)
	}
	inst.ID = InstanceID(len(b.instances))
	b.instances = append(b.instances, inst)
	b.byRef[inst.Ref] = inst.ID
	return inst.ID, nil
}

// Pin returns the endpoint for a reference designator and physical pin.
func (b *Builder) Pin(ref, pin string) (Endpoint, error) {
	id, ok := b.byRef[ref]
	if !ok {
		return Endpoint{}, fmt.Errorf("graph: unknown instance %s", ref)
	}
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return Endpoint{}, fmt.Errorf("graph: empty pin on %s", ref)
	}
	return Endpoint{Instance: id, Pin: pin}, nil
}

// Connect joins endpoints into the net called name. An empty name joins the
// endpoints without naming the net.
func (b *Builder) Connect(name string, endpoints ...Endpoint) error {
	for _, ep := range endpoints {
		if int(ep.Instance) < 0 || int(ep.Instance) >= len(b.instances) {
			return fmt.Errorf("graph: endpoint refers to unknown instance %d", ep.Instance)
		}
	}
	first := -1
	if name != "" {
		first = b.node(node{name: name, isName: true})
	}
	for _, ep := range endpoints {
		n := b.node(node{ep: ep})
		if first < 0 {
			first = n
			continue
		}
		b.union(first, n)
	}
	return nil
}

func (b *Builder) node(k node) int {
	if n, ok := b.nodes[k]; ok {
		return n
	}
	n := len(b.keys)
	b.nodes[k] = n
	b.keys = append(b.keys, k)
	b.parent = append(b.parent, n)
	b.rank = append(b.rank, 0)
	return n
}

func (b *Builder) find(n int) int {
	root := n
	for b.parent[root] != root {
		root = b.parent[root]
	}
	for n != root {
		next := b.parent[n]
		b.parent[n] = root
		n = next
	}
	return root
}

func (b *Builder) union(x, y int) {
	rx, ry := b.find(x), b.find(y)
	if rx == ry {
		return
	}
	switch {
	case b.rank[rx] < b.rank[ry]:
		b.parent[rx] = ry
	case b.rank[rx] > b.rank[ry]:
		b.parent[ry] = rx
	default:
		b.parent[ry] = rx
		b.rank[rx]++
	}
}

// Build freezes the graph. Nets are ordered by first declaration; a net's
// name is the first name it was given, later names become aliases.
// Unnamed nets are called Net-(REF-PIN) after their first endpoint.
func (b *Builder) Build() *Graph {
	type group struct {
		names     []string
		endpoints []Endpoint
	}
	groups := make(map[int]*group)
	var order []*group
	for n, k := range b.keys {
		root := b.find(n)
		g, ok := groups[root]
		if !ok {
			g = &group{}
			groups[root] = g
			order = append(order, g)
		}
		if k.isName {
			g.names = append(g.names, k.name)
		} else {
			g.endpoints = append(g.endpoints, k.ep)
		}
	}

	gr := &Graph{
		instances: slices.Clone(b.instances),
		byRef:     make(map[string]InstanceID, len(b.byRef)),
		byName:    make(map[string]NetID),
		pinNet:    make(map[Endpoint]NetID),
		instNets:  make([][]NetID, len(b.instances)),
	}
	for ref, id := range b.byRef {
		gr.byRef[ref] = id
	}

	for _, g := range order {
		if len(g.endpoints) == 0 {
			continue
		}
		slices.SortFunc(g.endpoints, compareEndpoints)
		id := NetID(len(gr.nets))
		net := Net{ID: id, Endpoints: g.endpoints}
		if len(g.names) > 0 {
			net.Name = g.names[0]
			net.Aliases = g.names[1:]
		} else {
			first := g.endpoints[0]
			net.Name = fmt.Sprintf("Net-(%s-%s)", b.instances[first.Instance].Ref, first.Pin)
		}
		for _, name := range append([]string{net.Name}, net.Aliases...) {
			if _, taken := gr.byName[name]; !taken {
				gr.byName[name] = id
			}
		}
		for _, ep := range g.endpoints {
			gr.pinNet[ep] = id
			nets := gr.instNets[ep.Instance]
			if len(nets) == 0 || nets[len(nets)-1] != id {
				gr.instNets[ep.Instance] = append(nets, id)
			}
		}
		gr.nets = append(gr.nets, net)
	}
	return gr
}

func compareEndpoints(a, b Endpoint) int {
	if c := cmp.Compare(a.Instance, b.Instance); c != 0 {
		return c
	}
	return comparePins(a.Pin, b.Pin)
}

// comparePins orders numeric pin ids numerically and everything else
// lexicographically, so 2 sorts before 10.
func comparePins(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	return strings.Compare(a, b)
}
