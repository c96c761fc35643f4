package engine

import (
	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/query"
)

// subject presents one bound instance to the pattern resolver.
type subject struct {
	layer *query.Layer
	id    graph.InstanceID
	model *component.Model
	cfg   *Config
}

var _ pattern.Subject = (*subject)(nil)

func (s *subject) ComponentID() string { return s.model.ID }

func (s *subject) Category() string { return s.layer.Category(s.id) }

func (s *subject) Pins() []dsl.PinUID { return s.model.PinUIDs() }

func (s *subject) HasPin(uid dsl.PinUID) bool {
	_, ok := s.model.Pin(uid)
	return ok
}

func (s *subject) PinRole(uid dsl.PinUID) string {
	spec, ok := s.model.Pin(uid)
	if !ok {
		return ""
	}
	return string(spec.Role)
}

func (s *subject) Connected(uid dsl.PinUID) bool {
	return s.layer.Connected(s.id, uid)
}

// Exists reports whether another instance of the wanted category, with a
// matching value if one is given, shares the net of e.OnNet.
func (s *subject) Exists(e pattern.Exists) bool {
	net, err := s.layer.NetOf(s.id, e.OnNet)
	if err != nil {
		return false
	}
	tolerance := s.cfg.toleranceFor(e.Component)
	for _, other := range s.layer.ComponentsOnNet(net) {
		if other != s.id && s.layer.Matches(other, e.Component, e.Value, tolerance) {
			return true
		}
	}
	return false
}
