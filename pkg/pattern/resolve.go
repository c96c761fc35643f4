package pattern

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

// LayerKind orders the sources a rule can come from. Lower layers are
// applied first.
type LayerKind int

const (
	LayerDirect LayerKind = iota
	LayerPart
	LayerGlobal
	LayerHeuristic
)

func (k LayerKind) String() string {
	switch k {
	case LayerDirect:
		return "direct"
	case LayerPart:
		return "part"
	case LayerGlobal:
		return "pack"
	case LayerHeuristic:
		return "heuristic"
	}
	return fmt.Sprintf("LayerKind(%d)", int(k))
}

// Origin identifies where a rule, bind or escalation came from.
type Origin struct {
	Layer LayerKind
	// Source is the component id for direct and part layers, the pack name
	// for global layers and the heuristic name otherwise.
	Source  string
	Pattern string
}

func (o Origin) String() string {
	if o.Pattern == "" {
		return o.Layer.String() + ":" + o.Source
	}
	return o.Layer.String() + ":" + o.Source + "/" + o.Pattern
}

// Subject is the component instance patterns are evaluated against.
type Subject interface {
	ComponentID() string
	Category() string
	// Pins returns the declared pin uids in a stable order.
	Pins() []dsl.PinUID
	HasPin(uid dsl.PinUID) bool
	PinRole(uid dsl.PinUID) string
	// Connected reports whether the pin's net reaches any other instance.
	Connected(uid dsl.PinUID) bool
	Exists(e Exists) bool
}

// Eval reports whether every primitive of the condition holds for s. owner
// is the declaring component of a part-scoped pattern.
func (c Condition) Eval(s Subject, owner string) bool {
	if c.ThisComponent && s.ComponentID() != owner {
		return false
	}
	if len(c.Categories) > 0 {
		matched := false
		for _, cat := range c.Categories {
			if strings.EqualFold(cat, s.Category()) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, uid := range c.HasPins {
		if !s.HasPin(uid) {
			return false
		}
	}
	for _, uid := range c.Connected {
		if !s.Connected(uid) {
			return false
		}
	}
	for _, e := range c.Exists {
		if !s.Exists(e) {
			return false
		}
	}
	return true
}

// Declared is one rule entry written directly on a component pin.
type Declared struct {
	Pin  dsl.PinUID
	Text string
	Atom *dsl.Atom
	Err  error
	// Symbolic is set for entries that name a key instead of a rule.
	Symbolic string
}

// Rule is a requirement in force on one instance after layering.
type Rule struct {
	Pin   dsl.PinUID
	Scope Scope
	Text  string
	// Atom is nil when Err holds a compile or placement error.
	Atom   *dsl.Atom
	Err    error
	Origin Origin
	// Key is the symbolic key the rule was bound through, if any.
	Key       string
	Escalated *Origin
	// Seq is the declaration order on the instance.
	Seq int
}

// Conflict is a bind rejected because the key was already claimed with a
// different atom.
type Conflict struct {
	Key      string
	Pin      dsl.PinUID
	Seq      int
	Held     Claim
	Rejected Claim
}

// Unbound is a symbolic entry no pattern resolved.
type Unbound struct {
	Key string
	Pin dsl.PinUID
	Seq int
}

// Resolution is the outcome of layering for one instance.
type Resolution struct {
	Rules     []*Rule
	Conflicts []Conflict
	Unbound   []Unbound
	// Fired lists the patterns whose condition held, in evaluation order.
	Fired []Origin
}

// RulesOn returns the rules anchored on pin.
func (r *Resolution) RulesOn(pin dsl.PinUID) []*Rule {
	var out []*Rule
	for _, rule := range r.Rules {
		if rule.Pin == pin {
			out = append(out, rule)
		}
	}
	return out
}

// Layer is one ordered source of patterns.
type Layer struct {
	Kind     LayerKind
	Name     string
	Patterns []*Pattern
}

// PartLayer wraps the patterns declared by a component.
func PartLayer(componentID string, patterns []*Pattern) Layer {
	return Layer{Kind: LayerPart, Name: componentID, Patterns: patterns}
}

// PackLayer wraps an enabled global pack.
func PackLayer(p *Pack) Layer {
	return Layer{Kind: LayerGlobal, Name: p.Name, Patterns: p.Patterns}
}

// Heuristic adds rules after all patterns have been applied. It must only
// add rules, never change or remove existing ones.
type Heuristic interface {
	Name() string
	Apply(s Subject, res *Resolution) []*Rule
}

// Resolver applies direct rules, then part-scoped patterns, then each
// global pack in order, then heuristics.
type Resolver struct {
	Layers     []Layer
	Heuristics []Heuristic
}

type keySite struct {
	pin dsl.PinUID
	seq int
}

// Resolve computes the rules in force on one instance. declared holds the
// component's pin rules in declaration order.
func (r *Resolver) Resolve(s Subject, declared []Declared) *Resolution {
	res := &Resolution{}
	direct := Origin{Layer: LayerDirect, Source: s.ComponentID()}

	keys := make(map[string][]keySite)
	var keyOrder []string
	for i, d := range declared {
		if d.Symbolic != "" {
			if _, ok := keys[d.Symbolic]; !ok {
				keyOrder = append(keyOrder, d.Symbolic)
			}
			keys[d.Symbolic] = append(keys[d.Symbolic], keySite{pin: d.Pin, seq: i})
			continue
		}
		res.Rules = append(res.Rules, &Rule{
			Pin:    d.Pin,
			Scope:  ScopePin,
			Text:   d.Text,
			Atom:   d.Atom,
			Err:    d.Err,
			Origin: direct,
			Seq:    i,
		})
	}

	seq := len(declared)
	claims := NewBindings()
	required := make(map[string]bool)

	for _, layer := range r.Layers {
		for _, p := range layer.Patterns {
			if !p.When.Eval(s, p.Owner) {
				continue
			}
			origin := Origin{Layer: layer.Kind, Source: layer.Name, Pattern: p.Name}
			res.Fired = append(res.Fired, origin)

			for _, a := range p.Actions {
				switch a.Kind {
				case ActionBind:
					sites := keys[a.Key]
					if len(sites) == 0 {
						continue
					}
					if a.Err != nil {
						for _, site := range sites {
							res.Rules = append(res.Rules, &Rule{Pin: site.pin, Scope: p.Scope,
								Text: a.Text, Err: a.Err, Origin: origin, Key: a.Key, Seq: site.seq})
						}
						continue
					}
					result, held := claims.Claim(a.Key, a.Atom, origin)
					switch result {
					case Claimed:
						for _, site := range sites {
							res.Rules = append(res.Rules, &Rule{Pin: site.pin, Scope: p.Scope,
								Text: a.Text, Atom: a.Atom, Origin: origin, Key: a.Key, Seq: site.seq})
						}
					case Conflicting:
						res.Conflicts = append(res.Conflicts, Conflict{
							Key:      a.Key,
							Pin:      sites[0].pin,
							Seq:      sites[0].seq,
							Held:     held,
							Rejected: Claim{Key: a.Key, Atom: a.Atom, Origin: origin},
						})
					}

				case ActionRequire:
					rule := &Rule{Pin: a.Pin, Scope: p.Scope, Text: a.Text, Atom: a.Atom,
						Err: a.Err, Origin: origin, Seq: seq}
					if !s.HasPin(a.Pin) {
						rule.Atom = nil
						rule.Err = fmt.Errorf("pattern %q requires a rule on %s, which %s does not declare",
							p.Name, a.Pin, s.ComponentID())
					} else if rule.Atom != nil {
						dedup := string(a.Pin) + "|" + string(p.Scope) + "|" + rule.Atom.String()
						if required[dedup] {
							continue
						}
						required[dedup] = true
					}
					res.Rules = append(res.Rules, rule)
					seq++

				case ActionEscalate:
					for _, rule := range res.Rules {
						if rule.Pin != a.Pin || rule.Atom == nil || rule.Atom.Firm {
							continue
						}
						if a.Rule != "" && rule.Atom.Body() != a.Rule {
							continue
						}
						rule.Atom = rule.Atom.WithFirmness(true)
						o := origin
						rule.Escalated = &o
					}
				}
			}
		}
	}

	for _, key := range keyOrder {
		if _, ok := claims.Lookup(key); ok {
			continue
		}
		for _, site := range keys[key] {
			res.Unbound = append(res.Unbound, Unbound{Key: key, Pin: site.pin, Seq: site.seq})
		}
	}

	for _, h := range r.Heuristics {
		for _, rule := range h.Apply(s, res) {
			rule.Origin = Origin{Layer: LayerHeuristic, Source: h.Name()}
			rule.Seq = seq
			seq++
			res.Rules = append(res.Rules, rule)
		}
	}
	return res
}
