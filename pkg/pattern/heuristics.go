package pattern

import "github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"

// DecouplingHeuristic proposes a flexible decoupling capacitor on every
// power pin that has no capacitor requirement of its own.
type DecouplingHeuristic struct {
	// Rule overrides the proposed rule text.
	Rule string
}

// Name implements Heuristic.
func (h DecouplingHeuristic) Name() string { return "decoupling" }

// Apply implements Heuristic.
func (h DecouplingHeuristic) Apply(s Subject, res *Resolution) []*Rule {
	text := h.Rule
	if text == "" {
		text = "cap(100n, purpose=decoupling)"
	}
	atom, err := dsl.Compile(text)
	if err != nil {
		return nil
	}
	atom = atom.WithFirmness(false)

	covered := make(map[dsl.PinUID]bool)
	for _, r := range res.Rules {
		if r.Atom != nil && r.Atom.Kind == atom.Kind {
			covered[r.Pin] = true
		}
	}
	for _, u := range res.Unbound {
		covered[u.Pin] = true
	}

	var out []*Rule
	for _, pin := range s.Pins() {
		if covered[pin] || s.PinRole(pin) != "power" {
			continue
		}
		out = append(out, &Rule{Pin: pin, Scope: ScopePin, Text: atom.String(), Atom: atom})
	}
	return out
}
