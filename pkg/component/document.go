package component

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
)

type document struct {
	Component     string                         `yaml:"component"`
	Category      string                         `yaml:"category"`
	SchemaVersion string                         `yaml:"schema_version"`
	Description   string                         `yaml:"description"`
	Packages      map[string]map[string][]string `yaml:"packages"`
	Pins          map[string]pinDoc              `yaml:"pins"`
	Patterns      []pattern.Doc                  `yaml:"patterns"`
}

type pinDoc struct {
	Names       []string    `yaml:"names"`
	Role        string      `yaml:"role"`
	Direction   string      `yaml:"direction"`
	Voltage     *voltageDoc `yaml:"voltage"`
	Rules       []ruleDoc   `yaml:"rules"`
	Tags        []string    `yaml:"tags"`
	Description string      `yaml:"description"`
}

type voltageDoc struct {
	Nominal string `yaml:"nominal"`
	AbsMin  string `yaml:"abs_min"`
	AbsMax  string `yaml:"abs_max"`
}

// ruleDoc is either rule text, "$key" or {symbolic: key}.
type ruleDoc struct {
	Text     string
	Symbolic string
}

func (r *ruleDoc) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if key, ok := strings.CutPrefix(strings.TrimSpace(n.Value), "$"); ok {
			r.Symbolic = key
			return nil
		}
		r.Text = n.Value
		return nil
	case yaml.MappingNode:
		var m struct {
			Symbolic string `yaml:"symbolic"`
		}
		if err := n.Decode(&m); err != nil {
			return err
		}
		r.Symbolic = m.Symbolic
		return nil
	}
	return fmt.Errorf("line %d: rule must be text or {symbolic: key}", n.Line)
}

var symbolicKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadDocument parses and validates one YAML or JSON component definition.
// Rule text is compiled through compiler (nil uses the base kinds); rules
// that fail to compile keep their error and do not fail the load.
func LoadDocument(data []byte, compiler dsl.RuleCompiler) (*Model, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Problems: []Problem{{Message: err.Error()}}}
	}
	if raw == nil {
		return nil, &ValidationError{Problems: []Problem{{Message: "empty document"}}}
	}

	probs, err := validateSchema(raw)
	if err != nil {
		return nil, err
	}
	if len(probs) > 0 {
		return nil, &ValidationError{Component: componentName(raw), Problems: probs}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Component: componentName(raw), Problems: []Problem{{Message: err.Error()}}}
	}
	return build(doc, compiler)
}

func componentName(raw any) string {
	if m, ok := raw.(map[string]any); ok {
		if s, ok := m["component"].(string); ok {
			return s
		}
	}
	return ""
}

func build(doc document, compiler dsl.RuleCompiler) (*Model, error) {
	if compiler == nil {
		compiler = dsl.NewCache(nil)
	}
	var ps problems

	if err := checkSchemaVersion(doc.SchemaVersion); err != nil {
		ps.add("/schema_version", "%v", err)
	}

	m := &Model{
		ID:            strings.TrimSpace(doc.Component),
		Category:      strings.TrimSpace(doc.Category),
		SchemaVersion: doc.SchemaVersion,
		Description:   doc.Description,
		Packages:      make(map[string]*Package),
		Pins:          make(map[PinUID]*PinSpec),
	}
	if m.ID == "" {
		ps.add("/component", "component id is empty")
	}

	for _, key := range sortedKeys(doc.Pins) {
		spec := buildPin(key, doc.Pins[key], compiler, &ps)
		if spec != nil {
			m.Pins[spec.UID] = spec
		}
	}

	for _, uid := range m.PinUIDs() {
		if v := m.Pins[uid].Voltage; v != nil {
			for _, ref := range v.Refs() {
				if _, ok := m.Pins[ref]; !ok {
					ps.add(pinPath(uid, "voltage"), "refers to undeclared pin %s", ref)
				}
			}
		}
	}

	for _, name := range sortedKeys(doc.Packages) {
		m.Packages[name] = buildPackage(name, doc.Packages[name], m, &ps)
	}

	dec := &pattern.Decoder{Compiler: compiler}
	seen := make(map[string]bool)
	for i, pd := range doc.Patterns {
		path := fmt.Sprintf("/patterns/%d", i)
		if seen[pd.Name] {
			ps.add(path, "pattern %q declared twice", pd.Name)
			continue
		}
		seen[pd.Name] = true
		p, err := dec.Decode(pd, m.ID)
		if err != nil {
			ps.add(path, "%v", err)
			continue
		}
		checkPatternPins(p, m, path, &ps)
		m.Patterns = append(m.Patterns, p)
	}

	if len(ps) > 0 {
		return nil, &ValidationError{Component: m.ID, Problems: ps}
	}
	return m, nil
}

func buildPin(key string, pd pinDoc, compiler dsl.RuleCompiler, ps *problems) *PinSpec {
	uid := PinUID(key)
	if !uid.Valid() {
		ps.add("/pins/"+key, "pin uid %q must have the form domain.function.qualifier", key)
		return nil
	}
	spec := &PinSpec{
		UID:         uid,
		Names:       pd.Names,
		Tags:        pd.Tags,
		Description: pd.Description,
	}

	var err error
	if spec.Role, err = ParseRole(pd.Role); err != nil {
		ps.add(pinPath(uid, "role"), "%v", err)
	}
	if spec.Direction, err = ParseDirection(pd.Direction); err != nil {
		ps.add(pinPath(uid, "direction"), "%v", err)
	}

	if pd.Voltage != nil {
		spec.Voltage = &Envelope{}
		for _, f := range []struct {
			name string
			text string
			dst  **Bound
		}{
			{"nominal", pd.Voltage.Nominal, &spec.Voltage.Nominal},
			{"abs_min", pd.Voltage.AbsMin, &spec.Voltage.AbsMin},
			{"abs_max", pd.Voltage.AbsMax, &spec.Voltage.AbsMax},
		} {
			if f.text == "" {
				continue
			}
			b, err := ParseBound(f.text)
			if err != nil {
				ps.add(pinPath(uid, "voltage/"+f.name), "%v", err)
				continue
			}
			if b.Ref == uid {
				ps.add(pinPath(uid, "voltage/"+f.name), "voltage cannot refer to its own pin")
				continue
			}
			*f.dst = &b
		}
	}

	for i, rd := range pd.Rules {
		if rd.Symbolic != "" {
			if !symbolicKey.MatchString(rd.Symbolic) {
				ps.add(pinPath(uid, fmt.Sprintf("rules/%d", i)), "invalid symbolic key %q", rd.Symbolic)
				continue
			}
			spec.Rules = append(spec.Rules, RuleSource{Symbolic: rd.Symbolic})
			continue
		}
		atom, err := compiler.Compile(rd.Text)
		spec.Rules = append(spec.Rules, RuleSource{Text: rd.Text, Atom: atom, Err: err})
	}
	return spec
}

func buildPackage(name string, pins map[string][]string, m *Model, ps *problems) *Package {
	pkg := &Package{Name: name, Pins: make(map[PinUID][]string, len(pins))}
	owner := make(map[string]PinUID)
	for _, key := range sortedKeys(pins) {
		uid := PinUID(key)
		path := "/packages/" + name + "/" + key
		if _, ok := m.Pins[uid]; !ok {
			ps.add(path, "package maps undeclared pin %s", key)
			continue
		}
		for _, phys := range pins[key] {
			phys = strings.TrimSpace(phys)
			if phys == "" {
				ps.add(path, "empty physical pin id")
				continue
			}
			if prev, dup := owner[phys]; dup {
				ps.add(path, "physical pin %s already mapped to %s", phys, prev)
				continue
			}
			owner[phys] = uid
			pkg.Pins[uid] = append(pkg.Pins[uid], phys)
		}
	}
	return pkg
}

// checkPatternPins rejects part-scoped patterns that name pins or keys the
// component does not declare.
func checkPatternPins(p *pattern.Pattern, m *Model, path string, ps *problems) {
	check := func(uid PinUID, what string) {
		if uid == "" {
			return
		}
		if _, ok := m.Pins[uid]; !ok {
			ps.add(path, "pattern %q: %s %s is not a pin of %s", p.Name, what, uid, m.ID)
		}
	}
	check(p.Pin, "pin")
	for _, uid := range p.When.HasPins {
		check(uid, "has_pin")
	}
	for _, uid := range p.When.Connected {
		check(uid, "connected")
	}
	for _, e := range p.When.Exists {
		check(e.OnNet, "on_net")
	}
	keys := m.SymbolicKeys()
	for _, a := range p.Actions {
		switch a.Kind {
		case pattern.ActionBind:
			if !slices.Contains(keys, a.Key) {
				ps.add(path, "pattern %q binds %q, which no pin declares", p.Name, a.Key)
			}
		case pattern.ActionRequire:
			check(a.Pin, "require pin")
		case pattern.ActionEscalate:
			check(a.Pin, "escalate pin")
		}
	}
}

func pinPath(uid PinUID, field string) string {
	return "/pins/" + string(uid) + "/" + field
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
