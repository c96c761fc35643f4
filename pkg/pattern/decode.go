package pattern

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/units"
)

// Doc is the document form of a pattern, as written in component files and
// pattern packs.
type Doc struct {
	Name  string          `yaml:"name"`
	Scope string          `yaml:"scope,omitempty"`
	Pin   string          `yaml:"pin,omitempty"`
	When  WhenDoc         `yaml:"when,omitempty"`
	Then  List[ActionDoc] `yaml:"then"`
}

// WhenDoc lists condition primitives; all must hold.
type WhenDoc struct {
	ThisComponent bool            `yaml:"this_component,omitempty"`
	Category      List[string]    `yaml:"category,omitempty"`
	HasPin        List[string]    `yaml:"has_pin,omitempty"`
	Connected     List[string]    `yaml:"connected,omitempty"`
	Exists        List[ExistsDoc] `yaml:"exists,omitempty"`
}

// ExistsDoc is the document form of an exists condition.
type ExistsDoc struct {
	Component string `yaml:"component"`
	OnNet     string `yaml:"on_net"`
	Value     string `yaml:"value,omitempty"`
}

// ActionDoc is the document form of one action.
type ActionDoc struct {
	Bind     string       `yaml:"bind,omitempty"`
	Require  string       `yaml:"require,omitempty"`
	Severity string       `yaml:"severity,omitempty"`
	Pin      string       `yaml:"pin,omitempty"`
	Escalate *EscalateDoc `yaml:"escalate,omitempty"`
}

// EscalateDoc raises matching rules on a pin to firm.
type EscalateDoc struct {
	Pin  string `yaml:"pin"`
	Rule string `yaml:"rule,omitempty"`
}

// List accepts either a single YAML value or a sequence of them.
type List[T any] []T

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *List[T]) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var items []T
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var item T
	if err := value.Decode(&item); err != nil {
		return err
	}
	*l = List[T]{item}
	return nil
}

// PackDoc is the document form of a global pattern pack.
type PackDoc struct {
	Pack     string `yaml:"pack"`
	Patterns []Doc  `yaml:"patterns"`
}

// Decoder turns pattern documents into patterns, compiling rule text on the
// way.
type Decoder struct {
	Compiler dsl.RuleCompiler
}

func (d *Decoder) compile(text string) (*dsl.Atom, error) {
	if d == nil || d.Compiler == nil {
		return dsl.Compile(text)
	}
	return d.Compiler.Compile(text)
}

// Decode validates one pattern document. owner is the declaring component id
// for part-scoped patterns and empty for global ones.
//
// Structural problems are returned as errors. Rule text that fails to
// compile is kept on the action and reported when the pattern fires.
func (d *Decoder) Decode(doc Doc, owner string) (*Pattern, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, errors.New("pattern has no name")
	}
	wrap := func(err error) error {
		return fmt.Errorf("pattern %q: %w", doc.Name, err)
	}

	scope, err := ParseScope(doc.Scope)
	if err != nil {
		return nil, wrap(err)
	}
	p := &Pattern{Name: doc.Name, Scope: scope, Owner: owner}
	if doc.Pin != "" {
		if p.Pin, err = parsePin(doc.Pin); err != nil {
			return nil, wrap(err)
		}
	}

	if p.When, err = decodeWhen(doc.When, owner); err != nil {
		return nil, wrap(err)
	}

	if len(doc.Then) == 0 {
		return nil, wrap(errors.New("then has no actions"))
	}
	for i, ad := range doc.Then {
		a, err := d.decodeAction(ad, p.Pin)
		if err != nil {
			return nil, wrap(fmt.Errorf("action %d: %w", i+1, err))
		}
		p.Actions = append(p.Actions, a)
	}
	return p, nil
}

// DecodePack validates every pattern of a pack document. All pattern errors
// are reported together.
func (d *Decoder) DecodePack(doc PackDoc) (*Pack, error) {
	if strings.TrimSpace(doc.Pack) == "" {
		return nil, errors.New("pattern pack has no name")
	}
	pack := &Pack{Name: doc.Pack}
	var errs []error
	seen := make(map[string]bool)
	for _, pd := range doc.Patterns {
		if seen[pd.Name] {
			errs = append(errs, fmt.Errorf("pattern %q declared twice", pd.Name))
			continue
		}
		seen[pd.Name] = true
		p, err := d.Decode(pd, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pack.Patterns = append(pack.Patterns, p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pack %q: %w", doc.Pack, err)
	}
	return pack, nil
}

// ReadPack decodes a YAML pattern pack from r.
func (d *Decoder) ReadPack(r io.Reader) (*Pack, error) {
	var doc PackDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode pattern pack: %w", err)
	}
	return d.DecodePack(doc)
}

func decodeWhen(w WhenDoc, owner string) (Condition, error) {
	var c Condition
	if w.ThisComponent && owner == "" {
		return c, errors.New("this_component is only meaningful inside a component")
	}
	c.ThisComponent = w.ThisComponent || owner != ""
	for _, cat := range w.Category {
		cat = strings.TrimSpace(cat)
		if cat == "" {
			return c, errors.New("empty category")
		}
		c.Categories = append(c.Categories, cat)
	}
	for _, s := range w.HasPin {
		uid, err := parsePin(s)
		if err != nil {
			return c, fmt.Errorf("has_pin: %w", err)
		}
		c.HasPins = append(c.HasPins, uid)
	}
	for _, s := range w.Connected {
		uid, err := parsePin(s)
		if err != nil {
			return c, fmt.Errorf("connected: %w", err)
		}
		c.Connected = append(c.Connected, uid)
	}
	for _, ed := range w.Exists {
		e, err := decodeExists(ed)
		if err != nil {
			return c, fmt.Errorf("exists: %w", err)
		}
		c.Exists = append(c.Exists, e)
	}
	return c, nil
}

func decodeExists(ed ExistsDoc) (Exists, error) {
	if strings.TrimSpace(ed.Component) == "" {
		return Exists{}, errors.New("component category is required")
	}
	uid, err := parsePin(ed.OnNet)
	if err != nil {
		return Exists{}, fmt.Errorf("on_net: %w", err)
	}
	e := Exists{Component: ed.Component, OnNet: uid}
	if ed.Value != "" {
		cmp, err := units.ParseComparison(ed.Value)
		if err != nil {
			return Exists{}, fmt.Errorf("value: %w", err)
		}
		e.Value = &cmp
	}
	return e, nil
}

func (d *Decoder) decodeAction(ad ActionDoc, defaultPin dsl.PinUID) (Action, error) {
	sev, err := parseSeverity(ad.Severity)
	if err != nil {
		return Action{}, err
	}

	switch {
	case ad.Escalate != nil:
		if ad.Bind != "" || ad.Require != "" {
			return Action{}, errors.New("escalate cannot be combined with bind or require")
		}
		if sev == SeverityFlexible {
			return Action{}, errors.New("escalation cannot lower severity")
		}
		uid, err := parsePin(ad.Escalate.Pin)
		if err != nil {
			return Action{}, fmt.Errorf("escalate: %w", err)
		}
		a := Action{Kind: ActionEscalate, Pin: uid, Severity: SeverityFirm}
		if ad.Escalate.Rule != "" {
			atom, err := d.compile(ad.Escalate.Rule)
			if err != nil {
				return Action{}, fmt.Errorf("escalate: %w", err)
			}
			a.Rule = atom.Body()
		}
		return a, nil

	case ad.Bind != "":
		if ad.Require == "" {
			return Action{}, fmt.Errorf("bind %q has no require", ad.Bind)
		}
		a := Action{Kind: ActionBind, Key: ad.Bind, Severity: sev}
		d.attachRule(&a, ad.Require)
		return a, nil

	case ad.Require != "":
		a := Action{Kind: ActionRequire, Pin: defaultPin, Severity: sev}
		if ad.Pin != "" {
			if a.Pin, err = parsePin(ad.Pin); err != nil {
				return Action{}, err
			}
		}
		if a.Pin == "" {
			return Action{}, errors.New("require needs a pin (on the action or the pattern)")
		}
		d.attachRule(&a, ad.Require)
		return a, nil
	}
	return Action{}, errors.New("action must be one of bind, require or escalate")
}

func (d *Decoder) attachRule(a *Action, text string) {
	a.Text = text
	atom, err := d.compile(text)
	if err != nil {
		a.Err = err
		return
	}
	switch a.Severity {
	case SeverityFirm:
		atom = atom.WithFirmness(true)
	case SeverityFlexible:
		atom = atom.WithFirmness(false)
	}
	a.Atom = atom
}

func parseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityUnset, SeverityFirm, SeverityFlexible:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q (expected firm or flexible)", s)
}

func parsePin(s string) (dsl.PinUID, error) {
	uid := dsl.PinUID(strings.TrimSpace(s))
	if !uid.Valid() {
		return "", fmt.Errorf("pin uid %q must have the form domain.function.qualifier", s)
	}
	return uid, nil
}
