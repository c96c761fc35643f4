// Package engine runs a complete rule and pattern check of a schematic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/evidence"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pinmap"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/query"
)

// Models resolves component ids to loaded models. *component.Library
// implements it.
type Models interface {
	Lookup(id string) (*component.Model, bool)
}

// Engine evaluates schematics. It holds no per-run state, so one Engine can
// serve concurrent Evaluate calls.
type Engine struct {
	logger     *slog.Logger
	kinds      *dsl.Registry
	evaluators *evidence.Registry
	newRunID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithKinds sets the rule kinds the engine must be able to evaluate.
func WithKinds(kinds *dsl.Registry) Option {
	return func(e *Engine) {
		e.kinds = kinds
	}
}

// WithEvaluators sets the evidence evaluators.
func WithEvaluators(r *evidence.Registry) Option {
	return func(e *Engine) {
		e.evaluators = r
	}
}

// WithRunID replaces the run id generator.
func WithRunID(fn func() string) Option {
	return func(e *Engine) {
		e.newRunID = fn
	}
}

// New creates an engine. Every rule kind must have an evaluator.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:     slog.New(slog.DiscardHandler),
		kinds:      dsl.DefaultRegistry(),
		evaluators: evidence.DefaultRegistry(),
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.kinds == nil || e.evaluators == nil {
		return nil, errors.New("engine: kind and evaluator registries are required")
	}
	if err := e.evaluators.Covers(e.kinds.Kinds()); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

// Stats summarizes one pass.
type Stats struct {
	Instances int // Instances with a component model
	Skipped   int // Instances without a component id
	Rules     int // Rules checked against the graph
	Duration  time.Duration
}

// Report is the result of one evaluation pass.
type Report struct {
	RunID       string
	Diagnostics []diag.Diagnostic
	// Incomplete is set when the pass was cancelled. Diagnostics then holds
	// only the results finished before cancellation.
	Incomplete bool
	Stats      Stats
}

// Meta returns the run metadata for rendering.
func (r *Report) Meta() diag.Meta {
	return diag.Meta{RunID: r.RunID, Incomplete: r.Incomplete}
}

// Summary counts the report's diagnostics.
func (r *Report) Summary() diag.Summary {
	return diag.Summarize(r.Diagnostics)
}

type target struct {
	id      graph.InstanceID
	binding query.Binding
}

// Evaluate checks every instance of g against the rules and patterns in
// force. Cancellation of ctx or the configured timeout ends the pass early
// with Report.Incomplete set; it is not an error.
func (e *Engine) Evaluate(ctx context.Context, cfg *Config, models Models, g *graph.Graph) (*Report, error) {
	cfg = own(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if models == nil || g == nil {
		return nil, errors.New("engine: models and graph are required")
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	report := &Report{RunID: e.newRunID()}
	log := e.logger.With("run_id", report.RunID)

	var collector diag.Collector
	bindings := make(map[graph.InstanceID]query.Binding)
	var targets []target
	for i, inst := range g.Instances() {
		id := graph.InstanceID(i)
		if inst.Component == "" {
			report.Stats.Skipped++
			continue
		}
		report.Stats.Instances++
		b, ds := bind(models, id, &inst)
		if len(ds) > 0 {
			log.Warn("instance cannot be checked", "ref", inst.Ref, "component", inst.Component, "package", inst.Package)
			collector.Add(ds...)
			continue
		}
		bindings[id] = b
		targets = append(targets, target{id: id, binding: b})
	}
	layer := query.New(g, bindings)

	var incomplete atomic.Bool
	var rules atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(cfg.Workers)
	for _, t := range targets {
		if ctx.Err() != nil {
			incomplete.Store(true)
			break
		}
		eg.Go(func() error {
			ds, n, done := e.evaluateInstance(ctx, cfg, layer, t)
			collector.Add(ds...)
			rules.Add(int64(n))
			if !done {
				incomplete.Store(true)
			}
			return nil
		})
	}
	_ = eg.Wait()

	report.Diagnostics = collector.Sorted()
	report.Incomplete = incomplete.Load()
	report.Stats.Rules = int(rules.Load())
	report.Stats.Duration = time.Since(start)

	s := report.Summary()
	log.Info("evaluation finished",
		"instances", report.Stats.Instances,
		"rules", report.Stats.Rules,
		"errors", s.Errors,
		"warnings", s.Warnings,
		"incomplete", report.Incomplete)
	return report, nil
}

// own returns a private copy of cfg for one pass. Callers may share one
// Config between concurrent calls.
func own(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	c := *cfg
	return &c
}

// bind resolves the model and package of one instance. Failures are
// returned as unresolved-package diagnostics.
func bind(models Models, id graph.InstanceID, inst *graph.Instance) (query.Binding, []diag.Diagnostic) {
	model, ok := models.Lookup(inst.Component)
	if !ok {
		return query.Binding{}, []diag.Diagnostic{{
			Origin:    "schematic:" + inst.Ref,
			ScopeKind: diag.ScopeComponent,
			ScopeID:   inst.Ref,
			Verdict:   diag.UnresolvedPackage,
			Severity:  diag.Warning,
			Evidence:  fmt.Sprintf("component %q is not in the library; no rules checked", inst.Component),
			Instance:  int(id),
		}}
	}
	view, err := pinmap.Resolve(model, inst.Package)
	if err == nil {
		return query.Binding{Model: model, View: view}, nil
	}

	origin := pattern.Origin{Layer: pattern.LayerDirect, Source: model.ID}.String()
	var ds []diag.Diagnostic
	for i, d := range model.Declared() {
		firm := d.Atom != nil && d.Atom.Firm
		ds = append(ds, diag.Diagnostic{
			RuleText:  declaredText(d),
			Origin:    origin,
			ScopeKind: diag.ScopePin,
			ScopeID:   inst.Ref + "/" + string(d.Pin),
			Verdict:   diag.UnresolvedPackage,
			Severity:  diag.ForFirmness(firm),
			Evidence:  err.Error(),
			Instance:  int(id),
			Seq:       i,
		})
	}
	if len(ds) == 0 {
		ds = append(ds, diag.Diagnostic{
			Origin:    origin,
			ScopeKind: diag.ScopeComponent,
			ScopeID:   inst.Ref,
			Verdict:   diag.UnresolvedPackage,
			Severity:  diag.Warning,
			Evidence:  err.Error(),
			Instance:  int(id),
		})
	}
	return query.Binding{}, ds
}

func declaredText(d pattern.Declared) string {
	switch {
	case d.Symbolic != "":
		return "$" + d.Symbolic
	case d.Atom != nil:
		return d.Atom.String()
	}
	return d.Text
}

// evaluateInstance resolves and checks the rules of one instance. done is
// false when ctx ended before every rule was checked.
func (e *Engine) evaluateInstance(ctx context.Context, cfg *Config, layer *query.Layer, t target) (ds []diag.Diagnostic, checked int, done bool) {
	model := t.binding.Model
	ref := layer.Ref(t.id)
	subj := &subject{layer: layer, id: t.id, model: model, cfg: cfg}
	res := cfg.resolver(model.ID, model.Patterns).Resolve(subj, model.Declared())

	e.logger.Debug("resolved instance",
		"ref", ref, "component", model.ID, "rules", len(res.Rules),
		"fired", len(res.Fired), "unbound", len(res.Unbound), "conflicts", len(res.Conflicts))

	pinScope := func(pin dsl.PinUID) string { return ref + "/" + string(pin) }
	for _, c := range res.Conflicts {
		ds = append(ds, diag.Diagnostic{
			RuleText:  c.Rejected.Atom.String(),
			Origin:    c.Rejected.Origin.String(),
			ScopeKind: diag.ScopePin,
			ScopeID:   pinScope(c.Pin),
			Verdict:   diag.ConflictingBind,
			Severity:  diag.ForFirmness(c.Held.Atom.Firm || c.Rejected.Atom.Firm),
			Evidence: fmt.Sprintf("$%s is already bound to %s by %s; %s ignored",
				c.Key, c.Held.Atom, c.Held.Origin, c.Rejected.Origin),
			Pins:     layer.Physical(t.id, c.Pin),
			Instance: int(t.id),
			Seq:      c.Seq,
		})
	}
	for _, u := range res.Unbound {
		ds = append(ds, diag.Diagnostic{
			RuleText:  "$" + u.Key,
			Origin:    pattern.Origin{Layer: pattern.LayerDirect, Source: model.ID}.String(),
			ScopeKind: diag.ScopePin,
			ScopeID:   pinScope(u.Pin),
			Verdict:   diag.UnresolvedSymbolic,
			Severity:  diag.Info,
			Evidence:  fmt.Sprintf("symbolic requirement %s was not bound by any pattern", u.Key),
			Pins:      layer.Physical(t.id, u.Pin),
			Instance:  int(t.id),
			Seq:       u.Seq,
		})
	}

	for _, rule := range res.Rules {
		if ctx.Err() != nil {
			return ds, checked, false
		}
		ds = append(ds, e.check(cfg, layer, t, rule))
		checked++
	}
	return ds, checked, true
}

// check produces the diagnostic of one resolved rule.
func (e *Engine) check(cfg *Config, layer *query.Layer, t target, rule *pattern.Rule) diag.Diagnostic {
	ref := layer.Ref(t.id)
	d := diag.Diagnostic{
		RuleText:  rule.Text,
		Origin:    rule.Origin.String(),
		ScopeKind: diag.ScopePin,
		ScopeID:   ref + "/" + string(rule.Pin),
		Pins:      layer.Physical(t.id, rule.Pin),
		Instance:  int(t.id),
		Seq:       rule.Seq,
	}
	if rule.Escalated != nil {
		d.Origin += " escalated by " + rule.Escalated.String()
	}
	switch rule.Scope {
	case pattern.ScopeNet:
		d.ScopeKind = diag.ScopeNet
		if net, err := layer.NetOf(t.id, rule.Pin); err == nil {
			d.ScopeID = ref + "/net:" + layer.NetName(net)
		}
	case pattern.ScopeComponent:
		d.ScopeKind = diag.ScopeComponent
		d.ScopeID = ref
	}

	if rule.Atom == nil {
		d.Verdict = diag.InvalidRule
		d.Severity = diag.ForFirmness(strings.HasSuffix(strings.TrimSpace(rule.Text), "!"))
		if rule.Err != nil {
			d.Evidence = rule.Err.Error()
		}
		return d
	}
	d.RuleText = rule.Atom.String()

	for _, uid := range append([]dsl.PinUID{rule.Pin}, rule.Atom.References()...) {
		if _, declared := t.binding.Model.Pin(uid); uid != rule.Pin && !declared {
			continue
		}
		if !t.binding.View.Mapped(uid) {
			d.Verdict = diag.UnresolvedPackage
			d.Severity = diag.ForFirmness(rule.Atom.Firm)
			d.Evidence = fmt.Sprintf("%s has no physical pin in package %s", uid, t.binding.View.Package)
			return d
		}
	}

	res := e.evaluators.Evaluate(evidence.Context{
		Query:          layer,
		Instance:       t.id,
		Pin:            rule.Pin,
		Model:          t.binding.Model,
		Tolerance:      cfg.tolerance(),
		StrictDistance: cfg.StrictDistance,
	}, rule.Atom)
	d.Verdict = res.Verdict
	d.Severity = res.Severity(rule.Atom.Firm)
	d.Evidence = res.Summary
	return d
}

// Resolve returns the rules in force on the instance with reference ref
// after layering, without checking them against the graph.
func (e *Engine) Resolve(cfg *Config, models Models, g *graph.Graph, ref string) (*pattern.Resolution, error) {
	cfg = own(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, ok := g.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("engine: no instance %q", ref)
	}
	bindings := make(map[graph.InstanceID]query.Binding)
	for i := range g.Instances() {
		other := graph.InstanceID(i)
		inst := g.Instance(other)
		if inst.Component == "" {
			continue
		}
		b, ds := bind(models, other, inst)
		switch {
		case len(ds) == 0:
			bindings[other] = b
		case other == id:
			return nil, fmt.Errorf("engine: %s: %s", ref, ds[0].Evidence)
		}
	}
	b, ok := bindings[id]
	if !ok {
		return nil, fmt.Errorf("engine: %s has no component model", ref)
	}
	layer := query.New(g, bindings)
	subj := &subject{layer: layer, id: id, model: b.Model, cfg: cfg}
	return cfg.resolver(b.Model.ID, b.Model.Patterns).Resolve(subj, b.Model.Declared()), nil
}
