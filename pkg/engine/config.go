package engine

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/evidence"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
)

// Config controls one evaluation pass. Nothing outside the Config, the
// models and the graph influences the result.
type Config struct {
	// Pattern packs, highest priority first. A later pack cannot override a
	// key bound by an earlier one.
	Packs []*pattern.Pack

	// Value matching
	Tolerance         float64 // Nominal band for capacitors and other parts (default: 0.2)
	ResistorTolerance float64 // Nominal band for resistors (default: 0.05)
	StrictDistance    bool    // Ignore parts without a position in max_dist checks (default: false)

	// Heuristic defaults
	Heuristics     bool   // Fill gaps with heuristic rules (default: false)
	DecouplingRule string // Rule proposed on uncovered power pins (default: cap(100n, purpose=decoupling))

	// Execution
	Workers int           // Instances evaluated concurrently (default: GOMAXPROCS)
	Timeout time.Duration // Abandon the pass after this long; 0 means no limit
}

// DefaultConfig returns a Config with the defaults above.
func DefaultConfig() *Config {
	return &Config{
		Tolerance:         evidence.DefaultTolerance.Capacitor,
		ResistorTolerance: evidence.DefaultTolerance.Resistor,
		Workers:           runtime.GOMAXPROCS(0),
	}
}

// Validate checks the configuration and fills in zero-valued defaults.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		c.Workers = runtime.GOMAXPROCS(0)
	}

	var errs []error
	if c.Tolerance < 0 || c.Tolerance >= 1 {
		errs = append(errs, fmt.Errorf("engine: tolerance %g out of range [0, 1)", c.Tolerance))
	}
	if c.ResistorTolerance < 0 || c.ResistorTolerance >= 1 {
		errs = append(errs, fmt.Errorf("engine: resistor tolerance %g out of range [0, 1)", c.ResistorTolerance))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("engine: negative timeout %s", c.Timeout))
	}
	seen := make(map[string]bool)
	for i, p := range c.Packs {
		if p == nil {
			errs = append(errs, fmt.Errorf("engine: pack %d is nil", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("engine: pack %q enabled twice", p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

func (c *Config) tolerance() evidence.Tolerance {
	return evidence.Tolerance{Capacitor: c.Tolerance, Resistor: c.ResistorTolerance}
}

// toleranceFor picks the nominal band for a part category.
func (c *Config) toleranceFor(category string) float64 {
	if strings.EqualFold(category, "resistor") {
		return c.ResistorTolerance
	}
	return c.Tolerance
}

func (c *Config) resolver(modelID string, patterns []*pattern.Pattern) *pattern.Resolver {
	layers := make([]pattern.Layer, 0, len(c.Packs)+1)
	layers = append(layers, pattern.PartLayer(modelID, patterns))
	for _, p := range c.Packs {
		layers = append(layers, pattern.PackLayer(p))
	}
	r := &pattern.Resolver{Layers: layers}
	if c.Heuristics {
		r.Heuristics = []pattern.Heuristic{pattern.DecouplingHeuristic{Rule: c.DecouplingRule}}
	}
	return r
}
