package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
)

const flexibleLDODoc = `
component: LDO2
category: regulator
packages:
  lga8:
    power.vdd.main: [1, 8]
pins:
  power.vdd.main:
    role: power
    direction: input
    rules: ["cap(0.1u)"]
`

func TestFirmnessDecidesSeverity(t *testing.T) {
	e := newEngine(t)
	lib := library(t, ldoDoc, flexibleLDODoc)

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("failed rules are errors iff firm", prop.ForAll(
		func(nano float64, firm bool) bool {
			id := "LDO2"
			if firm {
				id = "LDO1"
			}
			g := ldoSchematic(t, id, "lga8", []string{"U1.1", "U1.8"}, nano*1e-9)
			r, err := e.Evaluate(context.Background(), DefaultConfig(), lib, g)
			if err != nil || len(r.Diagnostics) != 1 {
				return false
			}
			d := r.Diagnostics[0]
			switch d.Verdict {
			case diag.Satisfied:
				return d.Severity == diag.Info
			case diag.Violated:
				return d.Severity == diag.ForFirmness(firm)
			}
			return false
		},
		gen.Float64Range(1, 1000),
		gen.Bool(),
	))
	properties.TestingRun(t)
}

func TestPackageIndependence(t *testing.T) {
	e := newEngine(t)
	lib := library(t, ldoDoc)

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("lga8 and bga64 agree on every verdict", prop.ForAll(
		func(nano float64) bool {
			lga, err := e.Evaluate(context.Background(), DefaultConfig(), lib,
				ldoSchematic(t, "LDO1", "lga8", []string{"U1.1", "U1.8"}, nano*1e-9))
			if err != nil {
				return false
			}
			bga, err := e.Evaluate(context.Background(), DefaultConfig(), lib,
				ldoSchematic(t, "LDO1", "bga64", []string{"U1.A1", "U1.H8"}, nano*1e-9))
			if err != nil || len(lga.Diagnostics) != len(bga.Diagnostics) {
				return false
			}
			for i := range lga.Diagnostics {
				a, b := lga.Diagnostics[i], bga.Diagnostics[i]
				if a.Verdict != b.Verdict || a.Severity != b.Severity || a.Evidence != b.Evidence {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 500),
	))
	properties.TestingRun(t)
}

func ExampleConfig() {
	cfg := DefaultConfig()
	cfg.Workers = 2
	fmt.Println(cfg.Validate(), cfg.Tolerance, cfg.ResistorTolerance)
	// Output: <nil> 0.2 0.05
}
