package dsl

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRenderIdempotent checks render(compile(render(compile(t)))) == render(compile(t)).
func TestRenderIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	renderTwice := func(text string) bool {
		first, err := Compile(text)
		if err != nil {
			return false
		}
		second, err := Compile(first.String())
		if err != nil {
			return false
		}
		return first.String() == second.String()
	}

	properties.Property("cap rules render idempotently", prop.ForAll(
		func(mantissa float64, prefix string, suffix string, purpose string, firm bool) bool {
			text := fmt.Sprintf("cap(%g%s%s%s)", mantissa, prefix, suffix, purpose)
			if firm {
				text += "!"
			}
			return renderTwice(text)
		},
		gen.Float64Range(0.001, 999),
		gen.OneConstOf("p", "n", "u", "µ", "m", ""),
		gen.OneConstOf("", "F", "+", "F+"),
		gen.OneConstOf("", ", purpose=bulk", ", purpose=decoupling", ", max_dist=5mm", ", purpose=ref, max_dist=120mil"),
		gen.Bool(),
	))

	properties.Property("pull rules render idempotently", prop.ForAll(
		func(mantissa float64, prefix string, cmp string, dir string, firm bool) bool {
			text := fmt.Sprintf("pull(%s, power.vdd.main, %s%g%s)", dir, cmp, mantissa, prefix)
			if firm {
				text += "!"
			}
			return renderTwice(text)
		},
		gen.Float64Range(0.01, 999),
		gen.OneConstOf("", "k", "M", "R", "kΩ", "ohm"),
		gen.OneConstOf("", "<=", ">=", "<", ">"),
		gen.OneConstOf("up", "down"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestFirmMarkerRoundTrips checks the firmness flag survives rendering.
func TestFirmMarkerRoundTrips(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("firmness is preserved", prop.ForAll(
		func(firm bool) bool {
			text := "cap(1u)"
			if firm {
				text += "!"
			}
			atom, err := Compile(text)
			if err != nil {
				return false
			}
			again, err := Compile(atom.String())
			return err == nil && again.Firm == firm
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
