package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pinmap"
)

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [component-dir|glob]...",
		Short: "Validate component models and pattern packs",
		Long: `Load every component model and pattern pack and report documents that
fail validation, rules that do not compile and pull targets that name
undeclared pins. Pins with rules but no physical pin in some package are
listed as notes.

Without arguments the libraries of --lib or the project file are linted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			if len(args) > 0 {
				opts.Libraries = args
			}
			s, err := openLibrary(cmd, &opts)
			if err != nil {
				return err
			}
			return s.lint(cmd.OutOrStdout(), pick(opts.Packs, s.project.Packs))
		},
	}
	return cmd
}

func (s *session) lint(w io.Writer, packPaths []string) error {
	problems := 0
	for _, err := range unjoin(s.libraryErr) {
		problems++
		fmt.Fprintf(w, "FAIL  %v\n", err)
	}

	for _, m := range s.library.Models() {
		issues := lintModel(m)
		problems += len(issues)
		for _, issue := range issues {
			fmt.Fprintf(w, "FAIL  %s: %s\n", sourceOf(m), issue)
		}
		for _, note := range unmappedNotes(m) {
			fmt.Fprintf(w, "note  %s: %s\n", sourceOf(m), note)
		}
		if len(issues) == 0 {
			fmt.Fprintf(w, "ok    %s: %s, %d pins, %d packages, %d rules\n",
				sourceOf(m), m.ID, len(m.Pins), len(m.Packages), m.RuleCount())
		}
	}

	dec := &pattern.Decoder{Compiler: s.compiler}
	for _, path := range packPaths {
		p, err := readPackFile(dec, path)
		if err != nil {
			problems++
			fmt.Fprintf(w, "FAIL  %v\n", err)
			continue
		}
		fmt.Fprintf(w, "ok    %s: pack %s, %d patterns\n", path, p.Name, len(p.Patterns))
	}

	fmt.Fprintf(w, "%d components, %d packs, %d problems\n", s.library.Len(), len(packPaths), problems)
	if problems > 0 {
		return fmt.Errorf("lint found %d problems", problems)
	}
	return nil
}

// lintModel reports rules that would fail every evaluation of m.
func lintModel(m *component.Model) []string {
	var issues []string
	for _, d := range m.Declared() {
		if d.Err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", d.Pin, d.Err))
			continue
		}
		if d.Atom == nil {
			continue
		}
		if p, ok := d.Atom.Params.(*dsl.PullParams); ok {
			if _, declared := m.Pin(p.Target); !declared {
				issues = append(issues, fmt.Sprintf("%s: %s targets undeclared pin %s", d.Pin, d.Atom, p.Target))
			}
		}
	}
	return issues
}

func unmappedNotes(m *component.Model) []string {
	var notes []string
	for _, name := range m.PackageNames() {
		v, err := pinmap.Resolve(m, name)
		if err != nil {
			continue
		}
		for _, uid := range v.Unmapped {
			notes = append(notes, fmt.Sprintf("%s has no physical pin in package %s", uid, name))
		}
	}
	return notes
}

func sourceOf(m *component.Model) string {
	if m.Source == "" {
		return m.ID
	}
	return m.Source
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, unjoin(e)...)
		}
		return out
	}
	return []error{err}
}

