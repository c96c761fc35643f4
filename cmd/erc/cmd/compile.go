package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Kinds bool // list rule kinds instead of compiling
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rule>...",
		Short: "Compile rule text and print its canonical form",
		Long: `Compile requirement rules and print the canonical text of each one,
or the reason it does not compile.

Examples:
  erc compile "cap(0.1u)!"
  erc compile "cap(47u+, purpose=bulk)" "pull(up, power.vddio.main, <=4.7k)"
  erc compile --kinds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Kinds {
				return writeKinds(cmd.OutOrStdout(), dsl.DefaultRegistry())
			}
			if len(args) == 0 {
				return errors.New("compile: no rules given")
			}
			return compileRules(cmd.OutOrStdout(), args)
		},
	}

	cmd.Flags().BoolVar(&opts.Kinds, "kinds", false, "list the rule kinds and their arguments")

	return cmd
}

func compileRules(w io.Writer, rules []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	failed := 0
	for _, text := range rules {
		atom, err := dsl.Compile(text)
		if err != nil {
			failed++
			fmt.Fprintf(tw, "%s\terror\t%v\n", text, err)
			continue
		}
		firmness := "flexible"
		if atom.Firm {
			firmness = "firm"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", text, firmness, atom)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to compile", failed, len(rules))
	}
	return nil
}

func writeKinds(w io.Writer, r *dsl.Registry) error {
	for _, name := range r.Kinds() {
		spec, _ := r.Lookup(name)
		args := make([]string, 0, len(spec.Args))
		for _, a := range spec.Args {
			args = append(args, describeArg(a))
		}
		if _, err := fmt.Fprintf(w, "%s(%s)\n", name, strings.Join(args, ", ")); err != nil {
			return err
		}
	}
	return nil
}

func describeArg(a dsl.ArgSpec) string {
	s := a.Name + ": " + a.Type.String()
	switch a.Type {
	case dsl.MagnitudeValue:
		s += " [" + a.Dim.String() + "]"
	case dsl.EnumValue:
		s += " {" + strings.Join(a.Enum, "|") + "}"
	}
	if !a.Required {
		s += "?"
	}
	return s
}
