package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	EngineOptions
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <schematic> <ref>",
		Short: "Show the rules in force on one component instance",
		Long: `Resolve the rules on one instance after direct rules, part patterns,
global packs and heuristics have been layered, without checking them.

Examples:
  erc resolve -l parts/ board.net U3
  erc resolve -l parts/ --pack packs/strict.yaml design.yaml U1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, opts.RootOptions, &opts.EngineOptions)
			if err != nil {
				return err
			}
			g, err := s.loadSchematic(args[0])
			if err != nil {
				return err
			}
			res, err := s.engine.Resolve(s.config, s.library, g, args[1])
			if err != nil {
				return err
			}
			return writeResolution(cmd.OutOrStdout(), res)
		},
	}

	opts.EngineOptions.addFlags(cmd)

	return cmd
}

func writeResolution(w io.Writer, res *pattern.Resolution) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIN\tRULE\tORIGIN")
	for _, r := range res.Rules {
		text := r.Text
		if r.Atom != nil {
			text = r.Atom.String()
		}
		if r.Err != nil {
			text += " (invalid: " + r.Err.Error() + ")"
		}
		origin := r.Origin.String()
		if r.Key != "" {
			origin += " via $" + r.Key
		}
		if r.Escalated != nil {
			origin += " escalated by " + r.Escalated.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Pin, text, origin)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(tw, "%s\t$%s conflict: %s ignored\t%s holds %s\n",
			c.Pin, c.Key, c.Rejected.Origin, c.Held.Origin, c.Held.Atom)
	}
	for _, u := range res.Unbound {
		fmt.Fprintf(tw, "%s\t$%s\tunbound\n", u.Pin, u.Key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, o := range res.Fired {
		if _, err := fmt.Fprintf(w, "fired: %s\n", o); err != nil {
			return err
		}
	}
	return nil
}
