package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/engine"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	EngineOptions
	Format      string
	FailOn      string // error | warning | info | never
	MinSeverity string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <schematic>",
		Short: "Check a schematic against component rules and patterns",
		Long: `Check every component instance of a schematic against the rules on its
pins, the patterns of its model and the enabled pattern packs.

The schematic is a KiCad netlist (.net) or a YAML/JSON schematic document.
The command fails when any diagnostic reaches the --fail-on severity.

Examples:
  erc check -l parts/ board.net
  erc check -l parts/ --pack packs/strict.yaml --format json board.net
  erc check --positions board.kicad_sch --strict-distance board.net`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckCommand(cmd, opts, args[0])
		},
	}

	opts.EngineOptions.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "error",
		"fail when a diagnostic reaches this severity (error|warning|info|never)")
	cmd.Flags().StringVar(&opts.MinSeverity, "min-severity", "info",
		"hide diagnostics below this severity (error|warning|info)")

	return cmd
}

func runCheckCommand(cmd *cobra.Command, opts *CheckOptions, path string) error {
	if !isValidFormat(opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}
	minSev, err := parseSeverity(opts.MinSeverity)
	if err != nil {
		return err
	}
	failOn := opts.FailOn
	s, err := newSession(cmd, opts.RootOptions, &opts.EngineOptions)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("fail-on") && s.project.FailOn != "" {
		failOn = s.project.FailOn
	}
	if s.libraryErr != nil {
		s.logger.Warn("some component models failed to load", "error", s.libraryErr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := s.check(ctx, path, cmd.OutOrStdout(), opts.Format, minSev)
	if err != nil {
		return err
	}
	return failure(report, failOn)
}

// check evaluates one schematic and writes the report.
func (s *session) check(ctx context.Context, path string, w io.Writer, format string, minSev diag.Severity) (*engine.Report, error) {
	g, err := s.loadSchematic(path)
	if err != nil {
		return nil, err
	}
	report, err := s.engine.Evaluate(ctx, s.config, s.library, g)
	if err != nil {
		return nil, err
	}
	shown := diag.Filter(report.Diagnostics, minSev)
	if format == "json" {
		err = diag.WriteJSON(w, shown, report.Meta())
	} else {
		err = diag.WriteText(w, shown, report.Meta())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return report, nil
}

// failure returns an error when the report holds a diagnostic at or above
// threshold.
func failure(report *engine.Report, threshold string) error {
	if strings.EqualFold(threshold, "never") {
		return nil
	}
	sev, err := parseSeverity(threshold)
	if err != nil {
		return fmt.Errorf("fail-on: %w", err)
	}
	if n := len(diag.Filter(report.Diagnostics, sev)); n > 0 {
		return fmt.Errorf("%d diagnostics at or above %s", n, sev)
	}
	if report.Incomplete {
		return fmt.Errorf("check incomplete")
	}
	return nil
}

func parseSeverity(s string) (diag.Severity, error) {
	switch sev := diag.Severity(strings.ToLower(s)); sev {
	case diag.Error, diag.Warning, diag.Info:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q (want error, warning or info)", s)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
