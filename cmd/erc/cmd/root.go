package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Project   string   // erc.yaml path
	Libraries []string // component model directories or globs
	Packs     []string // pattern pack files, highest priority first
}

// NewRootCommand creates the erc command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "erc",
		Short: "OpenTraceERC - schematic pin rule and pattern checker",
		Long: `OpenTraceERC (erc) checks schematics against the pin requirements written
in component models: decoupling capacitors, pull resistors and the patterns
that bind or escalate them.

Examples:
  erc check board.net                      # Check a KiCad netlist
  erc check --format json design.yaml      # Check a schematic document
  erc compile "cap(0.1u)!" "pull(up, power.vddio.main, <=4.7k)"
  erc resolve design.yaml U3               # Show the rules in force on U3
  erc lint                                 # Validate models and packs
  erc watch board.net                      # Re-check on every change`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVarP(&opts.Project, "project", "p", "",
		"project file (default: erc.yaml in the working directory, if present)")
	cmd.PersistentFlags().StringSliceVarP(&opts.Libraries, "lib", "l", nil,
		"component model directory or glob (repeatable)")
	cmd.PersistentFlags().StringSliceVar(&opts.Packs, "pack", nil,
		"global pattern pack file, in precedence order (repeatable)")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewLintCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "erc:", err)
		os.Exit(1)
	}
}

// newLogger logs to stderr so that reports on stdout stay machine readable.
func (o *RootOptions) newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
