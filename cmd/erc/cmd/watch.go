package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/diag"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	EngineOptions
	Format   string
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <schematic>",
		Short: "Re-check a schematic whenever it or the library changes",
		Long: `Check a schematic, then check it again every time the schematic, a
component model, a pattern pack or the project file changes. Stop with Ctrl-C.

Examples:
  erc watch -l parts/ board.net
  erc watch --debounce 1s design.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchCommand(cmd, opts, args[0])
		},
	}

	opts.EngineOptions.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 300*time.Millisecond,
		"wait this long for more changes before re-checking")

	return cmd
}

func runWatchCommand(cmd *cobra.Command, opts *WatchOptions, path string) error {
	if !isValidFormat(opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}
	logger := opts.newLogger(cmd)
	proj, err := loadProject(opts.Project)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	check := func() {
		s, err := newSession(cmd, opts.RootOptions, &opts.EngineOptions)
		if err == nil {
			if s.libraryErr != nil {
				s.logger.Warn("some component models failed to load", "error", s.libraryErr)
			}
			_, err = s.check(ctx, path, out, opts.Format, diag.Info)
		}
		if err != nil {
			fmt.Fprintf(out, "check failed: %v\n", err)
		}
		fmt.Fprintf(out, "--- %s: waiting for changes\n", time.Now().Format(time.TimeOnly))
	}

	roots := []string{path}
	roots = append(roots, pick(opts.Libraries, proj.Libraries)...)
	roots = append(roots, pick(opts.Packs, proj.Packs)...)
	if opts.Project != "" {
		roots = append(roots, opts.Project)
	} else if _, err := os.Stat(defaultProjectFile); err == nil {
		roots = append(roots, defaultProjectFile)
	}
	if opts.Positions != "" {
		roots = append(roots, opts.Positions)
	}

	check()
	return watch(ctx, roots, opts.Debounce, logger, check)
}

// watch calls onChange after every burst of changes to an input file below
// roots. It returns when ctx is done.
func watch(ctx context.Context, roots []string, debounce time.Duration, logger *slog.Logger, onChange func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range watchDirs(roots) {
		addWatchesRecursive(fsw, dir, logger)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					addWatchesRecursive(fsw, event.Name, logger)
					continue
				}
			}
			if isInputFile(event.Name) && !event.Has(fsnotify.Chmod) {
				logger.Debug("file change detected", "path", event.Name, "op", event.Op.String())
				pending = true
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)

		case <-ticker.C:
			if pending {
				pending = false
				onChange()
			}
		}
	}
}

// watchDirs maps watched paths to directories: a directory is watched as
// is, a file or glob through its parent.
func watchDirs(roots []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, root := range roots {
		dir := root
		if strings.ContainsAny(root, "*?[{") {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(root))
			dir = filepath.FromSlash(base)
		} else if info, err := os.Stat(root); err != nil || !info.IsDir() {
			dir = filepath.Dir(root)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func addWatchesRecursive(fsw *fsnotify.Watcher, root string, logger *slog.Logger) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			logger.Warn("failed to watch directory", "path", path, "error", err)
		} else {
			logger.Debug("watching directory", "path", path)
		}
		return nil
	})
}

func isInputFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".net", ".kicad_sch", ".kicad_pcb":
		return true
	}
	return false
}
