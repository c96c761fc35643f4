package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/evidence"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/graph"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/kicad/netlist"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/pattern"
	"github.com/OpenTraceLab/OpenTraceERC/pkg/schematicdoc"
)

// EngineOptions holds the flags shared by check, resolve and watch.
type EngineOptions struct {
	Tolerance         float64
	ResistorTolerance float64
	StrictDistance    bool
	Heuristics        bool
	Workers           int
	Timeout           time.Duration
	Positions         string // .kicad_sch file for netlist input
}

func (o *EngineOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&o.Tolerance, "tolerance", evidence.DefaultTolerance.Capacitor,
		"relative tolerance for nominal capacitor values")
	f.Float64Var(&o.ResistorTolerance, "resistor-tolerance", evidence.DefaultTolerance.Resistor,
		"relative tolerance for nominal resistor values")
	f.BoolVar(&o.StrictDistance, "strict-distance", false,
		"ignore parts without a position in max_dist checks")
	f.BoolVar(&o.Heuristics, "heuristics", false,
		"propose decoupling rules for power pins without any")
	f.IntVarP(&o.Workers, "workers", "j", 0, "instances checked concurrently (default: GOMAXPROCS)")
	f.DurationVar(&o.Timeout, "timeout", 0, "abandon the check after this long")
	f.StringVar(&o.Positions, "positions", "",
		"KiCad schematic or board to read part positions from (netlist input only)")
}

// session holds everything loaded for one command run.
type session struct {
	logger   *slog.Logger
	project  *project
	compiler *dsl.Cache
	library  *component.Library
	// libraryErr lists component documents that failed to load. The rest of
	// the library is still usable.
	libraryErr error
	packs      []*pattern.Pack
	config     *engine.Config
	engine     *engine.Engine
	positions  string
}

func newSession(cmd *cobra.Command, root *RootOptions, eng *EngineOptions) (*session, error) {
	s, err := openLibrary(cmd, root)
	if err != nil {
		return nil, err
	}
	if s.packs, err = s.loadPacks(pick(root.Packs, s.project.Packs)); err != nil {
		return nil, err
	}
	if s.config, err = s.buildConfig(cmd, eng); err != nil {
		return nil, err
	}
	if eng != nil {
		s.positions = eng.Positions
	}
	if s.engine, err = engine.New(engine.WithLogger(s.logger)); err != nil {
		return nil, err
	}
	return s, nil
}

// openLibrary reads the project file and loads the component library only.
func openLibrary(cmd *cobra.Command, root *RootOptions) (*session, error) {
	proj, err := loadProject(root.Project)
	if err != nil {
		return nil, err
	}
	s := &session{
		logger:   root.newLogger(cmd),
		project:  proj,
		compiler: dsl.NewCache(nil),
	}
	s.library = component.NewLibrary(s.compiler, s.logger)
	s.libraryErr = s.loadLibrary(pick(root.Libraries, proj.Libraries))
	return s, nil
}

// pick prefers flag values over the project file.
func pick(flag, proj []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return proj
}

// loadLibrary loads directories recursively and everything else as a glob.
func (s *session) loadLibrary(sources []string) error {
	var errs []error
	for _, src := range sources {
		var err error
		if info, statErr := os.Stat(src); statErr == nil && info.IsDir() {
			_, err = s.library.LoadDir(src)
		} else {
			_, err = s.library.LoadGlob(src)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Debug("library loaded", "components", s.library.Len(), "sources", len(sources))
	return errors.Join(errs...)
}

func (s *session) loadPacks(paths []string) ([]*pattern.Pack, error) {
	dec := &pattern.Decoder{Compiler: s.compiler}
	var packs []*pattern.Pack
	for _, path := range paths {
		p, err := readPackFile(dec, path)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("pack loaded", "pack", p.Name, "path", path, "patterns", len(p.Patterns))
		packs = append(packs, p)
	}
	return packs, nil
}

func readPackFile(dec *pattern.Decoder, path string) (*pattern.Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pack: %w", err)
	}
	defer f.Close()
	p, err := dec.ReadPack(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// buildConfig layers defaults, the project file and explicitly set flags.
func (s *session) buildConfig(cmd *cobra.Command, o *EngineOptions) (*engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.Packs = s.packs

	p := s.project
	if p.Tolerance != nil {
		cfg.Tolerance = *p.Tolerance
	}
	if p.ResistorTolerance != nil {
		cfg.ResistorTolerance = *p.ResistorTolerance
	}
	cfg.StrictDistance = p.StrictDistance
	cfg.Heuristics = p.Heuristics
	if p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	cfg.Timeout = p.timeout()

	if o != nil {
		f := cmd.Flags()
		if f.Changed("tolerance") {
			cfg.Tolerance = o.Tolerance
		}
		if f.Changed("resistor-tolerance") {
			cfg.ResistorTolerance = o.ResistorTolerance
		}
		if f.Changed("strict-distance") {
			cfg.StrictDistance = o.StrictDistance
		}
		if f.Changed("heuristics") {
			cfg.Heuristics = o.Heuristics
		}
		if f.Changed("workers") {
			cfg.Workers = o.Workers
		}
		if f.Changed("timeout") {
			cfg.Timeout = o.Timeout
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSchematic reads a KiCad netlist (.net) or a schematic document.
func (s *session) loadSchematic(path string) (*graph.Graph, error) {
	if !strings.EqualFold(filepath.Ext(path), ".net") {
		sch, err := schematicdoc.Load(path)
		if err != nil {
			return nil, err
		}
		return sch.Graph, nil
	}

	opts := []netlist.Option{
		netlist.WithLogger(s.logger),
		netlist.WithKnownComponents(func(part string) bool {
			_, ok := s.library.Lookup(part)
			return ok
		}),
	}
	if s.positions != "" {
		pos, err := netlist.ReadPositionsFile(s.positions)
		if err != nil {
			return nil, err
		}
		opts = append(opts, netlist.WithPositions(pos))
	}
	res, err := netlist.ReadFile(path, opts...)
	if err != nil {
		return nil, err
	}
	return res.Graph, nil
}
