package component

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

// Library is an in-memory set of component models keyed by component id.
// It is safe for concurrent use.
type Library struct {
	mu     sync.RWMutex
	models map[string]*Model

	compiler dsl.RuleCompiler
	logger   *slog.Logger
}

// NewLibrary creates an empty library. Rule text of every loaded model is
// compiled through compiler; nil uses a fresh session cache.
func NewLibrary(compiler dsl.RuleCompiler, logger *slog.Logger) *Library {
	if compiler == nil {
		compiler = dsl.NewCache(nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Library{
		models:   make(map[string]*Model),
		compiler: compiler,
		logger:   logger,
	}
}

// Add registers a model. A second model with the same id is rejected.
func (l *Library) Add(m *Model) error {
	if m == nil || m.ID == "" {
		return errors.New("component: invalid model")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.models[m.ID]; ok {
		return fmt.Errorf("component: %s already loaded from %s", m.ID, sourceName(prev))
	}
	l.models[m.ID] = m
	return nil
}

// Replace registers a model, overwriting any model with the same id.
func (l *Library) Replace(m *Model) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models[m.ID] = m
}

// Lookup returns the model registered under id.
func (l *Library) Lookup(id string) (*Model, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.models[id]
	return m, ok
}

// Models returns every model ordered by id.
func (l *Library) Models() []*Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Model, 0, len(l.models))
	for _, m := range l.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Model) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of models.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.models)
}

// LoadFile reads, validates and registers one component document.
func (l *Library) LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("component: %w", err)
	}
	m, err := LoadDocument(data, l.compiler)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Source = path
		}
		return nil, err
	}
	m.Source = path
	if err := l.Add(m); err != nil {
		return nil, err
	}
	l.logger.Debug("component loaded", "component", m.ID, "path", path,
		"pins", len(m.Pins), "packages", len(m.Packages), "patterns", len(m.Patterns))
	return m, nil
}

// LoadGlob loads every file matching a doublestar pattern such as
// "parts/**/*.yaml". A broken document does not stop the others from
// loading; all failures are returned joined.
func (l *Library) LoadGlob(pattern string) ([]*Model, error) {
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("component: bad glob %q: %w", pattern, err)
	}
	return l.loadPaths(paths)
}

// LoadDir loads every component document below root. root is taken
// literally, so glob metacharacters in its name need no escaping.
func (l *Library) LoadDir(root string) ([]*Model, error) {
	var paths []string
	err := doublestar.GlobWalk(os.DirFS(root), "**/*", func(path string, _ fs.DirEntry) error {
		paths = append(paths, filepath.Join(root, filepath.FromSlash(path)))
		return nil
	}, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("component: failed to walk %s: %w", root, err)
	}
	return l.loadPaths(paths)
}

func (l *Library) loadPaths(paths []string) ([]*Model, error) {
	slices.Sort(paths)

	var (
		loaded []*Model
		errs   []error
	)
	for _, path := range paths {
		if !IsComponentFile(path) {
			continue
		}
		m, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("component rejected", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, m)
	}
	return loaded, errors.Join(errs...)
}

// IsComponentFile reports whether path has a component document extension.
func IsComponentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func sourceName(m *Model) string {
	if m.Source == "" {
		return "memory"
	}
	return m.Source
}
