package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultProjectFile = "erc.yaml"

// project is the erc.yaml file. Paths are relative to the file.
type project struct {
	Libraries         []string `yaml:"libraries"`
	Packs             []string `yaml:"packs"`
	Tolerance         *float64 `yaml:"tolerance"`
	ResistorTolerance *float64 `yaml:"resistor_tolerance"`
	StrictDistance    bool     `yaml:"strict_distance"`
	Heuristics        bool     `yaml:"heuristics"`
	Workers           int      `yaml:"workers"`
	Timeout           string   `yaml:"timeout"`
	FailOn            string   `yaml:"fail_on"`
}

// loadProject reads path. An empty path looks for erc.yaml and returns an
// empty project when there is none.
func loadProject(path string) (*project, error) {
	explicit := path != ""
	if !explicit {
		path = defaultProjectFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &project{}, nil
		}
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var p project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Timeout != "" {
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return nil, fmt.Errorf("%s: timeout: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	for i, l := range p.Libraries {
		p.Libraries[i] = relativeTo(dir, l)
	}
	for i, pk := range p.Packs {
		p.Packs[i] = relativeTo(dir, pk)
	}
	return &p, nil
}

func relativeTo(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (p *project) timeout() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}
