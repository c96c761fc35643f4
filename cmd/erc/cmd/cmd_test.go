package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

// run executes erc with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCheckText(t *testing.T) {
	out, err := run(t, "check", "-l", "testdata/parts", "testdata/board.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "U1/power.vdd.main")
	assert.Contains(t, out, "U2/signal.i2c.sda")
	assert.Contains(t, out, "R1 4.7kΩ bridges SDA to VDDIO")
	assert.Contains(t, out, "warning  violated")
	assert.Contains(t, out, "3 diagnostics: 0 errors, 1 warnings, 2 info\n")
}

func TestCheckFailOn(t *testing.T) {
	_, err := run(t, "check", "-l", "testdata/parts", "--fail-on", "warning", "testdata/board.yaml")
	assert.EqualError(t, err, "1 diagnostics at or above warning")

	_, err = run(t, "check", "-l", "testdata/parts", "--fail-on", "never",
		"--pack", "testdata/packs/strict.yaml", "testdata/board.yaml")
	assert.NoError(t, err)

	_, err = run(t, "check", "-l", "testdata/parts", "--fail-on", "loud", "testdata/board.yaml")
	assert.ErrorContains(t, err, `unknown severity "loud"`)
}

func TestCheckPackEscalates(t *testing.T) {
	out, err := run(t, "check", "-l", "testdata/parts", "--pack", "testdata/packs/strict.yaml",
		"--min-severity", "error", "testdata/board.yaml")
	assert.EqualError(t, err, "1 diagnostics at or above error")
	assert.Contains(t, out, "error  violated  U2/power.vddio.main  cap(4.7uF+)!")
	assert.Contains(t, out, "1 diagnostics: 1 errors, 0 warnings, 0 info\n")
}

func TestCheckJSON(t *testing.T) {
	out, err := run(t, "check", "-l", "testdata/parts", "--format", "json", "testdata/board.yaml")
	require.NoError(t, err)

	var report struct {
		RunID       string `json:"run_id"`
		Incomplete  bool   `json:"incomplete"`
		Summary     struct{ Total, Errors, Warnings int }
		Diagnostics []struct {
			ScopeID string `json:"scope_id"`
			Verdict string `json:"verdict"`
		}
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Incomplete)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Warnings)
	require.Len(t, report.Diagnostics, 3)
	assert.Equal(t, "U1/power.vdd.main", report.Diagnostics[0].ScopeID)
	assert.Equal(t, "satisfied", report.Diagnostics[0].Verdict)
}

func TestCheckRejectsBadInput(t *testing.T) {
	_, err := run(t, "check", "--format", "xml", "testdata/board.yaml")
	assert.ErrorContains(t, err, `invalid format "xml"`)

	_, err = run(t, "check", "-l", "testdata/parts", "--tolerance", "1.5", "testdata/board.yaml")
	assert.EqualError(t, err, "engine: tolerance 1.5 out of range [0, 1)")

	_, err = run(t, "check", "-l", "testdata/parts", "testdata/missing.yaml")
	assert.ErrorContains(t, err, "failed to read schematic")

	_, err = run(t, "check")
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	out, err := run(t, "compile", "cap(0.1u)!", "pull(up, power.vdd.io, <=4k7)")
	require.NoError(t, err)
	assert.Contains(t, out, "cap(0.1u)!")
	assert.Contains(t, out, "firm      cap(100nF)!")
	assert.Contains(t, out, "flexible")

	out, err = run(t, "compile", "cap(0.1u)", "cap(1u, colour=red)")
	assert.EqualError(t, err, "1 of 2 rules failed to compile")
	assert.Contains(t, out, "error")

	_, err = run(t, "compile")
	assert.EqualError(t, err, "compile: no rules given")
}

func TestCompileKinds(t *testing.T) {
	out, err := run(t, "compile", "--kinds")
	require.NoError(t, err)
	assert.Equal(t,
		"cap(value: magnitude [capacitance], purpose: identifier {decoupling|bulk|ref}?, max_dist: magnitude [length]?)\n"+
			"pull(direction: identifier {up|down}, target: pin uid, resistance: magnitude [resistance])\n",
		out)
}

func TestResolve(t *testing.T) {
	out, err := run(t, "resolve", "-l", "testdata/parts", "--pack", "testdata/packs/strict.yaml",
		"testdata/board.yaml", "U2")
	require.NoError(t, err)
	assert.Contains(t, out, "PIN")
	assert.Contains(t, out, "cap(4.7uF+)!")
	assert.Contains(t, out, "escalated by pack:strict/firm_io_supply")
	assert.Contains(t, out, "fired: pack:strict/firm_io_supply\n")

	_, err = run(t, "resolve", "-l", "testdata/parts", "testdata/board.yaml", "U9")
	assert.EqualError(t, err, `engine: no instance "U9"`)
}

func TestLint(t *testing.T) {
	out, err := run(t, "lint", "--pack", "testdata/packs/strict.yaml", "testdata/parts")
	require.NoError(t, err)
	assert.Contains(t, out, "ok    testdata/parts/ldo1.yaml: LDO1, 3 pins, 2 packages, 1 rules")
	assert.Contains(t, out, "note  testdata/parts/ldo1.yaml: power.vdd.main has no physical pin in package sot23")
	assert.Contains(t, out, "ok    testdata/packs/strict.yaml: pack strict, 1 patterns")
	assert.Contains(t, out, "2 components, 1 packs, 0 problems\n")
}

func TestLintReportsBrokenModels(t *testing.T) {
	out, err := run(t, "lint", "testdata/broken")
	assert.EqualError(t, err, "lint found 2 problems")
	assert.Contains(t, out, "FAIL  testdata/broken/sensor.yaml: ground.gnd.main: ")
	assert.Contains(t, out, "targets undeclared pin power.vdd.main")
}

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
libraries: [parts, /abs/models]
packs: [packs/strict.yaml]
tolerance: 0.1
timeout: 2s
fail_on: warning
`), 0o644))

	p, err := loadProject(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "parts"), "/abs/models"}, p.Libraries)
	assert.Equal(t, []string{filepath.Join(dir, "packs", "strict.yaml")}, p.Packs)
	require.NotNil(t, p.Tolerance)
	assert.Equal(t, 0.1, *p.Tolerance)
	assert.Equal(t, 2*time.Second, p.timeout())
	assert.Equal(t, "warning", p.FailOn)

	require.NoError(t, os.WriteFile(path, []byte("libarys: [parts]\n"), 0o644))
	_, err = loadProject(path)
	assert.ErrorContains(t, err, "libarys")

	p, err = loadProject("")
	require.NoError(t, err, "a missing default project is not an error")
	assert.Empty(t, p.Libraries)

	_, err = loadProject(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read project file")
}

func TestProjectFailOnApplies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erc.yaml")
	parts, err := filepath.Abs("testdata/parts")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("libraries: ["+parts+"]\nfail_on: warning\n"), 0o644))

	_, err = run(t, "check", "-p", path, "testdata/board.yaml")
	assert.EqualError(t, err, "1 diagnostics at or above warning")

	_, err = run(t, "check", "-p", path, "--fail-on", "error", "testdata/board.yaml")
	assert.NoError(t, err, "the flag wins over the project file")
}

func TestWatchDirs(t *testing.T) {
	dirs := watchDirs([]string{
		"testdata/board.yaml",
		"testdata/parts",
		"testdata/parts/**/*.yaml",
	})
	assert.Equal(t, []string{"testdata", "testdata/parts"}, dirs)
}

func TestWatchRunsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schematic: a\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, []string{path}, 10*time.Millisecond, slog.New(slog.DiscardHandler), func() {
			calls.Add(1)
		})
	}()

	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("schematic: b\n"), 0o644)
		return calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestIsInputFile(t *testing.T) {
	assert.True(t, isInputFile("parts/ldo.YAML"))
	assert.True(t, isInputFile("board.kicad_sch"))
	assert.True(t, isInputFile("board.net"))
	assert.True(t, isInputFile("board.kicad_pcb"))
	assert.False(t, isInputFile("notes.txt"))
}

func TestHelpExamplesCompile(t *testing.T) {
	quoted := regexp.MustCompile(`"([a-z]+\([^"]*\)!?)"`)
	root := NewRootCommand()
	compile, _, err := root.Find([]string{"compile"})
	require.NoError(t, err)

	var rules []string
	for _, long := range []string{root.Long, compile.Long} {
		for _, m := range quoted.FindAllStringSubmatch(long, -1) {
			rules = append(rules, m[1])
		}
	}
	require.NotEmpty(t, rules)
	for _, rule := range rules {
		_, err := dsl.Compile(rule)
		assert.NoError(t, err, rule)
	}
}
