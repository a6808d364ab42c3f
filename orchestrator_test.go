//go:build unix

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pair struct {
	Program        string
	Implementation string
	Status         Status
}

func pairs(report Report) []pair {
	result := make([]pair, 0, len(report.Entries))
	for _, entry := range report.Entries {
		result = append(result, pair{entry.Program, entry.Implementation, entry.Status})
	}
	return result
}

// testVM fails with exit 9 if the artifact is missing, otherwise runs body.
func testVM(t *testing.T, dir, name, body string) Implementation {
	t.Helper()
	script := writeScript(t, dir, name+".sh", `test -s "$1" || exit 9`+"\n"+body)
	return Implementation{Name: name, Command: "sh", Args: []string{script, "{artifact}"}}
}

func testConfig(t *testing.T) (Config, string) {
	t.Helper()
	dir := t.TempDir()
	compiler := writeScript(t, dir, "compiler.sh", fakeCompilerScript)
	config := DefaultConfig()
	config.WorkDir = filepath.Join(dir, "work")
	config.Report = filepath.Join(dir, "results.txt")
	config.Timeout = 10 * time.Second
	config.CompileTimeout = 10 * time.Second
	config.SetupTimeout = 10 * time.Second
	config.Compiler = CompilerConfig{Command: "sh", Args: []string{compiler, "{source}", "--output", "{output}"}}
	return config, dir
}

func testProgram(t *testing.T, dir, name, content string) Program {
	t.Helper()
	return Program{Name: name, Source: writeSource(t, dir, name+".cairo", content)}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{testProgram(t, dir, "fib", "func main() {}\n")}
	config.Implementations = []Implementation{
		testVM(t, dir, "fast-vm", "exit 0"),
		testVM(t, dir, "slow-vm", "sleep 0.1"),
	}
	require.Nil(t, config.Validate())

	var console bytes.Buffer
	report, err := NewOrchestrator(config, &ProcessRunner{}, &console).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"fib", "fast-vm", StatusOk},
		{"fib", "slow-vm", StatusOk},
	}, pairs(report))
	for _, entry := range report.Entries {
		require.GreaterOrEqual(t, entry.Elapsed, time.Duration(0))
	}
	require.GreaterOrEqual(t, report.Entries[1].Elapsed, 100*time.Millisecond)

	data, err := os.ReadFile(config.Report)
	require.Nil(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "* fib *", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "fast-vm: "))
	require.True(t, strings.HasPrefix(lines[2], "slow-vm: "))
	require.Equal(t, string(data), console.String())

	_, err = os.Stat(config.WorkDir)
	require.True(t, os.IsNotExist(err))
}

func TestOrchestratorOrdering(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{
		testProgram(t, dir, "A", "a\n"),
		testProgram(t, dir, "B", "b\n"),
	}
	config.Implementations = []Implementation{
		testVM(t, dir, "X", "exit 0"),
		testVM(t, dir, "Y", "exit 0"),
	}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"A", "X", StatusOk},
		{"A", "Y", StatusOk},
		{"B", "X", StatusOk},
		{"B", "Y", StatusOk},
	}, pairs(report))
}

func TestOrchestratorCompileFailure(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{
		testProgram(t, dir, "broken", "syntax error\n"),
		testProgram(t, dir, "fib", "func main() {}\n"),
	}
	config.Implementations = []Implementation{testVM(t, dir, "vm", "exit 0")}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"broken", "", StatusCompileFailed},
		{"fib", "vm", StatusOk},
	}, pairs(report))

	data, err := os.ReadFile(config.Report)
	require.Nil(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, "* broken *", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "broken: compile failed (exit 1)"))
	require.Equal(t, "* fib *", lines[2])
}

func TestOrchestratorSetupFailureIsolation(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{
		testProgram(t, dir, "A", "a\n"),
		testProgram(t, dir, "B", "b\n"),
	}
	broken := testVM(t, dir, "X", "exit 0")
	broken.Setup = []string{"sh", "-c", "echo no toolchain >&2; exit 1"}
	config.Implementations = []Implementation{broken, testVM(t, dir, "Y", "exit 0")}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"A", "X", StatusSetupFailed},
		{"A", "Y", StatusOk},
		{"B", "Y", StatusOk},
	}, pairs(report))
	require.Equal(t, "X: setup failed: build: exit code 1: no toolchain", report.Entries[0].Line(config.Timeout))
}

func TestOrchestratorRunFailureAndTimeout(t *testing.T) {
	config, dir := testConfig(t)
	config.Timeout = 300 * time.Millisecond
	config.Programs = []Program{testProgram(t, dir, "fib", "fib\n")}
	config.Implementations = []Implementation{
		testVM(t, dir, "crashing-vm", "echo panic: stack overflow >&2; exit 2"),
		testVM(t, dir, "hanging-vm", "sleep 5"),
		testVM(t, dir, "fine-vm", "exit 0"),
	}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"fib", "crashing-vm", StatusFailed},
		{"fib", "hanging-vm", StatusTimeout},
		{"fib", "fine-vm", StatusOk},
	}, pairs(report))
	require.Equal(t, 2, report.Entries[0].ExitCode)
	require.Equal(t, "crashing-vm: failed (exit 2): panic: stack overflow", report.Entries[0].Line(config.Timeout))
	require.Equal(t, 300*time.Millisecond, report.Entries[1].Elapsed)
	require.Equal(t, "hanging-vm: timed out after 300ms", report.Entries[1].Line(config.Timeout))
}

func TestOrchestratorRemovesStaleArtifacts(t *testing.T) {
	config, dir := testConfig(t)
	extra := filepath.Join(dir, "cairo-rs-clone")
	config.Transient = []string{extra}
	config.Programs = []Program{testProgram(t, dir, "fib", "fib\n")}
	config.Implementations = []Implementation{testVM(t, dir, "vm", "exit 0")}

	stale := filepath.Join(config.ArtifactsDir(), "stale.json")
	require.Nil(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.Nil(t, os.WriteFile(stale, []byte("{}"), 0o644))
	require.Nil(t, os.MkdirAll(filepath.Join(extra, "target"), 0o755))

	_, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	for _, path := range []string{config.WorkDir, extra} {
		_, err = os.Stat(path)
		require.True(t, os.IsNotExist(err), path)
	}
}

func TestOrchestratorBuildDirIsTransient(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{testProgram(t, dir, "fib", "fib\n")}
	vm := testVM(t, dir, "vm", `test -f "$2/built" || exit 7`)
	vm.Args = append(vm.Args, "{dir}")
	vm.Setup = []string{"sh", "-c", "mkdir -p {dir} && touch {dir}/built"}
	config.Implementations = []Implementation{vm}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)
	require.Equal(t, []pair{{"fib", "vm", StatusOk}}, pairs(report))
	_, err = os.Stat(config.BuildsDir())
	require.True(t, os.IsNotExist(err))
}

func TestOrchestratorInterrupt(t *testing.T) {
	config, dir := testConfig(t)
	config.Programs = []Program{
		testProgram(t, dir, "A", "a\n"),
		testProgram(t, dir, "B", "b\n"),
	}
	config.Implementations = []Implementation{testVM(t, dir, "vm", "sleep 5")}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 4*time.Second)
	require.Equal(t, []pair{{"A", "vm", StatusInterrupted}}, pairs(report))

	data, err := os.ReadFile(config.Report)
	require.Nil(t, err)
	require.Equal(t, "* A *\nvm: interrupted\n", string(data))
	_, err = os.Stat(config.WorkDir)
	require.True(t, os.IsNotExist(err))
}

func TestOrchestratorEnvironmentError(t *testing.T) {
	config, dir := testConfig(t)
	blocker := filepath.Join(dir, "blocker")
	require.Nil(t, os.WriteFile(blocker, []byte("x"), 0o644))
	config.Report = filepath.Join(blocker, "results.txt")
	config.Programs = []Program{testProgram(t, dir, "fib", "fib\n")}
	config.Implementations = []Implementation{testVM(t, dir, "vm", "exit 0")}

	report, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	var envErr *EnvironmentError
	require.True(t, errors.As(err, &envErr))
	require.Len(t, report.Entries, 1)
	_, err = os.Stat(config.WorkDir)
	require.True(t, os.IsNotExist(err))
}

func TestOrchestratorPublishesChartAndResults(t *testing.T) {
	config, dir := testConfig(t)
	config.Chart = filepath.Join(dir, "results.html")
	config.ResultsDB = filepath.Join(dir, "results.db")
	config.Programs = []Program{
		testProgram(t, dir, "fib", "fib\n"),
		testProgram(t, dir, "broken", "syntax error\n"),
	}
	config.Implementations = []Implementation{
		testVM(t, dir, "fast-vm", "exit 0"),
		testVM(t, dir, "slow-vm", "exit 3"),
	}

	_, err := NewOrchestrator(config, &ProcessRunner{}, nil).RunAll(context.Background())
	require.Nil(t, err)

	chart, err := os.ReadFile(config.Chart)
	require.Nil(t, err)
	require.Contains(t, string(chart), "fast-vm")

	storage, err := OpenStorage(context.Background(), config.ResultsDB)
	require.Nil(t, err)
	defer storage.Close()
	runs, err := storage.Runs(context.Background())
	require.Nil(t, err)
	require.Len(t, runs, 1)
	measurements, err := storage.Measurements(context.Background(), runs[0])
	require.Nil(t, err)
	require.Equal(t, []pair{
		{"fib", "fast-vm", StatusOk},
		{"fib", "slow-vm", StatusFailed},
		{"broken", "", StatusCompileFailed},
	}, pairs(Report{Entries: measurements}))
}
