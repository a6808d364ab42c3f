package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type CompilerConfig struct {
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
}

type FixturesConfig struct {
	SourceDir   string `toml:"source_dir" yaml:"source_dir"`
	OutputDir   string `toml:"output_dir" yaml:"output_dir"`
	Pattern     string `toml:"pattern" yaml:"pattern"`
	Parallelism int    `toml:"parallelism" yaml:"parallelism"`
}

// Config is the declarative description of a benchmark run.
type Config struct {
	WorkDir   string   `toml:"work_dir" yaml:"work_dir"`
	Report    string   `toml:"report" yaml:"report"`
	Chart     string   `toml:"chart" yaml:"chart"`
	ResultsDB string   `toml:"results_db" yaml:"results_db"`
	Transient []string `toml:"transient" yaml:"transient"`

	Timeout        time.Duration `toml:"timeout" yaml:"timeout"`
	CompileTimeout time.Duration `toml:"compile_timeout" yaml:"compile_timeout"`
	SetupTimeout   time.Duration `toml:"setup_timeout" yaml:"setup_timeout"`
	Warmup         int           `toml:"warmup" yaml:"warmup"`
	ClearCaches    bool          `toml:"clear_caches" yaml:"clear_caches"`

	Compiler        CompilerConfig   `toml:"compiler" yaml:"compiler"`
	Programs        []Program        `toml:"programs" yaml:"programs"`
	Implementations []Implementation `toml:"implementations" yaml:"implementations"`
	Fixtures        FixturesConfig   `toml:"fixtures" yaml:"fixtures"`
}

const (
	DefaultTimeout        = 10 * time.Minute
	DefaultCompileTimeout = 5 * time.Minute
	DefaultSetupTimeout   = 30 * time.Minute
)

func DefaultConfig() Config {
	return Config{
		WorkDir:        ".bench",
		Report:         "benchmark-results.txt",
		Timeout:        DefaultTimeout,
		CompileTimeout: DefaultCompileTimeout,
		SetupTimeout:   DefaultSetupTimeout,
		Compiler: CompilerConfig{
			Command: "cairo-compile",
			Args:    []string{"{source}", "--output", "{output}"},
		},
		Fixtures: FixturesConfig{
			SourceDir:   "cairo_programs",
			OutputDir:   "cairo_programs",
			Pattern:     "*.cairo",
			Parallelism: runtime.GOMAXPROCS(0),
		},
	}
}

// LoadConfig reads a TOML or YAML file (chosen by extension) over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("cannot read %v: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return config, fmt.Errorf("unsupported config format: %v", path)
	}
	if err != nil {
		return config, fmt.Errorf("parse error in %v: %w", path, err)
	}
	return config, nil
}

// ApplyEnv overrides config values with BENCH_* environment variables.
func (c *Config) ApplyEnv() {
	c.WorkDir = StringEnv("BENCH_WORK_DIR", c.WorkDir)
	c.Report = StringEnv("BENCH_REPORT", c.Report)
	c.Chart = StringEnv("BENCH_CHART", c.Chart)
	c.ResultsDB = StringEnv("BENCH_RESULTS_DB", c.ResultsDB)
	c.Timeout = DurationEnv("BENCH_TIMEOUT", c.Timeout)
	c.Warmup = IntEnv("BENCH_WARMUP", c.Warmup)
}

func (c *Config) Validate() error {
	var errs []error
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir must not be empty"))
	}
	if c.Report == "" {
		errs = append(errs, errors.New("report must not be empty"))
	} else if err := c.checkKept("report", c.Report); err != nil {
		errs = append(errs, err)
	}
	if c.Chart != "" {
		if err := c.checkKept("chart", c.Chart); err != nil {
			errs = append(errs, err)
		}
	}
	if path := localDatabasePath(c.ResultsDB); path != "" {
		if err := c.checkKept("results_db", path); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Timeout <= 0 || c.CompileTimeout <= 0 || c.SetupTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Warmup < 0 {
		errs = append(errs, errors.New("warmup must not be negative"))
	}
	if c.Compiler.Command == "" {
		errs = append(errs, errors.New("compiler command must not be empty"))
	}
	if len(c.Programs) == 0 {
		errs = append(errs, errors.New("at least one program is required"))
	}
	if len(c.Implementations) == 0 {
		errs = append(errs, errors.New("at least one implementation is required"))
	}
	programs := make(map[string]bool)
	for i, program := range c.Programs {
		if err := validateName(program.Name); err != nil {
			errs = append(errs, fmt.Errorf("program #%v: %w", i, err))
		} else if programs[program.Name] {
			errs = append(errs, fmt.Errorf("duplicate program %v", program.Name))
		}
		programs[program.Name] = true
		if program.Source == "" {
			errs = append(errs, fmt.Errorf("program %v: source must not be empty", program.Name))
		} else if err := c.checkKept("source", program.Source); err != nil {
			errs = append(errs, fmt.Errorf("program %v: %w", program.Name, err))
		}
	}
	implementations := make(map[string]bool)
	for i, implementation := range c.Implementations {
		if err := validateName(implementation.Name); err != nil {
			errs = append(errs, fmt.Errorf("implementation #%v: %w", i, err))
		} else if implementations[implementation.Name] {
			errs = append(errs, fmt.Errorf("duplicate implementation %v", implementation.Name))
		}
		implementations[implementation.Name] = true
		if implementation.Command == "" {
			errs = append(errs, fmt.Errorf("implementation %v: command must not be empty", implementation.Name))
		}
	}
	return errors.Join(errs...)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("name %q must not be a path", name)
	}
	return nil
}

// checkKept rejects a path that the transient cleanup would remove.
func (c *Config) checkKept(what, path string) error {
	if c.WorkDir != "" && within(path, c.WorkDir) {
		return fmt.Errorf("%v %v must not be inside work_dir %v", what, path, c.WorkDir)
	}
	for _, transient := range c.Transient {
		if transient != "" && within(path, transient) {
			return fmt.Errorf("%v %v must not be inside transient path %v", what, path, transient)
		}
	}
	return nil
}

// localDatabasePath is the file behind a sqlite results_db, empty for remote
// databases and in-memory ones.
func localDatabasePath(url string) string {
	if url == "" || storageDriver(url) != "sqlite" {
		return ""
	}
	path := strings.TrimPrefix(url, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

// ValidateFixtures checks the subset of the config used by fixture regeneration.
func (c *Config) ValidateFixtures() error {
	var errs []error
	if c.Compiler.Command == "" {
		errs = append(errs, errors.New("compiler command must not be empty"))
	}
	if c.CompileTimeout <= 0 {
		errs = append(errs, errors.New("compile_timeout must be positive"))
	}
	if c.Fixtures.SourceDir == "" || c.Fixtures.OutputDir == "" {
		errs = append(errs, errors.New("fixtures source_dir and output_dir must not be empty"))
	}
	if c.Fixtures.Pattern == "" {
		errs = append(errs, errors.New("fixtures pattern must not be empty"))
	}
	if c.Fixtures.Parallelism < 0 {
		errs = append(errs, errors.New("fixtures parallelism must not be negative"))
	}
	return errors.Join(errs...)
}

func within(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Config) ArtifactsDir() string { return filepath.Join(c.WorkDir, "artifacts") }
func (c *Config) BuildsDir() string    { return filepath.Join(c.WorkDir, "builds") }

// TransientPaths lists everything removed before and after a run.
func (c *Config) TransientPaths() []string {
	return append([]string{c.WorkDir}, c.Transient...)
}

func (c *Config) ArtifactPath(program Program) string {
	return filepath.Join(c.ArtifactsDir(), program.Name+".json")
}
