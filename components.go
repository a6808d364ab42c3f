package main

import (
	"fmt"
	"strings"
	"time"
)

// Program is a source file benchmarked by every implementation.
type Program struct {
	Name   string `toml:"name" yaml:"name"`
	Source string `toml:"source" yaml:"source"`

	// Artifact is set once the program compiled successfully.
	Artifact string `toml:"-" yaml:"-"`
}

// Implementation is one VM binary under benchmark.
type Implementation struct {
	Name    string   `toml:"name" yaml:"name"`
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`

	// Repo and Revision describe a repository cloned before the first run.
	Repo     string `toml:"repo" yaml:"repo"`
	Revision string `toml:"revision" yaml:"revision"`
	// Setup is executed once inside the checkout, or in the current
	// directory when Repo is empty.
	Setup []string `toml:"setup" yaml:"setup"`
}

func (i Implementation) NeedsPrepare() bool {
	return i.Repo != "" || len(i.Setup) > 0
}

// Command is a fully expanded subprocess invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Placeholders substitutes {key} occurrences in templates.
type Placeholders map[string]string

func (p Placeholders) Expand(template string) string {
	pairs := make([]string, 0, 2*len(p))
	for key, value := range p {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (p Placeholders) ExpandAll(templates []string) []string {
	expanded := make([]string, 0, len(templates))
	for _, template := range templates {
		expanded = append(expanded, p.Expand(template))
	}
	return expanded
}

type Status string

const (
	StatusOk            Status = "ok"
	StatusFailed        Status = "failed"
	StatusTimeout       Status = "timeout"
	StatusSetupFailed   Status = "setup_failed"
	StatusCompileFailed Status = "compile_failed"
	StatusInterrupted   Status = "interrupted"
)

// RunResult is a single report entry. Compile failures carry an empty
// Implementation.
type RunResult struct {
	Program        string
	Implementation string
	Status         Status
	Elapsed        time.Duration
	ExitCode       int
	Stdout         string
	Stderr         string
	Reason         string
}

func (r RunResult) Success() bool { return r.Status == StatusOk }

// Line renders the result the way it appears under its program header.
func (r RunResult) Line(timeout time.Duration) string {
	switch r.Status {
	case StatusOk:
		return fmt.Sprintf("%v: %v", r.Implementation, formatSeconds(r.Elapsed))
	case StatusFailed:
		if r.Reason != "" {
			return fmt.Sprintf("%v: failed (exit %v): %v", r.Implementation, r.ExitCode, r.Reason)
		}
		return fmt.Sprintf("%v: failed (exit %v)", r.Implementation, r.ExitCode)
	case StatusTimeout:
		return fmt.Sprintf("%v: timed out after %v", r.Implementation, timeout)
	case StatusSetupFailed:
		return fmt.Sprintf("%v: setup failed: %v", r.Implementation, r.Reason)
	case StatusCompileFailed:
		if r.Reason != "" {
			return fmt.Sprintf("%v: compile failed (exit %v): %v", r.Program, r.ExitCode, r.Reason)
		}
		return fmt.Sprintf("%v: compile failed (exit %v)", r.Program, r.ExitCode)
	case StatusInterrupted:
		if r.Implementation == "" {
			return fmt.Sprintf("%v: interrupted", r.Program)
		}
		return fmt.Sprintf("%v: interrupted", r.Implementation)
	}
	return fmt.Sprintf("%v: unknown status %v", r.Implementation, r.Status)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// firstLine returns the first non-empty line of a captured output.
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
