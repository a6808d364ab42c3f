package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report is the ordered list of results of one run. Programs keeps the
// header order, Entries the execution order.
type Report struct {
	Programs []string
	Entries  []RunResult
}

// ByProgram returns the entries recorded under the program header.
func (r Report) ByProgram(program string) []RunResult {
	entries := make([]RunResult, 0)
	for _, entry := range r.Entries {
		if entry.Program == program {
			entries = append(entries, entry)
		}
	}
	return entries
}

type Reporter struct {
	report  Report
	timeout time.Duration
	console io.Writer
	flushed bool
}

// NewReporter creates a reporter which echoes the flushed report to console
// (nil disables the echo).
func NewReporter(timeout time.Duration, console io.Writer) *Reporter {
	return &Reporter{timeout: timeout, console: console}
}

// Begin opens the section of a program even if nothing is recorded for it.
func (r *Reporter) Begin(program string) {
	for _, existing := range r.report.Programs {
		if existing == program {
			return
		}
	}
	r.report.Programs = append(r.report.Programs, program)
}

func (r *Reporter) Record(result RunResult) {
	r.Begin(result.Program)
	r.report.Entries = append(r.report.Entries, result)
	Logger.Infof("recorded %v", result.Line(r.timeout))
}

func (r *Reporter) Report() Report { return r.report }

func (r *Reporter) Render() string {
	var builder strings.Builder
	for _, program := range r.report.Programs {
		fmt.Fprintf(&builder, "* %v *\n", program)
		for _, entry := range r.report.ByProgram(program) {
			builder.WriteString(entry.Line(r.timeout))
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// Flush writes the rendered report to destination. It may be called only once.
func (r *Reporter) Flush(destination string) error {
	if r.flushed {
		return &EnvironmentError{Op: "flush report", Path: destination, Err: errors.New("report already flushed")}
	}
	r.flushed = true

	content := r.Render()
	if dir := filepath.Dir(destination); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &EnvironmentError{Op: "create report dir", Path: dir, Err: err}
		}
	}
	temporary := destination + ".tmp"
	if err := os.WriteFile(temporary, []byte(content), 0o644); err != nil {
		return &EnvironmentError{Op: "write report", Path: temporary, Err: err}
	}
	if err := os.Rename(temporary, destination); err != nil {
		os.Remove(temporary)
		return &EnvironmentError{Op: "write report", Path: destination, Err: err}
	}
	Logger.Infof("report written to %v", destination)

	if r.console != nil {
		if _, err := io.WriteString(r.console, content); err != nil {
			return &EnvironmentError{Op: "echo report", Path: destination, Err: err}
		}
	}
	return nil
}

// Cleanup removes every path recursively. Already absent paths are fine.
func Cleanup(paths []string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			continue
		}
		Logger.Infof("remove transient artifact %v", path)
		if err := os.RemoveAll(path); err != nil {
			return &EnvironmentError{Op: "cleanup", Path: path, Err: err}
		}
	}
	return nil
}
