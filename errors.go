package main

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactMissing = errors.New("artifact is missing or empty")
	ErrTimeout         = errors.New("process timed out")
)

type CompileError struct {
	Program  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to compile %v (exit %v): %v", e.Program, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("failed to compile %v (exit %v): %v", e.Program, e.ExitCode, firstLine(e.Stderr))
}

func (e *CompileError) Unwrap() error { return e.Err }

// Reason is the short description shown in the report.
func (e *CompileError) Reason() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return firstLine(e.Stderr)
}

type SetupError struct {
	Implementation string
	Stage          string
	Err            error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to %v %v: %v", e.Stage, e.Implementation, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// EnvironmentError is the only error which aborts a whole run.
type EnvironmentError struct {
	Op   string
	Path string
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%v %v: %v", e.Op, e.Path, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }
