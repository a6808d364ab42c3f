package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ArtifactCompiler turns a source program into a bytecode artifact by
// invoking an external compiler.
type ArtifactCompiler struct {
	Command string
	// Args may reference {source}, {output} and {program}.
	Args    []string
	Runner  Runner
	Timeout time.Duration
}

func (c *ArtifactCompiler) command(program, source, output string) Command {
	placeholders := Placeholders{"source": source, "output": output, "program": program}
	return Command{Path: placeholders.Expand(c.Command), Args: placeholders.ExpandAll(c.Args)}
}

// Compile succeeds only when the compiler exits with zero status and leaves a
// non-empty file at output. Context cancellation is returned as is, every
// other failure as *CompileError.
func (c *ArtifactCompiler) Compile(ctx context.Context, program, source, output string) error {
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		return &CompileError{Program: program, ExitCode: -1, Err: fmt.Errorf("remove stale artifact: %w", err)}
	}

	command := c.command(program, source, output)
	Logger.Infof("compile %v: %v", program, command)
	outcome, err := c.Runner.Run(ctx, command, c.Timeout)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return &CompileError{Program: program, ExitCode: -1, Err: err}
	}
	if outcome.TimedOut {
		return &CompileError{Program: program, ExitCode: -1, Stderr: outcome.Stderr, Err: ErrTimeout}
	}
	if outcome.ExitCode != 0 {
		return &CompileError{Program: program, ExitCode: outcome.ExitCode, Stderr: outcome.Stderr}
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return &CompileError{Program: program, ExitCode: 0, Stderr: outcome.Stderr, Err: ErrArtifactMissing}
	}
	Logger.Infof("compiled %v to %v (%v bytes) in %v", program, output, info.Size(), outcome.Elapsed)
	return nil
}
