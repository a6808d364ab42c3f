package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// RunOutcome is the structured result of one subprocess execution.
type RunOutcome struct {
	Elapsed  time.Duration
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Canceled bool
	Pid      int
}

// Runner executes a command and blocks until it exits or the timeout fires.
type Runner interface {
	Run(ctx context.Context, command Command, timeout time.Duration) (RunOutcome, error)
}

// ProcessRunner is the Runner backed by os/exec. The whole process group is
// killed on timeout so that children spawned by wrapper scripts die too.
type ProcessRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the process is gone.
	WaitDelay time.Duration
}

func (r *ProcessRunner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return time.Second
}

// Run never reports a non-zero exit as an error: the exit code is returned in
// the outcome. The error is set only when the process could not be started or
// the parent context was canceled.
func (r *ProcessRunner) Run(ctx context.Context, command Command, timeout time.Duration) (RunOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command.Path, command.Args...)
	cmd.Dir = command.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay()
	configureProcessGroup(cmd)

	Logger.Debugf("running cmd %v (timeout %v)", command, timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunOutcome{ExitCode: -1}, fmt.Errorf("failed to start %v: %w", command.Path, err)
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	outcome := RunOutcome{
		Elapsed:  elapsed,
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Pid:      cmd.Process.Pid,
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr == nil || (errors.Is(waitErr, exec.ErrWaitDelay) && outcome.ExitCode == 0) {
		outcome.ExitCode = 0
		return outcome, nil
	}

	if ctx.Err() != nil {
		outcome.Canceled = true
		return outcome, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		outcome.TimedOut = true
		outcome.Elapsed = timeout
		Logger.Warnf("cmd %v timed out after %v", command, timeout)
		return outcome, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return outcome, fmt.Errorf("failed to wait %v: %w", command.Path, waitErr)
	}
	Logger.Debugf("cmd %v exited with code %v", command, outcome.ExitCode)
	return outcome, nil
}
