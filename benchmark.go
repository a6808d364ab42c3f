package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// Benchmark measures one implementation run: optional warmups, optional OS
// cache drop and then a single timed execution.
type Benchmark struct {
	Runner      Runner
	Warmup      int
	ClearCaches bool
	Timeout     time.Duration
}

func clearCaches() error {
	switch runtime.GOOS {
	case "linux":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("sh", "-c", "echo 3 | sudo tee /proc/sys/vm/drop_caches").Run(); err != nil {
			return err
		}
		return nil
	case "darwin":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("purge").Run(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("unable to clear caches for platform '%v'", runtime.GOOS)
}

func (b *Benchmark) clearCachesIfNeeded() {
	if !b.ClearCaches {
		return
	}
	Logger.Info("clear caches")
	if err := clearCaches(); err != nil {
		Logger.Warnf("failed to clear fs caches: %v", err)
	}
}

// Measure returns the outcome of the timed run, or the outcome of the first
// unsuccessful warmup.
func (b *Benchmark) Measure(ctx context.Context, command Command) (RunOutcome, error) {
	for i := 0; i < b.Warmup; i++ {
		Logger.Infof("running warmup #%v/%v cmd %v", i+1, b.Warmup, command)
		outcome, err := b.Runner.Run(ctx, command, b.Timeout)
		if err != nil || outcome.TimedOut || outcome.ExitCode != 0 {
			return outcome, err
		}
	}

	b.clearCachesIfNeeded()

	Logger.Infof("running workload cmd %v", command)
	return b.Runner.Run(ctx, command, b.Timeout)
}
