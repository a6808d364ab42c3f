package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"
)

const Version = "v1"

// Orchestrator compiles every program once and runs all implementations
// against the artifact strictly one after another.
type Orchestrator struct {
	config    Config
	compiler  *ArtifactCompiler
	registry  *Registry
	benchmark *Benchmark
	reporter  *Reporter
}

func NewOrchestrator(config Config, runner Runner, console io.Writer) *Orchestrator {
	return &Orchestrator{
		config: config,
		compiler: &ArtifactCompiler{
			Command: config.Compiler.Command,
			Args:    config.Compiler.Args,
			Runner:  runner,
			Timeout: config.CompileTimeout,
		},
		registry: NewRegistry(config.Implementations, config.BuildsDir(), runner, config.SetupTimeout),
		benchmark: &Benchmark{
			Runner:      runner,
			Warmup:      config.Warmup,
			ClearCaches: config.ClearCaches,
			Timeout:     config.Timeout,
		},
		reporter: NewReporter(config.Timeout, console),
	}
}

// RunAll executes the whole benchmark and returns the flushed report. Only
// environment failures and cancellation are returned as errors; in both
// cases the report is still flushed and transient artifacts are removed.
func (o *Orchestrator) RunAll(ctx context.Context) (Report, error) {
	Logger.Infof("start benchmark %v", Version)
	info := HostStat()
	Logger.Infof("host stat: %+v", info)

	if err := o.prepareWorkDir(); err != nil {
		if cleanupErr := Cleanup(o.config.TransientPaths()); cleanupErr != nil {
			Logger.Errorf("best-effort cleanup failed: %v", cleanupErr)
		}
		return o.reporter.Report(), err
	}

	runErr := o.runPrograms(ctx)
	if runErr != nil {
		Logger.Errorf("benchmark stopped: %v", runErr)
	}
	flushErr := o.publish(info)
	cleanupErr := Cleanup(o.config.TransientPaths())
	if cleanupErr == nil {
		Logger.Infof("removed transient artifacts")
	}
	return o.reporter.Report(), errors.Join(runErr, flushErr, cleanupErr)
}

func (o *Orchestrator) prepareWorkDir() error {
	if err := Cleanup(o.config.TransientPaths()); err != nil {
		return err
	}
	for _, dir := range []string{o.config.ArtifactsDir(), o.config.BuildsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &EnvironmentError{Op: "create dir", Path: dir, Err: err}
		}
	}
	return nil
}

func (o *Orchestrator) runPrograms(ctx context.Context) error {
	for _, program := range o.config.Programs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runProgram(ctx, program); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runProgram(ctx context.Context, program Program) error {
	o.reporter.Begin(program.Name)
	program.Artifact = o.config.ArtifactPath(program)

	err := o.compiler.Compile(ctx, program.Name, program.Source, program.Artifact)
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		Logger.Errorf("%v", compileErr)
		o.reporter.Record(RunResult{
			Program:  program.Name,
			Status:   StatusCompileFailed,
			ExitCode: compileErr.ExitCode,
			Stderr:   compileErr.Stderr,
			Reason:   compileErr.Reason(),
		})
		return nil
	} else if err != nil {
		o.reporter.Record(RunResult{Program: program.Name, Status: StatusInterrupted, ExitCode: -1})
		return err
	}

	for _, implementation := range o.registry.Implementations() {
		result, err := o.runImplementation(ctx, program, implementation)
		if result != nil {
			o.reporter.Record(*result)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runImplementation returns nil result only for implementations whose setup
// failure was already recorded under an earlier program.
func (o *Orchestrator) runImplementation(ctx context.Context, program Program, implementation Implementation) (*RunResult, error) {
	result := &RunResult{Program: program.Name, Implementation: implementation.Name, ExitCode: -1}

	attempted := o.registry.Prepared(implementation)
	if err := o.registry.Prepare(ctx, implementation); err != nil {
		if ctx.Err() != nil {
			result.Status = StatusInterrupted
			return result, ctx.Err()
		}
		if attempted {
			Logger.Debugf("skip %v for %v: setup failed earlier", implementation.Name, program.Name)
			return nil, nil
		}
		result.Status = StatusSetupFailed
		result.Reason = setupReason(err)
		return result, nil
	}

	Logger.Infof("running program %v with implementation %v", program.Name, implementation.Name)
	outcome, err := o.benchmark.Measure(ctx, o.registry.Command(implementation, program))
	result.Elapsed = outcome.Elapsed
	result.ExitCode = outcome.ExitCode
	result.Stdout = outcome.Stdout
	result.Stderr = outcome.Stderr
	switch {
	case outcome.Canceled || ctx.Err() != nil:
		result.Status = StatusInterrupted
		return result, ctx.Err()
	case err != nil:
		result.Status = StatusFailed
		result.Reason = err.Error()
	case outcome.TimedOut:
		result.Status = StatusTimeout
	case outcome.ExitCode != 0:
		result.Status = StatusFailed
		result.Reason = firstLine(outcome.Stderr)
	default:
		result.Status = StatusOk
	}
	return result, nil
}

func setupReason(err error) string {
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return fmt.Sprintf("%v: %v", setupErr.Stage, setupErr.Err)
	}
	return err.Error()
}

// publish flushes the report and the optional chart and results database.
func (o *Orchestrator) publish(info SysInfo) error {
	if err := o.reporter.Flush(o.config.Report); err != nil {
		return err
	}
	report := o.reporter.Report()
	if o.config.Chart != "" {
		if err := RenderChart(report, o.config.Chart); err != nil {
			return err
		}
	}
	if o.config.ResultsDB == "" {
		return nil
	}

	// The run context may be canceled already; storing results must still happen.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	storage, err := OpenStorage(ctx, o.config.ResultsDB)
	if err != nil {
		return &EnvironmentError{Op: "open results db", Path: o.config.ResultsDB, Err: err}
	}
	defer storage.Close()

	run := fmt.Sprintf("benchmark-%v-%v-%v", Version, time.Now().Unix(), rand.Intn(1000))
	parameters := info.Parameters()
	parameters["timeout"] = o.config.Timeout
	parameters["warmup"] = o.config.Warmup
	if err := storage.SaveReport(ctx, run, parameters, report); err != nil {
		return &EnvironmentError{Op: "store results", Path: o.config.ResultsDB, Err: err}
	}
	return nil
}
