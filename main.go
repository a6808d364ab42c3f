package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	envFile    string
	logLevel   string
	timeout    time.Duration
	report     string
	workDir    string
	chart      string
	resultsDB  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		Logger.Errorf("%v", err)
		Logger.Sync()
		os.Exit(1)
	}
	Logger.Sync()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vm-benchmark",
		Short:         "Compare bytecode VM implementations on the same compiled programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadDotEnv(opts.envFile); err != nil {
				return fmt.Errorf("failed to load %v: %w", opts.envFile, err)
			}
			if opts.logLevel != "" {
				return SetLogLevel(opts.logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "benchmark config (.toml, .yaml); defaults to $BENCH_CONFIG or bench.toml")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides $LOG_LEVEL")

	run := &cobra.Command{
		Use:   "run",
		Short: "Compile every program and time every implementation against it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := config.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			orchestrator := NewOrchestrator(config, &ProcessRunner{}, cmd.OutOrStdout())
			_, err = orchestrator.RunAll(cmd.Context())
			return err
		},
	}
	run.Flags().DurationVar(&opts.timeout, "timeout", 0, "timeout of a single implementation run")
	run.Flags().StringVar(&opts.report, "report", "", "report destination")
	run.Flags().StringVar(&opts.workDir, "work-dir", "", "directory for transient artifacts")
	run.Flags().StringVar(&opts.chart, "chart", "", "optional html chart destination")
	run.Flags().StringVar(&opts.resultsDB, "results-db", "", "optional results database (libsql url or sqlite file)")

	fixtures := &cobra.Command{
		Use:   "fixtures",
		Short: "Regenerate compiled test fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := config.ValidateFixtures(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			set := &FixtureSet{
				Compiler: &ArtifactCompiler{
					Command: config.Compiler.Command,
					Args:    config.Compiler.Args,
					Runner:  &ProcessRunner{},
					Timeout: config.CompileTimeout,
				},
				SourceDir:   config.Fixtures.SourceDir,
				OutputDir:   config.Fixtures.OutputDir,
				Pattern:     config.Fixtures.Pattern,
				Parallelism: config.Fixtures.Parallelism,
			}
			_, err = set.Regenerate(cmd.Context())
			return err
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print configured programs and implementations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "programs:")
			for _, program := range config.Programs {
				fmt.Fprintf(out, "  %v\t%v\n", program.Name, program.Source)
			}
			fmt.Fprintln(out, "implementations:")
			for _, implementation := range config.Implementations {
				fmt.Fprintf(out, "  %v\t%v\n", implementation.Name, Command{Path: implementation.Command, Args: implementation.Args})
			}
			return nil
		},
	}

	root.AddCommand(run, fixtures, list)
	return root
}

// load resolves the config: file, then BENCH_* environment, then flags.
func (o *options) load(cmd *cobra.Command) (Config, error) {
	path := o.configPath
	if path == "" {
		path = StringEnv("BENCH_CONFIG", "bench.toml")
	}
	config, err := LoadConfig(path)
	if err != nil {
		return config, err
	}
	config.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		config.Timeout = o.timeout
	}
	if flags.Changed("report") {
		config.Report = o.report
	}
	if flags.Changed("work-dir") {
		config.WorkDir = o.workDir
	}
	if flags.Changed("chart") {
		config.Chart = o.chart
	}
	if flags.Changed("results-db") {
		config.ResultsDB = o.resultsDB
	}
	Logger.Debugf("loaded config from %v: %+v", path, config)
	return config, nil
}
