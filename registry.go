package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Registry is the ordered list of implementations under benchmark together
// with their per-run preparation state.
type Registry struct {
	implementations []Implementation
	buildDir        string
	runner          Runner
	setupTimeout    time.Duration
	prepared        map[string]error
}

func NewRegistry(implementations []Implementation, buildDir string, runner Runner, setupTimeout time.Duration) *Registry {
	return &Registry{
		implementations: implementations,
		buildDir:        buildDir,
		runner:          runner,
		setupTimeout:    setupTimeout,
		prepared:        make(map[string]error),
	}
}

func (r *Registry) Implementations() []Implementation { return r.implementations }

// Dir is the checkout (or scratch) directory of the implementation.
func (r *Registry) Dir(implementation Implementation) string {
	return filepath.Join(r.buildDir, implementation.Name)
}

// Command builds the invocation of the implementation against the artifact.
func (r *Registry) Command(implementation Implementation, program Program) Command {
	placeholders := Placeholders{
		"artifact": program.Artifact,
		"program":  program.Name,
		"dir":      r.Dir(implementation),
	}
	return Command{
		Path: placeholders.Expand(implementation.Command),
		Args: placeholders.ExpandAll(implementation.Args),
	}
}

// Prepared reports whether Prepare was already attempted for the implementation.
func (r *Registry) Prepared(implementation Implementation) bool {
	_, ok := r.prepared[implementation.Name]
	return ok
}

// Prepare clones and builds the implementation at most once per registry.
// Later calls return the cached outcome of the first one.
func (r *Registry) Prepare(ctx context.Context, implementation Implementation) error {
	if err, ok := r.prepared[implementation.Name]; ok {
		return err
	}
	err := r.prepare(ctx, implementation)
	r.prepared[implementation.Name] = err
	if err != nil {
		Logger.Errorf("failed to prepare implementation %v: %v", implementation.Name, err)
	}
	return err
}

func (r *Registry) prepare(ctx context.Context, implementation Implementation) error {
	if !implementation.NeedsPrepare() {
		return nil
	}
	dir := r.Dir(implementation)
	if implementation.Repo != "" {
		if err := CloneRepo(ctx, implementation.Repo, implementation.Revision, dir); err != nil {
			return &SetupError{Implementation: implementation.Name, Stage: "clone", Err: err}
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return &SetupError{Implementation: implementation.Name, Stage: "create dir for", Err: err}
	}
	if len(implementation.Setup) == 0 {
		return nil
	}

	placeholders := Placeholders{"dir": dir}
	setup := placeholders.ExpandAll(implementation.Setup)
	command := Command{Path: setup[0], Args: setup[1:]}
	// Without a repository the setup builds the working tree itself.
	if implementation.Repo != "" {
		command.Dir = dir
	}
	Logger.Infof("build %v: %v", implementation.Name, command)
	outcome, err := r.runner.Run(ctx, command, r.setupTimeout)
	if err != nil {
		return &SetupError{Implementation: implementation.Name, Stage: "build", Err: err}
	}
	Logger.Debugf("build %v output: %v%v", implementation.Name, outcome.Stdout, outcome.Stderr)
	if outcome.TimedOut {
		return &SetupError{Implementation: implementation.Name, Stage: "build", Err: ErrTimeout}
	}
	if outcome.ExitCode != 0 {
		err := fmt.Errorf("exit code %v", outcome.ExitCode)
		if line := firstLine(outcome.Stderr); line != "" {
			err = fmt.Errorf("exit code %v: %v", outcome.ExitCode, line)
		}
		return &SetupError{Implementation: implementation.Name, Stage: "build", Err: err}
	}
	Logger.Infof("built %v in %v", implementation.Name, outcome.Elapsed)
	return nil
}

// CloneRepo clones repo into target and checks out revision (branch, tag or
// commit). An empty revision means a shallow clone of the default branch.
func CloneRepo(ctx context.Context, repo, revision, target string) error {
	Logger.Infof("clone repo %v:%v to %v", repo, revision, target)
	_, err := os.Stat(target)
	if err == nil {
		Logger.Infof("directory %v already exists", target)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	options := &git.CloneOptions{URL: repo}
	if revision == "" {
		options.Depth = 1
	}
	repository, err := git.PlainCloneContext(ctx, target, false, options)
	if err != nil {
		os.RemoveAll(target)
		return err
	}
	if revision == "" {
		return nil
	}

	if err := checkoutRevision(repository, revision); err != nil {
		os.RemoveAll(target)
		return err
	}
	return nil
}

func checkoutRevision(repository *git.Repository, revision string) error {
	hash, err := repository.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		hash, err = repository.ResolveRevision(plumbing.Revision("origin/" + revision))
	}
	if err != nil {
		return fmt.Errorf("unknown revision %v: %w", revision, err)
	}
	worktree, err := repository.Worktree()
	if err != nil {
		return err
	}
	return worktree.Checkout(&git.CheckoutOptions{Hash: *hash})
}
