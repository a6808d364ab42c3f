package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// FixtureSet regenerates compiled fixtures used by a VM test suite: every
// source matching Pattern in SourceDir is compiled into OutputDir/<stem>.json.
type FixtureSet struct {
	Compiler    *ArtifactCompiler
	SourceDir   string
	OutputDir   string
	Pattern     string
	Parallelism int
}

func (f *FixtureSet) Sources() ([]string, error) {
	sources, err := filepath.Glob(filepath.Join(f.SourceDir, f.Pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(sources)
	return sources, nil
}

func fixtureName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Regenerate compiles all fixtures. Every source is attempted; the first
// failure is returned together with the number of compiled fixtures.
func (f *FixtureSet) Regenerate(ctx context.Context) (int, error) {
	sources, err := f.Sources()
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, fmt.Errorf("no fixtures matching %v in %v", f.Pattern, f.SourceDir)
	}
	if err := os.MkdirAll(f.OutputDir, 0o755); err != nil {
		return 0, &EnvironmentError{Op: "create dir", Path: f.OutputDir, Err: err}
	}

	var compiled atomic.Int64
	var group errgroup.Group
	if f.Parallelism > 0 {
		group.SetLimit(f.Parallelism)
	}
	for _, source := range sources {
		group.Go(func() error {
			name := fixtureName(source)
			output := filepath.Join(f.OutputDir, name+".json")
			if err := f.Compiler.Compile(ctx, name, source, output); err != nil {
				Logger.Errorf("fixture %v: %v", name, err)
				return err
			}
			compiled.Add(1)
			return nil
		})
	}
	err = group.Wait()
	Logger.Infof("compiled %v/%v fixtures", compiled.Load(), len(sources))
	return int(compiled.Load()), err
}
