package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStorageDriver(t *testing.T) {
	require.Equal(t, "libsql", storageDriver("libsql://bench-sivukhin.turso.io?authToken=x"))
	require.Equal(t, "libsql", storageDriver("https://bench-sivukhin.turso.io"))
	require.Equal(t, "sqlite", storageDriver("results.db"))
	require.Equal(t, "sqlite", storageDriver("file:results.db"))
}

func TestStorageSaveReport(t *testing.T) {
	ctx := context.Background()
	storage, err := OpenStorage(ctx, filepath.Join(t.TempDir(), "results.db"))
	require.Nil(t, err)
	defer storage.Close()

	report := Report{
		Programs: []string{"fib", "broken"},
		Entries: []RunResult{
			{Program: "fib", Implementation: "cairo-rs", Status: StatusOk, Elapsed: 1500 * time.Millisecond},
			{Program: "fib", Implementation: "cairo-lang", Status: StatusTimeout, Elapsed: time.Minute, ExitCode: -1},
			{Program: "broken", Status: StatusCompileFailed, ExitCode: 1, Reason: "syntax error"},
		},
	}
	require.Nil(t, storage.SaveReport(ctx, "run-1", map[string]any{"arch": "amd64", "cpu": 8}, report))

	runs, err := storage.Runs(ctx)
	require.Nil(t, err)
	require.Equal(t, []string{"run-1"}, runs)

	measurements, err := storage.Measurements(ctx, "run-1")
	require.Nil(t, err)
	require.Equal(t, report.Entries, measurements)

	parameters, err := storage.Parameters(ctx, "run-1")
	require.Nil(t, err)
	require.Equal(t, "amd64", parameters["arch"])
	require.Equal(t, "8", parameters["cpu"])
	require.NotEmpty(t, parameters["time"])
}
