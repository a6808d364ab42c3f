//go:build unix

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeScript stores a shell script which tests run through "sh <path>".
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.Nil(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o644))
	return path
}

// processAlive treats zombies as dead: orphans may wait for a reaper which
// is absent in minimal containers.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if errors.Is(err, syscall.ESRCH) {
		return false
	}
	stat, readErr := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if readErr != nil {
		return err == nil
	}
	content := string(stat)
	fields := strings.Fields(content[strings.LastIndex(content, ")")+1:])
	return len(fields) > 0 && fields[0] != "Z"
}

func eventuallyDead(t *testing.T, pid int) {
	t.Helper()
	require.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.Nil(t, err)
	return strings.Count(string(data), "\n")
}
