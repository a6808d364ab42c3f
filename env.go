package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored and variables which are already set
// keep their values.
func LoadDotEnv(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	Logger.Debugf("load environment from %v", existing)
	return godotenv.Load(existing...)
}

func StringEnv(key string, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func IntEnv(key string, def int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		Logger.Warnf("invalid integer in %v=%v, fallback to %v", key, value, def)
		return def
	}
	return parsed
}

func DurationEnv(key string, def time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		Logger.Warnf("invalid duration in %v=%v, fallback to %v", key, value, def)
		return def
	}
	return parsed
}
