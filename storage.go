package main

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Storage keeps benchmark results in a SQL database: a remote libsql
// database for libsql/http(s)/ws(s) URLs or a local sqlite file otherwise.
type Storage struct {
	db *sql.DB
}

func storageDriver(url string) string {
	for _, scheme := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(url, scheme) {
			return "libsql"
		}
	}
	return "sqlite"
}

func OpenStorage(ctx context.Context, url string) (*Storage, error) {
	db, err := sql.Open(storageDriver(url), url)
	if err != nil {
		return nil, err
	}
	storage := &Storage{db: db}
	if err := storage.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS parameters (
		run TEXT,
		name TEXT,
		value,
		PRIMARY KEY (run, name)
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS measurements (
		run TEXT,
		position INTEGER,
		program TEXT,
		implementation TEXT,
		status TEXT,
		exit_code INTEGER,
		value REAL,
		reason TEXT,
		PRIMARY KEY (run, program, implementation)
	)`)
	if err != nil {
		return err
	}
	Logger.Debugf("initialized results database")
	return nil
}

// SaveReport stores run parameters and one measurement per report entry in a
// single transaction.
func (s *Storage) SaveReport(ctx context.Context, run string, parameters map[string]any, report Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	params := maps.Clone(parameters)
	if params == nil {
		params = make(map[string]any)
	}
	params["time"] = time.Now().Format("2006-01-02 15:04:05")
	for _, key := range slices.Sorted(maps.Keys(params)) {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO parameters VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
			run, key, fmt.Sprintf("%v", params[key]),
		)
		if err != nil {
			return err
		}
	}
	for i, entry := range report.Entries {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO measurements VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			run,
			i,
			entry.Program,
			entry.Implementation,
			string(entry.Status),
			entry.ExitCode,
			entry.Elapsed.Seconds(),
			entry.Reason,
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	Logger.Infof("stored %v measurements of run %v", len(report.Entries), run)
	return nil
}

// Measurements loads the entries of a stored run in execution order.
func (s *Storage) Measurements(ctx context.Context, run string) ([]RunResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT program, implementation, status, exit_code, value, reason FROM measurements WHERE run = ? ORDER BY position",
		run,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make([]RunResult, 0)
	for rows.Next() {
		var result RunResult
		var status string
		var seconds float64
		err = rows.Scan(&result.Program, &result.Implementation, &status, &result.ExitCode, &seconds, &result.Reason)
		if err != nil {
			return nil, err
		}
		result.Status = Status(status)
		result.Elapsed = time.Duration(seconds * float64(time.Second))
		results = append(results, result)
	}
	return results, rows.Err()
}

func (s *Storage) Parameters(ctx context.Context, run string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM parameters WHERE run = ?", run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		results[name] = value
	}
	return results, rows.Err()
}

// Runs lists stored run identifiers.
func (s *Storage) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT run FROM parameters ORDER BY run")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := make([]string, 0)
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
