// Package resultdb archives pipeline runs and their regional results in a
// SQLite database so successive runs can be compared without re-reading the
// CSV artifacts. The schema is managed by embedded golang-migrate
// migrations.
package resultdb

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/measo-data/biomass.report/internal/regions"
)

// DB wraps the run-archive database connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the archive database and brings its
// schema up to date.
func Open(path string) (*DB, error) {
	db, err := OpenRaw(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenRaw opens the archive database without touching the schema. The
// migrate subcommands use it to manage the schema explicitly.
func OpenRaw(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{sqlDB}, nil
}

// Run records one pipeline invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	InputRoot  string
	OutputRoot string
	Models     int
	Skipped    int
	Cells      int
}

// RecordRun inserts a run row, generating a UUID if the run has no ID yet.
func (db *DB) RecordRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	_, err := db.Exec(`
		INSERT INTO runs (
			run_id, started_at, finished_at, input_root, output_root,
			models, skipped, cells
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.InputRoot,
		run.OutputRoot,
		run.Models,
		run.Skipped,
		run.Cells,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// nullable converts a possibly-NaN statistic into a NULL-able SQL value so
// missing stays missing in the archive.
func nullable(v float64, ok bool) sql.NullFloat64 {
	if !ok || math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// RecordRegionalResults inserts the final joined rows for one scheme under
// a run, one database row per (cell, scenario).
func (db *DB) RecordRegionalResults(runID string, scheme regions.Scheme, rows []regions.Row, scenarios []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO regional_results (
			run_id, scheme, region, lon, lat, scenario, mean_perc_change, sd_perc_change
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		for _, s := range scenarios {
			mean, meanOK := row.Mean[s]
			sd, sdOK := row.SD[s]
			_, err := stmt.Exec(
				runID,
				string(scheme),
				row.Region,
				row.Cell.Lon,
				row.Cell.Lat,
				s,
				nullable(mean, meanOK),
				nullable(sd, sdOK),
			)
			if err != nil {
				return fmt.Errorf("failed to insert regional result: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit regional results: %w", err)
	}
	return nil
}

// RegionSummary is one region's archived statistic for one scenario.
type RegionSummary struct {
	Region string
	Cells  int
	Mean   sql.NullFloat64
	SD     sql.NullFloat64
}

// RegionSummaries returns, for one run/scheme/scenario, each region's cell
// count, the mean over its per-cell ensemble means, and its archived
// within-region SD.
func (db *DB) RegionSummaries(runID string, scheme regions.Scheme, scenario string) ([]RegionSummary, error) {
	rows, err := db.Query(`
		SELECT region, COUNT(*), AVG(mean_perc_change), MAX(sd_perc_change)
		FROM regional_results
		WHERE run_id = ? AND scheme = ? AND scenario = ?
		GROUP BY region
		ORDER BY region
	`, runID, string(scheme), scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to query region summaries: %w", err)
	}
	defer rows.Close()

	var out []RegionSummary
	for rows.Next() {
		var s RegionSummary
		if err := rows.Scan(&s.Region, &s.Cells, &s.Mean, &s.SD); err != nil {
			return nil, fmt.Errorf("failed to scan region summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRuns returns archived runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.Query(`
		SELECT run_id, started_at, finished_at, input_root, output_root, models, skipped, cells
		FROM runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var started, finished string
		if err := rows.Scan(&run.ID, &started, &finished, &run.InputRoot, &run.OutputRoot, &run.Models, &run.Skipped, &run.Cells); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if run.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
