// Package journal persists a run history to SQLite: one row per run, per
// downloaded asset, and per parity comparison. The JSON artifacts remain
// the primary output; the journal exists so successive clone runs can be
// compared after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Sabadzma/portfolio-local/localize"
	"github.com/Sabadzma/portfolio-local/parity"
)

// Schema for the journal tables. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_url TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	routes INTEGER,
	assets INTEGER
);
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	url TEXT NOT NULL,
	local_path TEXT NOT NULL,
	category TEXT NOT NULL,
	size INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_run ON downloads(run_id);
CREATE TABLE IF NOT EXISTS parity_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	route TEXT NOT NULL,
	viewport TEXT NOT NULL,
	similarity REAL,
	captured INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_parity_run ON parity_results(run_id);
`

// Journal records run history. Safe for concurrent use; SQLite allows a
// single writer, so all writes serialize on one mutex.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path. The
// caller must have registered the "sqlite" driver.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// BeginRun inserts a run row and returns its id.
func (j *Journal) BeginRun(sourceURL string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.Exec(
		`INSERT INTO runs (source_url, started_at) VALUES (?, ?)`,
		sourceURL, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("journal: begin run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the run row with its end time and totals.
func (j *Journal) FinishRun(runID int64, routes, assets int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`UPDATE runs SET finished_at = ?, routes = ?, assets = ? WHERE id = ?`,
		time.Now().Unix(), routes, assets, runID)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// RecordDownloads inserts one row per download record.
func (j *Journal) RecordDownloads(runID int64, inv localize.Inventory) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().Unix()
	for cat, recs := range inv {
		for _, rec := range recs {
			_, err := j.db.Exec(
				`INSERT INTO downloads (run_id, url, local_path, category, size, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				runID, rec.URL, rec.LocalPath, string(cat), rec.Size, now)
			if err != nil {
				return fmt.Errorf("journal: record download %s: %w", rec.URL, err)
			}
		}
	}
	return nil
}

// RecordParity inserts one row per comparison result. A nil similarity
// stays NULL: a missing capture is not a zero score.
func (j *Journal) RecordParity(runID int64, results []parity.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().Unix()
	for _, res := range results {
		var sim any
		if res.Similarity != nil {
			sim = *res.Similarity
		}
		_, err := j.db.Exec(
			`INSERT INTO parity_results (run_id, route, viewport, similarity, captured, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, res.Route, res.Viewport, sim, res.Captured, now)
		if err != nil {
			return fmt.Errorf("journal: record parity %s/%s: %w", res.Route, res.Viewport, err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
