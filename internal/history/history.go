// Package history keeps a SQLite log of run summaries so consecutive scans
// of an account can be compared.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL UNIQUE,
	account_id     TEXT NOT NULL,
	generated_at   TEXT NOT NULL,
	services       INTEGER NOT NULL,
	total_findings INTEGER NOT NULL,
	high_count     INTEGER NOT NULL,
	medium_count   INTEGER NOT NULL,
	low_count      INTEGER NOT NULL,
	info_count     INTEGER NOT NULL,
	suppressed     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_account ON runs(account_id, id);
CREATE TABLE IF NOT EXISTS run_categories (
	run     INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	total    INTEGER NOT NULL,
	PRIMARY KEY (run, category)
);
`

// Run is the stored summary of one report run.
type Run struct {
	ID          int64
	RunID       string
	AccountID   string
	GeneratedAt string
	Dashboard   aggregate.DashboardStats
	Suppressed  int
	Categories  map[finding.Category]int
}

// RunFromDocument summarizes a finalized document.
func RunFromDocument(doc *finding.Document, p aggregate.Policy) Run {
	run := Run{
		RunID:       doc.Metadata.RunID,
		AccountID:   doc.Metadata.AccountID,
		GeneratedAt: doc.Metadata.GeneratedAt,
		Dashboard:   aggregate.Dashboard(doc, p),
		Suppressed:  len(aggregate.SuppressedFindings(doc, p)),
		Categories:  make(map[finding.Category]int),
	}
	for _, c := range aggregate.Categories(doc, p) {
		run.Categories[c.Category] = c.Total
	}
	return run
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path. A leading ~/ is
// expanded to the home directory.
func Open(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize history db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("history db path is empty")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	return filepath.Clean(p), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores run and returns its row id. Saving the same run id twice is
// an error.
func (s *Store) Save(ctx context.Context, run Run) (id int64, err error) {
	if run.AccountID == "" {
		return 0, errors.New("account id is required")
	}
	if run.RunID == "" {
		return 0, errors.New("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	d := run.Dashboard
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, account_id, generated_at, services, total_findings,
			high_count, medium_count, low_count, info_count, suppressed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.AccountID, run.GeneratedAt, d.TotalServices, d.TotalFindings,
		d.HighPriority, d.MediumPriority, d.LowPriority, d.InformationalPriority, run.Suppressed)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	for c, total := range run.Categories {
		if _, err = tx.ExecContext(ctx, `INSERT INTO run_categories (run, category, total) VALUES (?, ?, ?)`, id, string(c), total); err != nil {
			return 0, fmt.Errorf("insert run category: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history tx: %w", err)
	}
	return id, nil
}

// Recent returns up to limit runs of accountID, newest first.
func (s *Store) Recent(ctx context.Context, accountID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, account_id, generated_at, services, total_findings,
			high_count, medium_count, low_count, info_count, suppressed
		FROM runs
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		d := &r.Dashboard
		if err := rows.Scan(&r.ID, &r.RunID, &r.AccountID, &r.GeneratedAt, &d.TotalServices, &d.TotalFindings,
			&d.HighPriority, &d.MediumPriority, &d.LowPriority, &d.InformationalPriority, &r.Suppressed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].Categories, err = s.categories(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) categories(ctx context.Context, id int64) (map[finding.Category]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, total FROM run_categories WHERE run = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query run categories: %w", err)
	}
	defer rows.Close()
	out := make(map[finding.Category]int)
	for rows.Next() {
		var c string
		var total int
		if err := rows.Scan(&c, &total); err != nil {
			return nil, err
		}
		out[finding.Category(c)] = total
	}
	return out, rows.Err()
}

// Delta is the change in active findings between two runs.
type Delta struct {
	Total  int
	High   int
	Medium int
	Low    int
	Info   int
}

// Compare returns cur minus prev.
func Compare(prev, cur Run) Delta {
	return Delta{
		Total:  cur.Dashboard.TotalFindings - prev.Dashboard.TotalFindings,
		High:   cur.Dashboard.HighPriority - prev.Dashboard.HighPriority,
		Medium: cur.Dashboard.MediumPriority - prev.Dashboard.MediumPriority,
		Low:    cur.Dashboard.LowPriority - prev.Dashboard.LowPriority,
		Info:   cur.Dashboard.InformationalPriority - prev.Dashboard.InformationalPriority,
	}
}
