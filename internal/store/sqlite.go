package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricefeed/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local CLI runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	pipeline   TEXT NOT NULL,
	status     TEXT NOT NULL,
	summary    TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	name        TEXT NOT NULL,
	price       REAL NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_pipeline_created ON runs(pipeline, created_at);
CREATE INDEX IF NOT EXISTS idx_products_storage_key ON products(storage_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordRun(ctx context.Context, summary model.RunSummary, runErr error) (*model.Run, error) {
	run := newRun(summary, runErr)

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, summary, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, string(run.Status), string(summaryJSON), run.Error, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, pipeline, status, summary, error, created_at FROM runs`
	var where []string
	var args []any
	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limitOf(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r           model.Run
			status      string
			summaryJSON string
		)
		if err := rows.Scan(&r.ID, &r.Pipeline, &status, &summaryJSON, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal summary for run %s", r.ID)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) InsertProducts(ctx context.Context, pipeline, storageKey string, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (id, pipeline, storage_key, name, price, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert product")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range products {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), pipeline, storageKey, p.Name, p.Price, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert product %q", p.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit products")
	}
	return int64(len(products)), nil
}

// CountProducts returns how many products are stored under a storage key.
func (s *SQLiteStore) CountProducts(ctx context.Context, storageKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE storage_key = ?`, storageKey).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count products")
	}
	return n, nil
}
