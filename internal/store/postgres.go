package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/db"
	"github.com/sells-group/pricefeed/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	pipeline   TEXT NOT NULL,
	status     TEXT NOT NULL,
	summary    JSONB NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	name        TEXT NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_pipeline_created ON runs(pipeline, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_products_storage_key ON products(storage_key);
`

var productColumns = []string{"id", "pipeline", "storage_key", "name", "price", "created_at"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, summary model.RunSummary, runErr error) (*model.Run, error) {
	run := newRun(summary, runErr)

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, pipeline, status, summary, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Pipeline, string(run.Status), summaryJSON, run.Error, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, pipeline, status, summary, error, created_at FROM runs`
	var where []string
	var args []any
	if filter.Pipeline != "" {
		args = append(args, filter.Pipeline)
		where = append(where, fmt.Sprintf("pipeline = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOf(filter))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r           model.Run
			status      string
			summaryJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Pipeline, &status, &summaryJSON, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal summary for run %s", r.ID)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) InsertProducts(ctx context.Context, pipeline, storageKey string, products []model.Product) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		rows = append(rows, []any{uuid.New().String(), pipeline, storageKey, p.Name, p.Price, now})
	}
	n, err := db.CopyFrom(ctx, s.pool, "products", productColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert products")
	}
	return n, nil
}
