// Package store persists the run audit log and mapped products.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/config"
	"github.com/sells-group/pricefeed/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Pipeline string          `json:"pipeline,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// DefaultRunLimit caps ListRuns when the filter leaves Limit unset.
const DefaultRunLimit = 20

// Store defines the persistence interface for pricefeed.
type Store interface {
	// Runs
	RecordRun(ctx context.Context, summary model.RunSummary, runErr error) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Products
	InsertProducts(ctx context.Context, pipeline, storageKey string, products []model.Product) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// newRun builds the log entry for a finished pipeline run.
func newRun(summary model.RunSummary, runErr error) model.Run {
	run := model.Run{
		ID:        uuid.New().String(),
		Pipeline:  summary.Pipeline,
		Status:    model.RunStatusComplete,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}
	return run
}

func limitOf(f RunFilter) int {
	if f.Limit <= 0 {
		return DefaultRunLimit
	}
	return f.Limit
}
