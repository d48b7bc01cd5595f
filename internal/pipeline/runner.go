package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricefeed/internal/discovery"
	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/partition"
	"github.com/sells-group/pricefeed/internal/storage"
)

// DefaultTimeBack is the discovery window used when RunOptions leaves it unset.
const DefaultTimeBack = 2 * time.Hour

// RunRecorder persists finished runs. store.Store satisfies it.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary model.RunSummary, runErr error) (*model.Run, error)
}

// RunOptions configures a run.
type RunOptions struct {
	// TimeBack bounds discovery freshness. Nil selects DefaultTimeBack; zero
	// disables the cutoff.
	TimeBack *time.Duration
	// MaxLinks caps discovered links. Nil means uncapped.
	MaxLinks     *int
	CreateBucket bool
	// Workers bounds concurrent pipelines in RunAll.
	Workers int
}

// RunResult is the outcome of one pipeline run and upload.
type RunResult struct {
	Pipeline string           `json:"pipeline" yaml:"pipeline"`
	RunID    string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Summary  model.RunSummary `json:"summary" yaml:"summary"`
	Keys     []string         `json:"keys,omitempty" yaml:"keys,omitempty"`
	Err      error            `json:"-" yaml:"-"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Runner runs registered pipelines and uploads their record groups.
type Runner struct {
	reg      *Registry
	uploader storage.Uploader
	recorder RunRecorder
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewRunner creates a Runner. recorder and metrics may be nil.
func NewRunner(reg *Registry, uploader storage.Uploader, recorder RunRecorder, metrics *monitoring.Metrics) *Runner {
	return &Runner{
		reg:      reg,
		uploader: uploader,
		recorder: recorder,
		metrics:  metrics,
		now:      time.Now,
	}
}

// RunAndUpload runs one pipeline, partitions its records and uploads every
// group. An unknown name fails before anything runs. Any later failure is
// recorded in the run log and returned alongside the partial result.
func (r *Runner) RunAndUpload(ctx context.Context, name string, opts RunOptions) (RunResult, error) {
	p, err := r.reg.Get(name)
	if err != nil {
		return RunResult{Pipeline: name, Err: err, Error: err.Error()}, err
	}
	log := zap.L().With(zap.String("component", "runner"), zap.String("pipeline", name))

	start := time.Now()
	records, summary, err := p.Run(ctx, window(opts))
	result := RunResult{Pipeline: name}
	if err == nil {
		result.Keys, err = r.upload(ctx, name, records, opts.CreateBucket)
		summary.Groups = len(result.Keys)
	}
	summary.Elapsed = time.Since(start)
	result.Summary = summary

	if err != nil {
		log.Error("run failed", zap.Error(err))
		result.Err = err
		result.Error = err.Error()
	} else {
		log.Info("run uploaded", zap.Int("records", summary.Records), zap.Int("groups", summary.Groups))
	}

	if r.recorder != nil {
		run, recErr := r.recorder.RecordRun(context.WithoutCancel(ctx), summary, err)
		if recErr != nil {
			log.Error("failed to record run", zap.Error(recErr))
		} else {
			result.RunID = run.ID
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(summary, err)
	}
	return result, err
}

func (r *Runner) upload(ctx context.Context, name string, records []model.Record, createBucket bool) ([]string, error) {
	grouper := &partition.Grouper{Pipeline: name, Now: r.now}
	groups, err := grouper.Partition(records)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		if err := r.uploader.Upload(ctx, name, g.Records, g.StorageKey, createBucket); err != nil {
			return keys, eris.Wrapf(err, "runner: upload group %s", g.Key)
		}
		keys = append(keys, g.StorageKey)
	}
	return keys, nil
}

// RunAll runs every registered pipeline with at most opts.Workers in flight.
// A pipeline's failure is captured in its result and never cancels siblings.
// Results follow registration order.
func (r *Runner) RunAll(ctx context.Context, opts RunOptions) []RunResult {
	names := r.reg.Names()
	results := make([]RunResult, len(names))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	var mu sync.Mutex
	var failed int

	for i, name := range names {
		g.Go(func() error {
			res, err := r.RunAndUpload(ctx, name, opts)
			results[i] = res
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil // don't abort siblings on individual failure
		})
	}
	_ = g.Wait()

	zap.L().Info("all pipelines complete",
		zap.String("component", "runner"),
		zap.Int("pipelines", len(names)),
		zap.Int("failed", failed),
	)
	return results
}

func window(opts RunOptions) discovery.Window {
	w := discovery.Window{MaxLinks: opts.MaxLinks}
	tb := DefaultTimeBack
	if opts.TimeBack != nil {
		tb = *opts.TimeBack
	}
	if tb > 0 {
		w.TimeBack = &tb
	}
	return w
}
