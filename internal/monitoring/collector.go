package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/store"
)

// RunSnapshot summarises the run log over a lookback window.
type RunSnapshot struct {
	Total    int     `json:"total" yaml:"total"`
	Complete int     `json:"complete" yaml:"complete"`
	Failed   int     `json:"failed" yaml:"failed"`
	FailRate float64 `json:"fail_rate" yaml:"fail_rate"`
	Links    int     `json:"links" yaml:"links"`
	Skipped  int     `json:"skipped" yaml:"skipped"`
	Records  int     `json:"records" yaml:"records"`
	Groups   int     `json:"groups" yaml:"groups"`

	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector builds RunSnapshots from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new run log collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// snapshotScanLimit bounds how many recent runs a snapshot reads.
const snapshotScanLimit = 1000

// Collect gathers a snapshot of runs created within the lookback window,
// optionally restricted to one pipeline.
func (c *Collector) Collect(ctx context.Context, pipeline string, lookbackHours int) (*RunSnapshot, error) {
	now := c.now().UTC()
	snap := &RunSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Pipeline: pipeline, Limit: snapshotScanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
		case model.RunStatusFailed:
			snap.Failed++
		}
		snap.Links += r.Summary.Links
		snap.Skipped += r.Summary.Downloads.Skipped
		snap.Records += r.Summary.Records
		snap.Groups += r.Summary.Groups
	}

	if snap.Total > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Total)
	}
	return snap, nil
}
