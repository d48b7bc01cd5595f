package model

import "time"

// RunStatus represents the final state of a pipeline run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ItemStatus is the outcome of a single download.
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemSkipped ItemStatus = "skipped"
)

// ItemOutcome records what happened to one link during download.
type ItemOutcome struct {
	URL    string     `json:"url"`
	Status ItemStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BatchSummary aggregates per-item outcomes for a download batch.
type BatchSummary struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Outcomes  []ItemOutcome `json:"outcomes,omitempty"`
}

// Add appends an outcome and updates the counters.
func (b *BatchSummary) Add(o ItemOutcome) {
	b.Attempted++
	if o.Status == ItemOK {
		b.Succeeded++
	} else {
		b.Skipped++
	}
	b.Outcomes = append(b.Outcomes, o)
}

// RunSummary describes a single pipeline run end to end.
type RunSummary struct {
	Pipeline  string        `json:"pipeline"`
	Links     int           `json:"links"`
	Downloads BatchSummary  `json:"downloads"`
	Documents int           `json:"documents"`
	Records   int           `json:"records"`
	Groups    int           `json:"groups"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Run is a persisted run log entry.
type Run struct {
	ID        string     `json:"id"`
	Pipeline  string     `json:"pipeline"`
	Status    RunStatus  `json:"status"`
	Summary   RunSummary `json:"summary"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
