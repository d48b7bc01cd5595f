package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/pricefeed/internal/discovery"
	"github.com/sells-group/pricefeed/internal/model"
)

type stubSource struct {
	links  []model.Link
	err    error
	window discovery.Window
}

func (s *stubSource) Fetch(_ context.Context, w discovery.Window) ([]model.Link, error) {
	s.window = w
	return s.links, s.err
}

// stubDownloader returns one text per link URL found in texts; other links
// are skipped.
type stubDownloader struct {
	texts map[string]string
}

func (d *stubDownloader) FetchAll(_ context.Context, links []model.Link) ([]string, model.BatchSummary) {
	var out []string
	var summary model.BatchSummary
	for _, l := range links {
		text, ok := d.texts[l.URL]
		if !ok {
			summary.Add(model.ItemOutcome{URL: l.URL, Status: model.ItemSkipped, Reason: "network"})
			continue
		}
		summary.Add(model.ItemOutcome{URL: l.URL, Status: model.ItemOK})
		out = append(out, text)
	}
	return out, summary
}

// stubFlattener maps document text to canned records.
type stubFlattener struct {
	docs map[string][]model.Record
}

func (f *stubFlattener) Parse(text string) []model.Record {
	return f.docs[text]
}

type uploadCall struct {
	pipeline     string
	key          string
	records      int
	createBucket bool
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []uploadCall
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, pipeline string, records []model.Record, key string, createBucket bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.calls = append(u.calls, uploadCall{pipeline: pipeline, key: key, records: len(records), createBucket: createBucket})
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []model.Run
}

func (r *fakeRecorder) RecordRun(_ context.Context, summary model.RunSummary, runErr error) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := model.Run{ID: summary.Pipeline + "-run", Pipeline: summary.Pipeline, Status: model.RunStatusComplete, Summary: summary}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}
	r.runs = append(r.runs, run)
	return &run, nil
}

func keyed(sub, store, bikoret, code string) model.Record {
	return model.Record{
		model.FieldSubChainID: sub,
		model.FieldStoreID:    store,
		model.FieldBikoretNo:  bikoret,
		"ItemCode":            code,
	}
}
