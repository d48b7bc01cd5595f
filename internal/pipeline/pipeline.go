// Package pipeline composes discovery, download and flattening into named
// retailer pipelines and runs them against object storage.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/discovery"
	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/parser"
)

// Downloader fetches and decodes a batch of links, skipping failures.
type Downloader interface {
	FetchAll(ctx context.Context, links []model.Link) ([]string, model.BatchSummary)
}

// Pipeline is one retailer's LinkSource → Downloader → Flattener chain.
type Pipeline struct {
	name       string
	source     discovery.LinkSource
	downloader Downloader
	flattener  parser.Flattener
}

// New creates a Pipeline from its collaborators.
func New(name string, source discovery.LinkSource, downloader Downloader, flattener parser.Flattener) *Pipeline {
	return &Pipeline{
		name:       name,
		source:     source,
		downloader: downloader,
		flattener:  flattener,
	}
}

// Name returns the pipeline's registry name.
func (p *Pipeline) Name() string {
	return p.name
}

// Run discovers, downloads and flattens every fresh document. Records are
// returned in document arrival order, then item order. Per-link and
// per-document failures never fail the run; an empty result is valid. The
// error is non-nil only when ctx is done.
func (p *Pipeline) Run(ctx context.Context, w discovery.Window) ([]model.Record, model.RunSummary, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("pipeline", p.name))
	summary := model.RunSummary{Pipeline: p.name, StartedAt: time.Now().UTC()}

	links, err := p.source.Fetch(ctx, w)
	summary.Links = len(links)
	if err != nil {
		summary.Elapsed = time.Since(summary.StartedAt)
		return nil, summary, err
	}
	log.Info("discovered links", zap.Int("links", len(links)))

	texts, downloads := p.downloader.FetchAll(ctx, links)
	summary.Downloads = downloads
	summary.Documents = len(texts)

	records := []model.Record{}
	for i, text := range texts {
		recs := p.flattener.Parse(text)
		if len(recs) == 0 {
			log.Debug("document yielded no records", zap.Int("document", i))
		}
		records = append(records, recs...)
	}
	summary.Records = len(records)
	summary.Elapsed = time.Since(summary.StartedAt)

	log.Info("pipeline run complete",
		zap.Int("links", summary.Links),
		zap.Int("downloaded", downloads.Succeeded),
		zap.Int("skipped", downloads.Skipped),
		zap.Int("records", summary.Records),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return records, summary, ctx.Err()
}
