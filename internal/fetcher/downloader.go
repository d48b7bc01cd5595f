package fetcher

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/model"
)

// Skip reasons reported in model.ItemOutcome.
const (
	ReasonNetwork = "network"
	ReasonRead    = "read"
	ReasonEmpty   = "empty"
)

// Downloader turns links into decoded document text.
type Downloader struct {
	fetcher Fetcher
}

// NewDownloader creates a Downloader backed by the given fetcher.
func NewDownloader(f Fetcher) *Downloader {
	return &Downloader{fetcher: f}
}

// FetchOne downloads a single link, gunzips it when compressed, and decodes it to text.
func (d *Downloader) FetchOne(ctx context.Context, link model.Link) (string, error) {
	raw, err := d.fetcher.Get(ctx, link.URL)
	if err != nil {
		return "", err
	}
	body, err := Decompress(raw)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: decompress %s", link.URL)
	}
	return DecodeText(body), nil
}

// FetchAll downloads every link in order. A link that fails is skipped and
// recorded in the summary; it never aborts the batch. Surviving texts keep
// their relative order.
func (d *Downloader) FetchAll(ctx context.Context, links []model.Link) ([]string, model.BatchSummary) {
	log := zap.L().With(zap.String("component", "fetcher.downloader"))

	var summary model.BatchSummary
	texts := make([]string, 0, len(links))

	for _, link := range links {
		text, err := d.FetchOne(ctx, link)
		if err != nil {
			reason := ReasonRead
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				reason = ReasonNetwork
			}
			log.Warn("skipping link", zap.String("url", link.URL), zap.String("reason", reason), zap.Error(err))
			summary.Add(model.ItemOutcome{URL: link.URL, Status: model.ItemSkipped, Reason: reason})
			continue
		}
		if text == "" {
			log.Warn("skipping link", zap.String("url", link.URL), zap.String("reason", ReasonEmpty))
			summary.Add(model.ItemOutcome{URL: link.URL, Status: model.ItemSkipped, Reason: ReasonEmpty})
			continue
		}
		texts = append(texts, text)
		summary.Add(model.ItemOutcome{URL: link.URL, Status: model.ItemOK})
	}

	return texts, summary
}
