package discovery

import (
	"bytes"
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/pricefeed/internal/fetcher"
	"github.com/sells-group/pricefeed/internal/model"
)

// DefaultDateLayout matches listing dates such as "03/01/2026 02:30:45 PM".
// Month, day and hour accept one or two digits.
const DefaultDateLayout = "1/2/2006 3:04:05 PM"

// WebGridOptions configures a WebGridSource.
type WebGridOptions struct {
	Name       string
	IndexURL   string
	PageParam  string
	RowClasses []string
	LinkMarker string
	DateLayout string
	Location   *time.Location
	Pagination PaginationPolicy
	Now        func() time.Time
}

// WebGridSource discovers links from an HTML grid listing served as
// GET <index>?page=<n>. Each matching row holds the file anchor in its first
// cell and the publish date in its second.
type WebGridSource struct {
	fetcher fetcher.Fetcher
	opts    WebGridOptions
}

// NewWebGridSource creates a WebGridSource, filling unset options with defaults.
func NewWebGridSource(f fetcher.Fetcher, opts WebGridOptions) *WebGridSource {
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}
	if len(opts.RowClasses) == 0 {
		opts.RowClasses = []string{"webgrid-row-style", "webgrid-alternating-row"}
	}
	if opts.LinkMarker == "" {
		opts.LinkMarker = ".gz"
	}
	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Pagination == "" {
		opts.Pagination = StopOnStale
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WebGridSource{fetcher: f, opts: opts}
}

// Fetch implements LinkSource.
func (s *WebGridSource) Fetch(ctx context.Context, w Window) ([]model.Link, error) {
	log := zap.L().With(zap.String("component", "discovery"), zap.String("source", s.opts.Name))

	if w.MaxLinks != nil && *w.MaxLinks <= 0 {
		return []model.Link{}, nil
	}

	pages, err := s.PageCount(ctx)
	if err != nil {
		log.Error("page count probe failed, discovering nothing", zap.Error(err))
		return []model.Link{}, nil
	}

	var cutoff *time.Time
	if w.TimeBack != nil {
		c := s.opts.Now().Add(-*w.TimeBack)
		cutoff = &c
	}

	log.Info("fetching listing", zap.Int("pages", pages), zap.String("policy", string(s.opts.Pagination)))

	links := []model.Link{}
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return links, eris.Wrap(err, "discovery: fetch")
		}

		rows, err := s.fetchPage(ctx, page)
		if err != nil {
			log.Warn("listing page fetch failed, stopping", zap.Int("page", page), zap.Error(err))
			break
		}
		if len(rows) == 0 {
			log.Info("no rows on page, stopping", zap.Int("page", page))
			break
		}

		fresh := make([]model.Link, 0, len(rows))
		for _, row := range rows {
			if s.isFresh(row, cutoff) {
				fresh = append(fresh, row)
			}
		}

		if w.MaxLinks != nil {
			remaining := *w.MaxLinks - len(links)
			if remaining <= 0 {
				break
			}
			if len(fresh) > remaining {
				fresh = fresh[:remaining]
			}
		}

		links = append(links, fresh...)
		log.Debug("processed page", zap.Int("page", page), zap.Int("fresh", len(fresh)))

		if w.MaxLinks != nil && len(links) >= *w.MaxLinks {
			log.Info("reached max links, stopping", zap.Int("max_links", *w.MaxLinks))
			break
		}
		if len(fresh) == 0 && s.opts.Pagination == StopOnStale {
			log.Info("no fresh rows on page, stopping", zap.Int("page", page))
			break
		}
	}

	log.Info("discovery complete", zap.Int("links", len(links)))
	return links, nil
}

// PageCount probes the index for its highest page number. A failed request is
// returned as an error; a listing without pagination links counts as one page.
func (s *WebGridSource) PageCount(ctx context.Context) (int, error) {
	body, err := s.fetcher.Get(ctx, s.opts.IndexURL)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: page count probe")
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return 1, nil
	}

	highest := 0
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			continue
		}
		href, ok := attr(n, "href")
		if !ok {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		p, err := strconv.Atoi(u.Query().Get(s.opts.PageParam))
		if err != nil {
			continue
		}
		highest = max(highest, p)
	}
	if highest < 1 {
		return 1, nil
	}
	return highest, nil
}

// ParseRows extracts links from one listing page.
func (s *WebGridSource) ParseRows(body []byte) ([]model.Link, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse listing")
	}
	base, _ := url.Parse(s.opts.IndexURL)

	var links []model.Link
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.DataAtom != atom.Tr || !s.isGridRow(n) {
			continue
		}
		cells := descendantsOf(n, atom.Td)
		if len(cells) < 2 {
			continue
		}
		anchors := descendantsOf(cells[0], atom.A)
		if len(anchors) == 0 {
			continue
		}
		href, ok := attr(anchors[0], "href")
		if !ok || href == "" || !strings.Contains(href, s.opts.LinkMarker) {
			continue
		}
		links = append(links, model.Link{
			URL:  resolve(base, href),
			Date: strings.TrimSpace(textOf(cells[1])),
		})
	}
	return links, nil
}

func (s *WebGridSource) fetchPage(ctx context.Context, page int) ([]model.Link, error) {
	u, err := url.Parse(s.opts.IndexURL)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse index url")
	}
	q := u.Query()
	q.Set(s.opts.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := s.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return s.ParseRows(body)
}

// isFresh reports whether a link's date is at or after cutoff. Unparseable
// dates are never fresh.
func (s *WebGridSource) isFresh(l model.Link, cutoff *time.Time) bool {
	t, err := time.ParseInLocation(s.opts.DateLayout, l.Date, s.opts.Location)
	if err != nil {
		return false
	}
	return cutoff == nil || !t.Before(*cutoff)
}

func (s *WebGridSource) isGridRow(n *html.Node) bool {
	class, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(class) {
		if slices.Contains(s.opts.RowClasses, c) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func descendantsOf(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for d := range n.Descendants() {
		if d.Type == html.ElementNode && d.DataAtom == a {
			out = append(out, d)
		}
	}
	return out
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
		}
	}
	return sb.String()
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	return base.ResolveReference(ref).String()
}
