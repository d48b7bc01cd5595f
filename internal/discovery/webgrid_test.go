package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricefeed/internal/fetcher"
	"github.com/sells-group/pricefeed/internal/model"
)

var testNow = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

type row struct {
	href  string
	date  string
	class string
}

func freshRow(name string, age time.Duration) row {
	return row{
		href:  "https://blob.example.com/" + name + ".gz?sv=1",
		date:  testNow.Add(-age).Format("01/02/2006 03:04:05 PM"),
		class: "webgrid-row-style",
	}
}

func renderPage(rows []row, pages int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><table>")
	sb.WriteString(`<tr class="webgrid-header"><th>File</th><th>Date</th></tr>`)
	for _, r := range rows {
		fmt.Fprintf(&sb, `<tr class="%s"><td><a href="%s">download</a></td><td> %s </td><td>x</td></tr>`, r.class, r.href, r.date)
	}
	sb.WriteString("</table><div>")
	for p := 1; p <= pages; p++ {
		fmt.Fprintf(&sb, `<a href="/?page=%d">%d</a>`, p, p)
	}
	sb.WriteString("</div></body></html>")
	return sb.String()
}

// listing serves a probe page plus numbered pages and records every request.
type listing struct {
	mu        sync.Mutex
	requested []string
	pages     map[string][]row
	pageCount int
	probeCode int
	failPage  string
}

func (l *listing) handler(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	l.mu.Lock()
	l.requested = append(l.requested, page)
	l.mu.Unlock()

	if page == "" {
		if l.probeCode != 0 {
			w.WriteHeader(l.probeCode)
			return
		}
		fmt.Fprint(w, renderPage(l.pages["1"], l.pageCount))
		return
	}
	if page == l.failPage {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	fmt.Fprint(w, renderPage(l.pages[page], l.pageCount))
}

func (l *listing) requests() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.requested...)
}

func newSource(t *testing.T, l *listing, policy PaginationPolicy) *WebGridSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(l.handler))
	t.Cleanup(srv.Close)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RatePerSec: 1000})
	return NewWebGridSource(f, WebGridOptions{
		Name:       "test",
		IndexURL:   srv.URL + "/",
		Location:   time.UTC,
		Pagination: policy,
		Now:        func() time.Time { return testNow },
	})
}

func dur(d time.Duration) *time.Duration { return &d }
func intp(n int) *int                    { return &n }

func TestFetch_MaxLinksNonPositive_NoRequests(t *testing.T) {
	for _, n := range []int{0, -1} {
		l := &listing{pages: map[string][]row{"1": {freshRow("a", time.Minute)}}, pageCount: 1}
		src := newSource(t, l, StopOnStale)

		links, err := src.Fetch(context.Background(), Window{MaxLinks: intp(n)})
		require.NoError(t, err)
		assert.Empty(t, links)
		assert.Empty(t, l.requests())
	}
}

func TestFetch_BoundaryInclusive(t *testing.T) {
	l := &listing{
		pages: map[string][]row{"1": {
			freshRow("inside", time.Hour),
			freshRow("boundary", 2*time.Hour),
			freshRow("outside", 2*time.Hour+time.Second),
		}},
		pageCount: 1,
	}
	src := newSource(t, l, StopOnStale)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Contains(t, links[0].URL, "inside.gz")
	assert.Contains(t, links[1].URL, "boundary.gz")
}

func TestFetch_CapAcrossPages(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute), freshRow("b", 2*time.Minute)},
			"2": {freshRow("c", 3*time.Minute), freshRow("d", 4*time.Minute)},
			"3": {freshRow("e", 5*time.Minute)},
		},
		pageCount: 3,
	}
	src := newSource(t, l, StopOnStale)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(6 * time.Hour), MaxLinks: intp(3)})
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Contains(t, links[2].URL, "c.gz")
	assert.Equal(t, []string{"", "1", "2"}, l.requests())
}

func TestFetch_StopOnStalePage(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute)},
			"2": {freshRow("old", 10*time.Hour)},
			"3": {freshRow("late", time.Minute)},
		},
		pageCount: 3,
	}
	src := newSource(t, l, StopOnStale)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(time.Hour)})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, []string{"", "1", "2"}, l.requests())
}

func TestFetch_FullScanContinuesPastStalePage(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute)},
			"2": {freshRow("old", 10*time.Hour)},
			"3": {freshRow("late", time.Minute)},
		},
		pageCount: 3,
	}
	src := newSource(t, l, FullScan)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(time.Hour)})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Contains(t, links[1].URL, "late.gz")
}

func TestFetch_NoCutoffIncludesParseableRows(t *testing.T) {
	l := &listing{
		pages: map[string][]row{"1": {
			freshRow("old", 1000*time.Hour),
			{href: "https://blob.example.com/bad.gz", date: "yesterday", class: "webgrid-alternating-row"},
		}},
		pageCount: 1,
	}
	src := newSource(t, l, StopOnStale)

	links, err := src.Fetch(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Contains(t, links[0].URL, "old.gz")
}

func TestFetch_ProbeHardErrorYieldsNothing(t *testing.T) {
	l := &listing{
		pages:     map[string][]row{"1": {freshRow("a", time.Minute)}},
		pageCount: 1,
		probeCode: http.StatusServiceUnavailable,
	}
	src := newSource(t, l, StopOnStale)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.Equal(t, []string{""}, l.requests())
}

func TestFetch_ProbeWithoutPaginationMeansOnePage(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute)},
			"2": {freshRow("b", time.Minute)},
		},
		pageCount: 0,
	}
	src := newSource(t, l, FullScan)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(time.Hour)})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, []string{"", "1"}, l.requests())
}

func TestFetch_PageErrorReturnsPartial(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute)},
			"3": {freshRow("c", time.Minute)},
		},
		pageCount: 3,
		failPage:  "2",
	}
	src := newSource(t, l, FullScan)

	links, err := src.Fetch(context.Background(), Window{TimeBack: dur(time.Hour)})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Contains(t, links[0].URL, "a.gz")
}

func TestFetch_EmptyPageStops(t *testing.T) {
	l := &listing{
		pages: map[string][]row{
			"1": {freshRow("a", time.Minute)},
			"3": {freshRow("c", time.Minute)},
		},
		pageCount: 3,
	}
	src := newSource(t, l, FullScan)

	links, err := src.Fetch(context.Background(), Window{})
	require.NoError(t, err)
	assert.Len(t, links, 1)
	assert.Equal(t, []string{"", "1", "2"}, l.requests())
}

func TestParseRows_FiltersRowsAndLinks(t *testing.T) {
	src := NewWebGridSource(nil, WebGridOptions{IndexURL: "https://prices.example.com/"})
	body := renderPage([]row{
		{href: "https://blob.example.com/a.gz", date: "03/01/2026 01:00:00 PM", class: "webgrid-row-style"},
		{href: "https://blob.example.com/readme.txt", date: "03/01/2026 01:00:00 PM", class: "webgrid-row-style"},
		{href: "https://blob.example.com/b.gz", date: "03/01/2026 01:00:00 PM", class: "something-else"},
		{href: "/files/c.gz", date: "03/01/2026 01:00:00 PM", class: "foo webgrid-alternating-row"},
	}, 1)

	links, err := src.ParseRows([]byte(body))
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://blob.example.com/a.gz", links[0].URL)
	assert.Equal(t, "03/01/2026 01:00:00 PM", links[0].Date)
	assert.Equal(t, "https://prices.example.com/files/c.gz", links[1].URL)
}

func TestPageCount(t *testing.T) {
	l := &listing{pages: map[string][]row{}, pageCount: 7}
	src := newSource(t, l, StopOnStale)

	n, err := src.PageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestIsFresh_SingleDigitFields(t *testing.T) {
	src := NewWebGridSource(nil, WebGridOptions{Location: time.UTC})
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, src.isFresh(linkAt("3/1/2026 9:05:00 AM"), &cutoff))
	assert.True(t, src.isFresh(linkAt("03/01/2026 09:05:00 AM"), &cutoff))
	assert.False(t, src.isFresh(linkAt("2026-03-01 09:05"), &cutoff))
	assert.False(t, src.isFresh(linkAt("2/28/2026 11:59:59 PM"), &cutoff))
}

func TestParsePaginationPolicy(t *testing.T) {
	p, err := ParsePaginationPolicy("")
	require.NoError(t, err)
	assert.Equal(t, StopOnStale, p)

	p, err = ParsePaginationPolicy("full_scan")
	require.NoError(t, err)
	assert.Equal(t, FullScan, p)

	_, err = ParsePaginationPolicy("random")
	assert.Error(t, err)
}

func linkAt(date string) model.Link {
	return model.Link{URL: "https://blob.example.com/x.gz", Date: date}
}
