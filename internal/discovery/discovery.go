// Package discovery finds price file links on paginated retailer listings.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/model"
)

// Window bounds a discovery run. A nil TimeBack disables the freshness cutoff;
// a nil MaxLinks disables the result cap.
type Window struct {
	TimeBack *time.Duration
	MaxLinks *int
}

// LinkSource discovers candidate file links for one retailer.
type LinkSource interface {
	// Fetch returns links in page/row encounter order. Listing failures end
	// pagination early and are not returned as errors; only context
	// cancellation is.
	Fetch(ctx context.Context, w Window) ([]model.Link, error)
}

// PaginationPolicy controls whether a page with no fresh rows ends pagination.
type PaginationPolicy string

const (
	// StopOnStale assumes a reverse-chronological listing: once a page yields
	// no fresh rows, every later page is older and is not requested.
	StopOnStale PaginationPolicy = "stop_on_stale"
	// FullScan walks every page up to the probed count and filters each one.
	FullScan PaginationPolicy = "full_scan"
)

// ParsePaginationPolicy converts a config string into a PaginationPolicy.
// The empty string selects StopOnStale.
func ParsePaginationPolicy(s string) (PaginationPolicy, error) {
	switch PaginationPolicy(s) {
	case "", StopOnStale:
		return StopOnStale, nil
	case FullScan:
		return FullScan, nil
	default:
		return "", eris.Errorf("discovery: unknown pagination policy %q (valid: stop_on_stale, full_scan)", s)
	}
}
