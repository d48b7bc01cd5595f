package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/config"
	"github.com/sells-group/pricefeed/internal/discovery"
	"github.com/sells-group/pricefeed/internal/fetcher"
	"github.com/sells-group/pricefeed/internal/parser"
)

// ErrUnknownPipeline is returned when a requested pipeline is not registered.
var ErrUnknownPipeline = eris.New("pipeline: unknown pipeline")

// Shufersal is the registry name of the Shufersal price pipeline.
const Shufersal = "shufersal"

// Registry maps pipeline names to their implementations.
type Registry struct {
	pipelines map[string]*Pipeline
	order     []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every configured retailer.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	loc, err := cfg.Scrape.Location()
	if err != nil {
		return nil, err
	}
	policy, err := discovery.ParsePaginationPolicy(cfg.Scrape.Pagination)
	if err != nil {
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:          cfg.HTTP.UserAgent,
		Timeout:            cfg.HTTP.Timeout(),
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		RatePerSec:         cfg.HTTP.RatePerSec,
	})
	downloader := fetcher.NewDownloader(f)

	r := NewEmptyRegistry()
	r.Register(New(Shufersal,
		discovery.NewWebGridSource(f, discovery.WebGridOptions{
			Name:       Shufersal,
			IndexURL:   cfg.Shufersal.IndexURL,
			Location:   loc,
			Pagination: policy,
		}),
		downloader,
		parser.NewPriceXML(parser.DefaultPriceXMLOptions()),
	))
	return r, nil
}

// NewEmptyRegistry creates a registry with no pipelines.
func NewEmptyRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

// Register adds a pipeline to the registry. Registering a name twice
// replaces the earlier pipeline but keeps its position.
func (r *Registry) Register(p *Pipeline) {
	if _, ok := r.pipelines[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.pipelines[p.Name()] = p
}

// Get returns a pipeline by name.
func (r *Registry) Get(name string) (*Pipeline, error) {
	p, ok := r.pipelines[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownPipeline, "pipeline: get %q", name)
	}
	return p, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.pipelines[name]
	return ok
}

// Names returns all registered pipeline names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
