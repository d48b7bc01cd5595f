// Package monitoring exposes Prometheus collectors for pipeline runs and the
// upload service, plus run log snapshots for operators.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/pricefeed/internal/model"
)

// Metrics holds all Prometheus collectors for pricefeed.
type Metrics struct {
	LinksDiscovered *prometheus.CounterVec
	Downloads       *prometheus.CounterVec
	RecordsParsed   *prometheus.CounterVec
	GroupsUploaded  *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	UploadRequests  *prometheus.CounterVec
	RecordsUploaded *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinksDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_links_discovered_total",
				Help: "Price file links returned by discovery.",
			},
			[]string{"pipeline"},
		),
		Downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_downloads_total",
				Help: "Download attempts by outcome (ok, skipped) and skip reason.",
			},
			[]string{"pipeline", "status", "reason"},
		),
		RecordsParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_records_parsed_total",
				Help: "Item records produced by the flattener.",
			},
			[]string{"pipeline"},
		),
		GroupsUploaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_groups_uploaded_total",
				Help: "Record groups written to object storage.",
			},
			[]string{"pipeline"},
		),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_pipeline_runs_total",
				Help: "Pipeline runs by final status.",
			},
			[]string{"pipeline", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricefeed_run_duration_seconds",
				Help:    "Wall time of a pipeline run including upload.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"pipeline"},
		),
		UploadRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_upload_requests_total",
				Help: "Upload service requests by HTTP status code.",
			},
			[]string{"code"},
		),
		RecordsUploaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_upload_records_total",
				Help: "Records accepted by the upload service.",
			},
			[]string{"pipeline"},
		),
	}

	reg.MustRegister(
		m.LinksDiscovered,
		m.Downloads,
		m.RecordsParsed,
		m.GroupsUploaded,
		m.PipelineRuns,
		m.RunDuration,
		m.UploadRequests,
		m.RecordsUploaded,
	)
	return m
}

// ObserveRun records the counters of one finished pipeline run.
func (m *Metrics) ObserveRun(s model.RunSummary, runErr error) {
	status := string(model.RunStatusComplete)
	if runErr != nil {
		status = string(model.RunStatusFailed)
	}

	m.LinksDiscovered.WithLabelValues(s.Pipeline).Add(float64(s.Links))
	for _, o := range s.Downloads.Outcomes {
		m.Downloads.WithLabelValues(s.Pipeline, string(o.Status), o.Reason).Inc()
	}
	m.RecordsParsed.WithLabelValues(s.Pipeline).Add(float64(s.Records))
	m.GroupsUploaded.WithLabelValues(s.Pipeline).Add(float64(s.Groups))
	m.PipelineRuns.WithLabelValues(s.Pipeline, status).Inc()
	m.RunDuration.WithLabelValues(s.Pipeline).Observe(s.Elapsed.Seconds())
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
