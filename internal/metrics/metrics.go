// Package metrics exposes Prometheus collectors for the news pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	candidatesCollectedTotal   *prometheus.CounterVec
	classificationsTotal       *prometheus.CounterVec
	contentFetchesTotal        *prometheus.CounterVec
	articlesPersistedTotal     prometheus.Counter
	pipelineRunsTotal          *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		candidatesCollectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_candidates_collected_total",
				Help: "Total headline candidates kept after filtering, labeled by search term.",
			},
			[]string{"term"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_classifications_total",
				Help: "Total classification outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		contentFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_content_fetches_total",
				Help: "Total article content fetches, labeled by result.",
			},
			[]string{"result"},
		)

		articlesPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "news_articles_persisted_total",
				Help: "Total article rows handed to the store for persistence.",
			},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_pipeline_runs_total",
				Help: "Total pipeline runs, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "news_pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCandidates adds the number of kept candidates for a search term.
func ObserveCandidates(term string, count int) {
	Init()
	candidatesCollectedTotal.WithLabelValues(term).Add(float64(count))
}

// ObserveClassifications adds to the classification outcome counter. Outcome
// is one of "domestic", "foreign", "irrelevant" or "failed".
func ObserveClassifications(outcome string, count int) {
	Init()
	classificationsTotal.WithLabelValues(outcome).Add(float64(count))
}

// ObserveContentFetch counts one fetch with result "ok" or "empty".
func ObserveContentFetch(result string) {
	Init()
	contentFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveArticlesPersisted adds the size of a persisted batch.
func ObserveArticlesPersisted(count int) {
	Init()
	articlesPersistedTotal.Add(float64(count))
}

// ObserveRun counts one pipeline run with status "succeeded" or "failed".
func ObserveRun(mode, status string) {
	Init()
	pipelineRunsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
