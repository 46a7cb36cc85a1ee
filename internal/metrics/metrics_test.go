package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineCounters(t *testing.T) {
	Init()

	ObserveCandidates("央行", 3)
	ObserveCandidates("央行", 2)
	assert.Equal(t, float64(5), testutil.ToFloat64(candidatesCollectedTotal.WithLabelValues("央行")))

	ObserveClassifications("domestic", 4)
	ObserveClassifications("failed", 1)
	assert.Equal(t, float64(4), testutil.ToFloat64(classificationsTotal.WithLabelValues("domestic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(classificationsTotal.WithLabelValues("failed")))

	ObserveContentFetch("ok")
	ObserveContentFetch("empty")
	assert.Equal(t, float64(1), testutil.ToFloat64(contentFetchesTotal.WithLabelValues("ok")))

	ObserveArticlesPersisted(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(articlesPersistedTotal))

	ObserveRun("all", "succeeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(pipelineRunsTotal.WithLabelValues("all", "succeeded")))

	ObserveStage("collect", 2*time.Second)
	assert.Positive(t, testutil.CollectAndCount(stageDurationSeconds))
}

func TestMiddleware(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/healthz", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
