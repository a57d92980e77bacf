package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/metrics"
)

func TestMonitor(t *testing.T) {
	t.Parallel()

	type request struct {
		method string
		path   string
	}

	tests := map[string]struct {
		requests []request

		wantCount int
		wantLines []string
	}{
		"No requests": {},
		"Labels by route pattern": {
			requests: []request{
				{method: http.MethodGet, path: "/v1/status/aws"},
				{method: http.MethodGet, path: "/v1/status/scihub"},
			},
			wantCount: 1,
			wantLines: []string{
				`http_requests_total{code="200",handler="api",method="get",path="/v1/status/{provider}"} 2`,
			},
		},
		"Labels by method and code": {
			requests: []request{
				{method: http.MethodGet, path: "/v1/status/aws"},
				{method: http.MethodPost, path: "/v1/downloads"},
				{method: http.MethodPost, path: "/v1/downloads"},
			},
			wantCount: 2,
			wantLines: []string{
				`http_requests_total{code="200",handler="api",method="get",path="/v1/status/{provider}"} 1`,
				`http_requests_total{code="202",handler="api",method="post",path="/v1/downloads"} 2`,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reg := prometheus.NewRegistry()
			mw := metrics.NewMiddleware(reg)

			r := chi.NewRouter()
			r.Use(mw.Monitor("api"))
			r.Get("/v1/status/{provider}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			r.Post("/v1/downloads", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			})

			assert.Equal(t, 0, testutil.CollectAndCount(reg, "http_requests_total"), "Expected no metrics to be collected before request")

			for _, req := range tc.requests {
				rec := httptest.NewRecorder()
				r.ServeHTTP(rec, httptest.NewRequest(req.method, req.path, nil))
			}

			assert.Equal(t, tc.wantCount, testutil.CollectAndCount(reg, "http_requests_total"), "Unexpected number of series")
			assert.Equal(t, tc.wantCount, testutil.CollectAndCount(reg, "http_request_duration_seconds"), "Unexpected number of duration series")

			b, err := testutil.CollectAndFormat(reg, expfmt.TypeTextPlain, "http_requests_total")
			require.NoError(t, err, "Failed to collect metrics")
			for _, l := range tc.wantLines {
				assert.Contains(t, string(b), l, "Collected metrics should contain the series")
			}
		})
	}
}

func TestMonitorPanicsOnDuplicateHandler(t *testing.T) {
	t.Parallel()

	mw := metrics.NewMiddleware(prometheus.NewRegistry())
	mw.Monitor("api")
	require.Panics(t, func() { mw.Monitor("api") }, "Monitor should panic when the handler name is already registered")
}
