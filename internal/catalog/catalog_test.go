package catalog_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/catalog"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

func TestExecute(t *testing.T) {
	t.Parallel()

	// clouds holds the cloud cover of each product served, a negative value meaning unknown.
	tests := map[string]struct {
		sensor   eodata.Sensor
		clouds   []float64
		params   eodata.Parameters
		opts     []catalog.Options
		repeated bool

		wantRows  []int
		wantStart []int
		wantIDs   []int
	}{
		"Limit is split in pages": {
			sensor: eodata.Sentinel2, clouds: make([]float64, 20),
			opts:     []catalog.Options{catalog.WithLimit(5), catalog.WithPageSize(2)},
			wantRows: []int{2, 2, 1}, wantStart: []int{0, 2, 4},
			wantIDs: []int{0, 1, 2, 3, 4},
		},
		"Page size defaults to the limit": {
			sensor: eodata.Sentinel2, clouds: make([]float64, 20),
			opts:     []catalog.Options{catalog.WithLimit(7)},
			wantRows: []int{7}, wantStart: []int{0},
			wantIDs: []int{0, 1, 2, 3, 4, 5, 6},
		},
		"Stops on empty page": {
			sensor: eodata.Sentinel2, clouds: make([]float64, 3),
			opts:     []catalog.Options{catalog.WithLimit(10), catalog.WithPageSize(2)},
			wantRows: []int{2, 2, 2}, wantStart: []int{0, 2, 4},
			wantIDs: []int{0, 1, 2},
		},
		"Single page": {
			sensor: eodata.Sentinel2, clouds: make([]float64, 20),
			opts:     []catalog.Options{catalog.WithPageSize(3), catalog.WithPage(2)},
			wantRows: []int{3}, wantStart: []int{3},
			wantIDs: []int{3, 4, 5},
		},
		"Cloud cover is filtered on results when the provider cannot": {
			sensor: eodata.Sentinel1, clouds: []float64{10, 50, 30, -1, 31, 0},
			params:   eodata.Parameters{eodata.Number(catalog.ParamCloudCover, 30)},
			opts:     []catalog.Options{catalog.WithLimit(3), catalog.WithPageSize(2)},
			wantRows: []int{2, 2}, wantStart: []int{0, 2},
			wantIDs: []int{0, 2, 3},
		},
		"Cloud cover interval is filtered on results": {
			sensor: eodata.Sentinel3, clouds: []float64{10, 50, 30, -1, 31, 0},
			params:   eodata.Parameters{eodata.NumberRange(catalog.ParamCloudCover, 20, 40)},
			opts:     []catalog.Options{catalog.WithLimit(10)},
			wantRows: []int{10, 7}, wantStart: []int{0, 10},
			wantIDs: []int{2, 3, 4},
		},
		"Cloud cover is left to the provider when it filters": {
			sensor: eodata.Sentinel2, clouds: []float64{10, 50},
			params:   eodata.Parameters{eodata.Number(catalog.ParamCloudCover, 30)},
			opts:     []catalog.Options{catalog.WithLimit(10)},
			wantRows: []int{10, 8}, wantStart: []int{0, 10},
			wantIDs: []int{0, 1},
		},
		"Stops when the provider repeats a page": {
			sensor: eodata.Sentinel2, clouds: make([]float64, 20), repeated: true,
			opts:     []catalog.Options{catalog.WithLimit(10), catalog.WithPageSize(2)},
			wantRows: []int{2, 2}, wantStart: []int{0, 2},
			wantIDs: []int{0, 1},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := newSciHubServer(t, tc.clouds, tc.repeated)
			s, err := catalog.NewStrategy(catalog.KindSciHub, tc.sensor, srv.URL)
			require.NoError(t, err, "Setup: NewStrategy should not fail")

			q := catalog.New(s, httpclient.New(), tc.opts...)
			got, err := q.Execute(context.Background(), tc.params)
			require.NoError(t, err, "Execute should not fail")

			var ids []int
			for _, r := range got {
				id, err := strconv.Atoi(r.ID)
				require.NoError(t, err, "Product ID should be the server index")
				ids = append(ids, id)
			}
			assert.Equal(t, tc.wantIDs, ids, "Execute should return the expected products in order")
			assert.Equal(t, tc.wantRows, srv.rows(), "Execute should request the expected rows")
			assert.Equal(t, tc.wantStart, srv.starts(), "Execute should request the expected offsets")
		})
	}
}

func TestExecuteSentinel2Tile(t *testing.T) {
	t.Parallel()

	srv := newSciHubServer(t, []float64{12.5, 30, 30.5}, false)
	s, err := catalog.NewStrategy(catalog.KindSciHub, eodata.Sentinel2, srv.URL)
	require.NoError(t, err, "Setup: NewStrategy should not fail")

	params := eodata.Parameters{
		eodata.String(catalog.ParamTile, "T34UFA"),
		eodata.DateRange(catalog.ParamAcquisition,
			time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2022, 1, 31, 0, 0, 0, 0, time.UTC)),
		eodata.Number(catalog.ParamCloudCover, 30),
	}
	q := catalog.New(s, httpclient.New(), catalog.WithCredential(credentials.Credential{User: "user", Password: "secret"}))
	_, err = q.Execute(context.Background(), params)
	require.NoError(t, err, "Execute should not fail")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotEmpty(t, srv.requests, "Execute should have sent a request")
	r := srv.requests[0]
	assert.Equal(t, "/search", r.URL.Path, "Execute should query the search endpoint")
	assert.Equal(t, "beginposition asc", r.URL.Query().Get("orderby"), "Execute should order by acquisition date")
	q0 := r.URL.Query().Get("q")
	assert.Contains(t, q0, "cloudcoverpercentage:[0 TO 30]", "Cloud cover should be sent to the provider")
	assert.Contains(t, q0, "filename:*_T34UFA_*", "Tile should be sent to the provider")
	assert.Contains(t, q0, "beginposition:[2022-01-01T00:00:00.000Z TO 2022-01-31T00:00:00.000Z]", "Window should be sent to the provider")
	user, password, ok := r.BasicAuth()
	require.True(t, ok, "Execute should authenticate")
	assert.Equal(t, "user", user)
	assert.Equal(t, "secret", password)
}

func TestExecuteErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status int
		body   string
		params eodata.Parameters

		wantCalls int
		wantErr   error
	}{
		"Error on rejected credentials": {
			status: http.StatusUnauthorized, wantCalls: 1, wantErr: eodata.ErrAuthentication,
		},
		"Error on provider failure": {
			status: http.StatusInternalServerError, body: "Solr is down", wantCalls: 1, wantErr: eodata.ErrProvider,
		},
		"Error on unparsable body": {
			status: http.StatusOK, body: "<html><body>maintenance", wantCalls: 1, wantErr: eodata.ErrProvider,
		},
		"Error on missing required parameter before any request": {
			params: eodata.Parameters{eodata.String(catalog.ParamPlatform, "")}, wantErr: eodata.ErrParameter,
		},
		"Error on unsupported parameter before any request": {
			params: eodata.Parameters{eodata.String("unknown", "value")}, wantErr: eodata.ErrParameter,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				mu.Lock()
				calls++
				mu.Unlock()
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			s, err := catalog.NewStrategy(catalog.KindSciHub, eodata.Sentinel2, srv.URL)
			require.NoError(t, err, "Setup: NewStrategy should not fail")

			q := catalog.New(s, httpclient.New())
			_, err = q.Execute(context.Background(), tc.params)
			require.ErrorIs(t, err, tc.wantErr, "Execute should fail with the expected error")

			n, err := q.Count(context.Background(), tc.params)
			require.ErrorIs(t, err, tc.wantErr, "Count should fail with the expected error")
			assert.Zero(t, n, "Count should return 0 on error")

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tc.wantCalls*2, calls, "Execute and Count should send the expected number of requests")
		})
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	srv := newSciHubServer(t, make([]float64, 42), false)
	s, err := catalog.NewStrategy(catalog.KindSciHub, eodata.Sentinel2, srv.URL)
	require.NoError(t, err, "Setup: NewStrategy should not fail")

	n, err := catalog.New(s, httpclient.New()).Count(context.Background(), nil)
	require.NoError(t, err, "Count should not fail")
	assert.Equal(t, 42, n, "Count should return the provider total")
	assert.Equal(t, []int{0}, srv.rows(), "Count should not request any row")
}

func TestPEPS(t *testing.T) {
	t.Parallel()

	page, err := os.ReadFile(filepath.Join("testdata", "peps_page.json"))
	require.NoError(t, err, "Setup: could not read page")

	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Path+"?"+r.URL.RawQuery)
		n := len(queries)
		mu.Unlock()
		if n > 1 {
			fmt.Fprint(w, `{"type":"FeatureCollection","properties":{"totalResults":17},"features":[]}`)
			return
		}
		_, _ = w.Write(page)
	}))
	t.Cleanup(srv.Close)

	s, err := catalog.NewStrategy(catalog.KindPEPS, eodata.Sentinel2, srv.URL)
	require.NoError(t, err, "Setup: NewStrategy should not fail")

	params := eodata.Parameters{
		eodata.Array(catalog.ParamProductType, "S2MSI1C"),
		eodata.DateRange(catalog.ParamAcquisition, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}),
		eodata.Geometry(catalog.ParamFootprint, eodata.BBox{MinX: 22.5, MinY: 51, MaxX: 23, MaxY: 52}.Polygon()),
		eodata.String(catalog.ParamTile, "t34ufa"),
		eodata.Number(catalog.ParamCloudCover, 20),
	}
	got, err := catalog.New(s, httpclient.New(), catalog.WithLimit(10), catalog.WithPageSize(2)).Execute(context.Background(), params)
	require.NoError(t, err, "Execute should not fail")

	require.Len(t, got, 2, "Execute should keep the product under the threshold and the one without cloud cover")
	assert.Equal(t, "0b4a1e2c-0001", got[0].ID)
	assert.Equal(t, "https://peps.example.org/resto/collections/S2ST/0b4a1e2c-0001/download", got[0].Location)
	assert.Equal(t, "Sentinel-2", got[0].Sensor)
	assert.Equal(t, "POLYGON((22.4 51.3,24 51.3,24 52.3,22.4 52.3,22.4 51.3))", got[0].Footprint)
	size, _ := got[0].Attribute(eodata.AttrSize)
	assert.Equal(t, "829651234", size)
	assert.True(t, strings.HasPrefix(got[1].Footprint, "POLYGON((23 51"), "First polygon of a multi polygon should be kept")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2, "Execute should stop on the empty page")
	assert.Equal(t,
		"/api/collections/S2ST/search.json?box=22.5%2C51%2C23%2C52&maxRecords=2&page=1&productType=S2MSI1C&startDate=2022-01-01T00%3A00%3A00Z&tileid=34UFA",
		queries[0], "Execute should send the resto query")
	assert.Contains(t, queries[1], "page=2", "Execute should request the next page")
}

func TestPEPSErrors(t *testing.T) {
	t.Parallel()

	s, err := catalog.NewStrategy(catalog.KindPEPS, eodata.Sentinel1, "https://peps.example.org")
	require.NoError(t, err, "Setup: NewStrategy should not fail")

	_, _, err = s.BuildRequest(eodata.Parameters{eodata.Array(catalog.ParamProductType, "GRD", "SLC")}, catalog.PageRequest{Number: 1, Size: 10})
	require.ErrorIs(t, err, eodata.ErrParameter, "BuildRequest should fail with several product types")

	_, err = s.ParsePage(strings.NewReader(`{"features": [{"id": "", "properties": {}}]}`))
	require.ErrorIs(t, err, eodata.ErrProvider, "ParsePage should fail on feature without identity")

	_, err = s.ParsePage(strings.NewReader(`not json`))
	require.ErrorIs(t, err, eodata.ErrProvider, "ParsePage should fail on invalid JSON")
}

type sciHubServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

// newSciHubServer serves one product per entry of clouds, the product ID being its index.
// When repeated is set, every page is the first one.
func newSciHubServer(t *testing.T, clouds []float64, repeated bool) *sciHubServer {
	t.Helper()

	s := &sciHubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r)
		s.mu.Unlock()

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
		if repeated {
			start = 0
		}

		var b strings.Builder
		fmt.Fprintf(&b, `<?xml version="1.0" encoding="utf-8"?><feed xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/" xmlns="http://www.w3.org/2005/Atom">`)
		fmt.Fprintf(&b, `<opensearch:totalResults>%d</opensearch:totalResults>`, len(clouds))
		for i := start; i < min(start+rows, len(clouds)); i++ {
			fmt.Fprintf(&b, `<entry><id>%d</id><title>PRODUCT_%d</title><date name="beginposition">2022-01-05T09:33:21.024Z</date>`, i, i)
			if clouds[i] >= 0 {
				fmt.Fprintf(&b, `<double name="cloudcoverpercentage">%g</double>`, clouds[i])
			}
			b.WriteString(`</entry>`)
		}
		b.WriteString(`</feed>`)
		fmt.Fprint(w, b.String())
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sciHubServer) rows() []int {
	return s.intParams("rows")
}

func (s *sciHubServer) starts() []int {
	return s.intParams("start")
}

func (s *sciHubServer) intParams(key string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r []int
	for _, req := range s.requests {
		v, _ := strconv.Atoi(req.URL.Query().Get(key))
		r = append(r, v)
	}
	return r
}
