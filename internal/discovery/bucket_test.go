package discovery_test

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// fakeBucket is an in memory object store, usable directly as a Lister or served over the S3 REST protocol.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	// failing prefixes return an error when listed.
	failing map[string]bool
	listed  []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects: make(map[string][]byte),
		failing: make(map[string]bool),
	}
}

func (b *fakeBucket) put(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = []byte(content)
}

func (b *fakeBucket) fail(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[prefix] = true
}

func (b *fakeBucket) listedPrefixes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.listed)
}

// addSentinel2 adds one acquisition of a Sentinel-2 product under tile prefix root, such as "tiles/34/U/FA/".
func (b *fakeBucket) addSentinel2(root string, y, m, d, seq int, name string, cloud float64) {
	leaf := fmt.Sprintf("%s%d/%d/%d/%d/", root, y, m, d, seq)
	productPath := fmt.Sprintf("products/%d/%d/%d/%s", y, m, d, name)
	b.put(leaf+"tileInfo.json", fmt.Sprintf(`{
		"path": %q,
		"productName": %q,
		"productPath": %q,
		"cloudyPixelPercentage": %g,
		"tileGeometry": {"type": "Polygon", "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG:8.8.1:32634"}},
			"coordinates": [[[600000, 5600040], [709800, 5600040], [709800, 5490240], [600000, 5490240], [600000, 5600040]]]}
	}`, strings.TrimSuffix(leaf, "/"), name, productPath, cloud))
	b.put(leaf+"preview.jpg", "jpg")
	b.put(productPath+"/productInfo.json", fmt.Sprintf(`{
		"name": %q,
		"id": "id-%s",
		"path": %q,
		"timestamp": "%04d-%02d-%02dT09:33:21.024Z",
		"datastrips": [{"id": "S2A_OPER_MSI_L1C_DS_SGS__20220105T113427_S20220105T093322_N03.01", "path": "products/datastrip"}]
	}`, name, name, productPath, y, m, d))
}

func (b *fakeBucket) ListPrefixes(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listed = append(b.listed, prefix)
	if b.failing[prefix] {
		return nil, fmt.Errorf("%w: listing %s", eodata.ErrProvider, prefix)
	}
	return b.commonPrefixes(prefix), nil
}

func (b *fakeBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", eodata.ErrNotFound, key)
	}
	return data, nil
}

// commonPrefixes must be called with the lock held.
func (b *fakeBucket) commonPrefixes(prefix string) []string {
	seen := make(map[string]bool)
	var prefixes []string
	for k := range b.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		i := strings.Index(rest, "/")
		if i < 0 {
			continue
		}
		p := prefix + rest[:i+1]
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	// Object stores list in lexicographic order.
	slices.Sort(prefixes)
	return prefixes
}

type listBucketResult struct {
	XMLName               xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix"`
	Delimiter             string   `xml:"Delimiter"`
	KeyCount              int      `xml:"KeyCount"`
	MaxKeys               int      `xml:"MaxKeys"`
	IsTruncated           bool     `xml:"IsTruncated"`
	ContinuationToken     string   `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	CommonPrefixes        []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

// serve exposes the bucket named bucket in path style. Listings are paged two prefixes at a time.
func (b *fakeBucket) serve(t *testing.T, bucket string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"+bucket), "/")
		q := r.URL.Query()

		if key == "" && q.Get("list-type") == "2" {
			prefix := q.Get("prefix")
			prefixes, err := b.ListPrefixes(r.Context(), prefix)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			start, _ := strconv.Atoi(q.Get("continuation-token"))
			end := min(start+2, len(prefixes))
			res := listBucketResult{
				Name: bucket, Prefix: prefix, Delimiter: "/", MaxKeys: 2,
				KeyCount:          end - start,
				ContinuationToken: q.Get("continuation-token"),
			}
			if end < len(prefixes) {
				res.IsTruncated = true
				res.NextContinuationToken = strconv.Itoa(end)
			}
			for _, p := range prefixes[start:end] {
				res.CommonPrefixes = append(res.CommonPrefixes, struct {
					Prefix string `xml:"Prefix"`
				}{Prefix: p})
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(xml.Header))
			_ = xml.NewEncoder(w).Encode(res)
			return
		}

		data, err := b.Get(r.Context(), key)
		if err != nil {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key></Error>`, key)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}
