package service_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
	"github.com/ubuntu/eofetch/internal/product"
	"github.com/ubuntu/eofetch/internal/service"
	"github.com/ubuntu/eofetch/internal/testutils"
)

const productName = "S2A_MSIL1C_20220105T093321_N0301_R136_T34TFS_20220105T113427"

type providers map[string]config.Provider

func (p providers) Provider(id string) (config.Provider, bool) {
	c, ok := p[id]
	return c, ok
}

type creds map[string]credentials.Credential

func (c creds) Lookup(id string) (credentials.Credential, bool) {
	v, ok := c[id]
	return v, ok
}

// statusClient answers every request with the same error, and records the requested URLs.
type statusClient struct {
	err error

	mu   sync.Mutex
	urls []string
}

func (c *statusClient) Get(_ context.Context, rawURL string, _ ...httpclient.RequestOption) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, rawURL)
	return nil, c.err
}

var testProviders = providers{
	"aws":    {ID: "aws", Kind: config.KindAWS, BaseURL: "https://sentinel-s2-l1c.example", MaxConnections: 2, FetchMode: product.ModeOverwrite},
	"scihub": {ID: "scihub", Kind: config.KindSciHub, BaseURL: "https://scihub.example", MaxConnections: 2, FetchMode: product.ModeOverwrite},
	"peps":   {ID: "peps", Kind: config.KindPEPS, BaseURL: "https://peps.example", MaxConnections: 2},
	"copy":   {ID: "copy", Kind: config.KindAWS, BaseURL: "https://sentinel-s2-l1c.example", MaxConnections: 2, FetchMode: product.ModeCopy},
}

func TestTask(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		provider  string
		records   []eodata.ProductRecord
		clientErr error
		cancelled bool

		wantBuildErr error
		wantRunErr   error
		wantRequests bool
	}{
		"Missing AWS product is not an error": {
			provider:     "aws",
			records:      []eodata.ProductRecord{{Name: productName}},
			clientErr:    &eodata.ProviderError{Status: http.StatusNotFound, Reason: "Not Found"},
			wantRequests: true,
		},
		"Missing SciHub product is not an error": {
			provider: "scihub",
			records: []eodata.ProductRecord{{
				ID: "uuid-1", Name: productName,
				Location: "https://scihub.example/odata/v1/Products('uuid-1')/$value",
			}},
			clientErr:    &eodata.ProviderError{Status: http.StatusNotFound, Reason: "Not Found"},
			wantRequests: true,
		},

		"Error on unknown provider": {
			provider:     "unknown",
			records:      []eodata.ProductRecord{{Name: productName}},
			wantBuildErr: downloads.ErrUnknownProvider,
		},
		"Error on provider without download layout": {
			provider:     "peps",
			records:      []eodata.ProductRecord{{Name: productName}},
			wantBuildErr: eodata.ErrParameter,
		},
		"Error on copy mode without archive": {
			provider:     "copy",
			records:      []eodata.ProductRecord{{Name: productName}},
			wantBuildErr: eodata.ErrParameter,
		},
		"Error when credentials are rejected": {
			provider:     "aws",
			records:      []eodata.ProductRecord{{Name: productName}, {Name: "S2B_MSIL1C_20220106T093321_N0301_R136_T34TFS_20220106T113427"}},
			clientErr:    eodata.ErrAuthentication,
			wantRunErr:   eodata.ErrAuthentication,
			wantRequests: true,
		},
		"Error when cancelled": {
			provider:   "aws",
			records:    []eodata.ProductRecord{{Name: productName}},
			clientErr:  context.Canceled,
			cancelled:  true,
			wantRunErr: context.Canceled,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			item := downloads.Item{ProviderID: tc.provider, Destination: t.TempDir()}
			for _, r := range tc.records {
				require.NoError(t, item.SetRecord(r), "Setup: could not add record")
			}

			client := &statusClient{err: tc.clientErr}
			b := service.NewBuilder(testProviders, creds{"aws": {User: "u", Password: "p"}}, client, nil, nil)

			task, err := b.Task(item)
			if tc.wantBuildErr != nil {
				require.ErrorIs(t, err, tc.wantBuildErr, "Task should fail")
				return
			}
			require.NoError(t, err, "Task should not fail")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancelled {
				cancel()
			}

			err = task(ctx)
			if tc.wantRunErr != nil {
				require.ErrorIs(t, err, tc.wantRunErr, "Task run should fail")
			} else {
				require.NoError(t, err, "Task run should not fail")
			}
			if tc.wantRequests {
				assert.NotEmpty(t, client.urls, "Task should have requested the provider")
			}
		})
	}
}

func TestTaskRunsEveryProduct(t *testing.T) {
	t.Parallel()

	item := downloads.Item{ProviderID: "aws", Destination: t.TempDir()}
	require.NoError(t, item.SetRecord(eodata.ProductRecord{Name: productName}), "Setup: could not add record")
	require.NoError(t, item.SetRecord(eodata.ProductRecord{Name: "S2B_MSIL1C_20220106T093321_N0301_R136_T34TFS_20220106T113427"}), "Setup: could not add record")

	client := &statusClient{err: errors.New("requested error")}
	task, err := service.NewBuilder(testProviders, nil, client, nil, nil).Task(item)
	require.NoError(t, err, "Task should not fail")

	err = task(context.Background())
	require.Error(t, err, "Task run should fail")

	var first, second bool
	for _, u := range client.urls {
		first = first || strings.Contains(u, "2022/1/5")
		second = second || strings.Contains(u, "2022/1/6")
	}
	assert.True(t, first && second, "Every product should be tried, got %v", client.urls)
}

func TestTaskFromArchive(t *testing.T) {
	t.Parallel()

	archive := t.TempDir()
	date := time.Date(2022, 1, 5, 9, 33, 21, 0, time.UTC)
	src := filepath.Join(archive, "2022", "01", "05", productName+".SAFE")
	testutils.WriteFile(t, filepath.Join(src, "MTD_MSIL1C.xml"), []byte("<metadata/>"))
	testutils.WriteFile(t, filepath.Join(src, "GRANULE", "L1C_T34TFS", "MTD_TL.xml"), []byte("<tile/>"))

	dest := t.TempDir()
	item := downloads.Item{ProviderID: "copy", Destination: dest, LocalArchive: "file://" + filepath.ToSlash(archive)}
	require.NoError(t, item.SetRecord(eodata.ProductRecord{Name: productName, AcquisitionDate: date}), "Setup: could not add record")

	client := &statusClient{err: errors.New("remote should not be used")}
	task, err := service.NewBuilder(testProviders, nil, client, nil, nil).Task(item)
	require.NoError(t, err, "Task should not fail")
	require.NoError(t, task(context.Background()), "Task run should not fail")

	assert.Empty(t, client.urls, "Archived product should not be downloaded")
	got, err := os.ReadFile(filepath.Join(dest, productName+".SAFE", "GRANULE", "L1C_T34TFS", "MTD_TL.xml"))
	require.NoError(t, err, "Archived file should be copied")
	assert.Equal(t, "<tile/>", string(got), "Copied file should match the archive")
}

func TestRestore(t *testing.T) {
	t.Parallel()

	item := downloads.Item{ProviderID: "unknown", Destination: t.TempDir()}
	require.NoError(t, item.SetRecord(eodata.ProductRecord{Name: productName}), "Setup: could not add record")

	_, err := service.NewBuilder(testProviders, nil, &statusClient{}, nil, nil).Restore(context.Background(), item)
	require.ErrorIs(t, err, downloads.ErrUnknownProvider, "Restore should fail for a removed provider")
}
