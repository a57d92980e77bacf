package catalog_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/catalog"
	"github.com/ubuntu/eofetch/internal/eodata"
	"golang.org/x/text/encoding/unicode"
)

func TestParseSolrFeed(t *testing.T) {
	t.Parallel()

	page, err := os.ReadFile(filepath.Join("testdata", "scihub_page.xml"))
	require.NoError(t, err, "Setup: could not read feed")

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes(page)
	require.NoError(t, err, "Setup: could not encode feed")

	tests := map[string]struct {
		data []byte

		wantTotal   int
		wantRecords int
		wantErr     bool
	}{
		"Atom feed":                   {data: page, wantTotal: 42, wantRecords: 2},
		"UTF-8 byte order mark":       {data: append([]byte("\xef\xbb\xbf"), page...), wantTotal: 42, wantRecords: 2},
		"UTF-16 with byte order mark": {data: utf16, wantTotal: 42, wantRecords: 2},
		"Empty feed": {
			data:      []byte(`<feed xmlns="http://www.w3.org/2005/Atom"><totalResults>0</totalResults></feed>`),
			wantTotal: 0,
		},
		"Feed without total": {
			data:        []byte(`<feed><entry><id>1</id><title>A</title></entry></feed>`),
			wantTotal:   -1,
			wantRecords: 1,
		},

		"Error on malformed feed":       {data: []byte(`<feed><entry>`), wantErr: true},
		"Error on entry without id":     {data: []byte(`<feed><entry><title>A</title></entry></feed>`), wantErr: true},
		"Error on invalid date":         {data: []byte(`<feed><entry><id>1</id><title>A</title><date name="beginposition">yesterday</date></entry></feed>`), wantErr: true},
		"Error on invalid total":        {data: []byte(`<feed><totalResults>many</totalResults></feed>`), wantErr: true},
		"Error on unsupported encoding": {data: []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><feed></feed>`), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := catalog.ParseSolrFeed(bytes.NewReader(tc.data))
			if tc.wantErr {
				require.ErrorIs(t, err, eodata.ErrProvider, "ParseSolrFeed should fail with a provider error")
				return
			}
			require.NoError(t, err, "ParseSolrFeed should not fail")
			assert.Equal(t, tc.wantTotal, got.Total, "ParseSolrFeed should read the total")
			assert.Len(t, got.Records, tc.wantRecords, "ParseSolrFeed should return every entry")
		})
	}
}

func TestParseSolrFeedRecord(t *testing.T) {
	t.Parallel()

	f, err := os.Open(filepath.Join("testdata", "scihub_page.xml"))
	require.NoError(t, err, "Setup: could not open feed")
	defer f.Close()

	page, err := catalog.ParseSolrFeed(f)
	require.NoError(t, err, "ParseSolrFeed should not fail")
	require.Len(t, page.Records, 2, "ParseSolrFeed should return every entry")

	r := page.Records[0]
	assert.Equal(t, "a1b2c3d4-0001", r.ID)
	assert.Equal(t, "S2A_MSIL1C_20220105T093321_N0301_R136_T34UFA_20220105T113427", r.Name)
	assert.Equal(t, time.Date(2022, 1, 5, 9, 33, 21, 24_000_000, time.UTC), r.AcquisitionDate)
	assert.True(t, strings.HasPrefix(r.Footprint, "POLYGON"), "Footprint should be the WKT footprint")
	assert.Equal(t, "https://scihub.example.org/dhus/odata/v1/Products('a1b2c3d4-0001')/$value", r.Location, "Location should be the download link")
	assert.Equal(t, "S2MSI1C", r.ProductType)
	assert.Equal(t, "Sentinel-2", r.Sensor)

	cc, ok := r.CloudCover()
	require.True(t, ok, "Cloud cover should be an attribute")
	assert.InDelta(t, 12.5, cc, 1e-9)
	orbit, _ := r.Attribute(eodata.AttrRelativeOrbit)
	assert.Equal(t, "136", orbit)
	tile, _ := r.Attribute(eodata.AttrTileID)
	assert.Equal(t, "34UFA", tile)
	_, ok = r.Attribute("gmlfootprint")
	assert.False(t, ok, "GML footprint should not be kept")

	assert.Empty(t, page.Records[1].Footprint, "Missing footprint should stay empty")
}
