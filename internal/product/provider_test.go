package product_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	productName = "S2A_MSIL1C_20220105T093321_N0301_R136_T34TFS_20220105T113427"
	productPath = "products/2022/1/5/" + productName
	datastripID = "S2A_OPER_MSI_L1C_DS_VGS2_20220105T113427_S20220105T093322_N03.01"
)

var granules = map[string]struct {
	folder string
	path   string
}{
	"34TFS": {folder: "L1C_T34TFS_A034085_20220105T093322", path: "tiles/34/T/FS/2022/1/5/0"},
	"34UFA": {folder: "L1C_T34UFA_A034085_20220105T093322", path: "tiles/34/U/FA/2022/1/5/0"},
}

var l1cBands = []string{"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B08", "B8A", "B09", "B10", "B11", "B12"}

// fakeProvider serves objects by path and records the requests it receives.
type fakeProvider struct {
	*httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	statuses map[string]int
	requests []string
	ranges   map[string]string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		objects:  make(map[string][]byte),
		statuses: make(map[string]int),
		ranges:   make(map[string]string),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) put(key, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = []byte(content)
}

// answer makes every request of key return status.
func (p *fakeProvider) answer(key string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[key] = status
}

func (p *fakeProvider) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

func (p *fakeProvider) rangeOf(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ranges[key]
}

var odataNode = regexp.MustCompile(`Nodes\('([^']*)'\)`)

// key returns the object key of a request. OData node paths map to the SAFE relative path.
func key(r *http.Request) string {
	if nodes := odataNode.FindAllStringSubmatch(r.URL.Path, -1); nodes != nil {
		var parts []string
		for _, n := range nodes[1:] {
			parts = append(parts, n[1])
		}
		return strings.Join(parts, "/")
	}
	return strings.TrimPrefix(r.URL.Path, "/")
}

func (p *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	k := key(r)

	p.mu.Lock()
	p.requests = append(p.requests, k)
	if rg := r.Header.Get("Range"); rg != "" {
		p.ranges[k] = rg
	}
	status, forced := p.statuses[k]
	data, ok := p.objects[k]
	p.mu.Unlock()

	if forced {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<Error><Code>NoSuchKey</Code></Error>")
		return
	}

	if rg := r.Header.Get("Range"); rg != "" {
		start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rg, "bytes="), "-"))
		if err != nil || start >= len(data) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)-start))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[start:])
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// readTestdata returns the content of a testdata file, with granule placeholders replaced.
func readTestdata(t *testing.T, name, granule string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "Setup: could not read testdata")
	return strings.ReplaceAll(string(data), "{granule}", granule)
}

// addAWSProduct fills the provider with the complete product laid out as in the public bucket.
func (p *fakeProvider) addAWSProduct(t *testing.T) {
	t.Helper()

	p.put(productPath+"/productInfo.json", fmt.Sprintf(`{
		"name": %q,
		"tiles": [{"path": %q}, {"path": %q}],
		"datastrips": [{"id": %q, "path": %q}]
	}`, productName, granules["34TFS"].path, granules["34UFA"].path, datastripID, productPath+"/datastrip/0"))
	p.put(productPath+"/metadata.xml", readTestdata(t, "MTD_MSIL1C.xml", ""))
	p.put(productPath+"/inspire.xml", "<inspire/>")
	p.put(productPath+"/manifest.safe", "<manifest/>")
	p.put(productPath+"/datastrip/0/metadata.xml", "<datastrip/>")

	for _, g := range granules {
		p.put(g.path+"/metadata.xml", readTestdata(t, "MTD_TL.xml", g.folder))
		for _, b := range l1cBands {
			p.put(g.path+"/"+b+".jp2", "jp2 "+g.folder+" "+b)
		}
		p.put(g.path+"/qi/MSK_CLOUDS_B00.gml", "<clouds/>")
		p.put(g.path+"/qi/MSK_DETFOO_B01.gml", "<detfoo/>")
	}
}

// addSciHubProduct fills the provider with the product addressed by its SAFE relative paths.
func (p *fakeProvider) addSciHubProduct(t *testing.T) {
	t.Helper()

	p.put("MTD_MSIL1C.xml", readTestdata(t, "MTD_MSIL1C.xml", ""))
	p.put("INSPIRE.xml", "<inspire/>")
	p.put("manifest.safe", "<manifest/>")
	p.put("DATASTRIP/DS_VGS2_20220105T113427_S20220105T093322/MTD_DS.xml", "<datastrip/>")
	for code, g := range granules {
		dir := "GRANULE/" + g.folder
		p.put(dir+"/MTD_TL.xml", readTestdata(t, "MTD_TL.xml", g.folder))
		for _, b := range l1cBands {
			p.put(dir+"/IMG_DATA/T"+code+"_20220105T093321_"+b+".jp2", "jp2 "+g.folder+" "+b)
		}
		p.put(dir+"/QI_DATA/MSK_CLOUDS_B00.gml", "<clouds/>")
		p.put(dir+"/QI_DATA/MSK_DETFOO_B01.gml", "<detfoo/>")
	}
}
