package catalog

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// Kind is the protocol family of a catalog provider.
type Kind string

// Supported catalog kinds.
const (
	KindSciHub Kind = "scihub"
	KindPEPS   Kind = "peps"
)

// PageRequest locates one page of results.
type PageRequest struct {
	// Number is the 1-based page number.
	Number int
	// Offset is the 0-based index of the first row.
	Offset int
	// Rows is the number of rows wanted on this page.
	Rows int
	// Size is the nominal page size.
	Size int
}

// Page is one parsed page of results.
type Page struct {
	Records []eodata.ProductRecord
	// Total is the number of results the provider reports for the whole query, or -1 when unknown.
	Total int
}

// Strategy builds provider requests and parses provider responses for one sensor.
type Strategy interface {
	// Sensor returns the sensor the strategy queries.
	Sensor() eodata.Sensor
	// Descriptors returns the parameters accepted by the provider.
	Descriptors() []ParamDescriptor
	// BuildRequest returns the endpoint and query string for one page. Params are already resolved.
	BuildRequest(params eodata.Parameters, page PageRequest) (string, url.Values, error)
	// ParsePage decodes one response body.
	ParsePage(r io.Reader) (Page, error)
	// FiltersCloudCover reports whether the cloud cover threshold is applied by the provider.
	FiltersCloudCover() bool
}

// NewStrategy returns the strategy for the given provider kind and sensor.
func NewStrategy(kind Kind, sensor eodata.Sensor, baseURL string) (Strategy, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid catalog URL %q", baseURL)
	}
	base := strings.TrimSuffix(u.String(), "/")

	switch kind {
	case KindSciHub:
		switch sensor {
		case eodata.Sentinel1, eodata.Sentinel2, eodata.Sentinel3:
			return newSciHub(base, sensor), nil
		}
	case KindPEPS:
		switch sensor {
		case eodata.Sentinel1, eodata.Sentinel2:
			return newPEPS(base, sensor), nil
		}
	default:
		return nil, fmt.Errorf("unknown catalog kind %q", kind)
	}
	return nil, fmt.Errorf("catalog kind %q does not support sensor %s", kind, sensor)
}
