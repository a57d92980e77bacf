package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/fileutils"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

// restoDateLayout is the date format of resto search windows.
const restoDateLayout = "2006-01-02T15:04:05Z"

type peps struct {
	endpoint string
	sensor   eodata.Sensor
	descs    []ParamDescriptor
}

func newPEPS(base string, sensor eodata.Sensor) *peps {
	collection := "S2ST"
	descs := []ParamDescriptor{
		{Name: ParamProductType, Type: eodata.TypeArray},
		{Name: ParamAcquisition, Type: eodata.TypeDate},
		{Name: ParamFootprint, Remote: "box", Type: eodata.TypeGeometry},
		{Name: ParamRelativeOrbit, Remote: "relativeOrbitNumber", Type: eodata.TypeNumber},
		{Name: ParamCloudCover, Type: eodata.TypeNumber},
	}
	if sensor == eodata.Sentinel1 {
		collection = "S1"
		descs = append(descs,
			ParamDescriptor{Name: ParamPolarisation, Remote: "polarisation", Type: eodata.TypeString},
			ParamDescriptor{Name: ParamSensorMode, Remote: "sensorMode", Type: eodata.TypeString},
		)
	} else {
		descs = append(descs, ParamDescriptor{Name: ParamTile, Remote: "tileid", Type: eodata.TypeString})
	}

	return &peps{
		endpoint: base + "/api/collections/" + collection + "/search.json",
		sensor:   sensor,
		descs:    descs,
	}
}

func (s *peps) Sensor() eodata.Sensor          { return s.sensor }
func (s *peps) Descriptors() []ParamDescriptor { return s.descs }
func (s *peps) FiltersCloudCover() bool        { return false }

// BuildRequest pages by page number, so every page but a count request asks for the nominal size.
func (s *peps) BuildRequest(params eodata.Parameters, page PageRequest) (string, url.Values, error) {
	v := url.Values{}
	size := page.Size
	if size <= 0 {
		size = 1
	}
	v.Set("maxRecords", strconv.Itoa(size))
	v.Set("page", strconv.Itoa(max(page.Number, 1)))

	for _, p := range params {
		if !p.HasValue() && !p.IsInterval() {
			continue
		}
		switch p.Name {
		case ParamProductType:
			types, _ := p.Value.([]string)
			if len(types) != 1 {
				return "", nil, eodata.ParameterErrorf("parameter %q: exactly one product type is supported, got %d", p.Name, len(types))
			}
			v.Set("productType", types[0])
		case ParamAcquisition:
			from, to := p.Min, p.Max
			if !p.IsInterval() {
				from = p.Value
			}
			if t, ok := from.(time.Time); ok && !t.IsZero() {
				v.Set("startDate", t.UTC().Format(restoDateLayout))
			}
			if t, ok := to.(time.Time); ok && !t.IsZero() {
				v.Set("completionDate", t.UTC().Format(restoDateLayout))
			}
		case ParamFootprint:
			poly, ok := p.Value.(eodata.Polygon)
			if !ok {
				return "", nil, eodata.ParameterErrorf("parameter %q: expected a polygon, got %T", p.Name, p.Value)
			}
			b := poly.BBox()
			v.Set("box", fmt.Sprintf("%s,%s,%s,%s", formatBound(b.MinX), formatBound(b.MinY), formatBound(b.MaxX), formatBound(b.MaxY)))
		case ParamTile:
			v.Set("tileid", tilegrid.Normalize(fmt.Sprint(p.Value)))
		case ParamCloudCover:
			// Applied on the results.
		default:
			for _, d := range s.descs {
				if d.Name == p.Name {
					v.Set(d.remote(), formatBound(p.Value))
				}
			}
		}
	}
	return s.endpoint, v, nil
}

type restoFeed struct {
	Properties struct {
		TotalResults *int `json:"totalResults"`
	} `json:"properties"`
	Features []restoFeature `json:"features"`
}

type restoFeature struct {
	ID       string `json:"id"`
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Title               string   `json:"title"`
		StartDate           string   `json:"startDate"`
		CloudCover          *float64 `json:"cloudCover"`
		ProductType         string   `json:"productType"`
		Platform            string   `json:"platform"`
		RelativeOrbitNumber *int     `json:"relativeOrbitNumber"`
		TileID              string   `json:"tileid"`
		Services            struct {
			Download struct {
				URL  string `json:"url"`
				Size int64  `json:"size"`
			} `json:"download"`
		} `json:"services"`
	} `json:"properties"`
}

func (s *peps) ParsePage(r io.Reader) (Page, error) {
	var feed restoFeed
	if err := fileutils.ParseJSON(r, &feed); err != nil {
		return Page{}, fmt.Errorf("%w: %v", eodata.ErrProvider, err)
	}

	page := Page{Total: -1}
	if feed.Properties.TotalResults != nil {
		page.Total = *feed.Properties.TotalResults
	}
	for _, f := range feed.Features {
		rec, err := f.record(s.sensor)
		if err != nil {
			return Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func (f restoFeature) record(sensor eodata.Sensor) (eodata.ProductRecord, error) {
	p := f.Properties
	if f.ID == "" || p.Title == "" {
		return eodata.ProductRecord{}, fmt.Errorf("%w: feature without identity", eodata.ErrProvider)
	}
	rec := eodata.ProductRecord{
		ID:          f.ID,
		Name:        p.Title,
		ProductType: p.ProductType,
		Sensor:      string(sensor),
		Location:    p.Services.Download.URL,
	}

	if p.StartDate != "" {
		d, err := time.Parse(time.RFC3339Nano, p.StartDate)
		if err != nil {
			return rec, fmt.Errorf("%w: invalid acquisition date %q", eodata.ErrProvider, p.StartDate)
		}
		rec.AcquisitionDate = d.UTC()
	}

	if poly, ok := f.polygon(); ok {
		rec.Footprint = poly.WKT()
	}

	if p.Platform != "" {
		rec.SetAttribute(eodata.AttrPlatform, p.Platform)
	}
	if p.CloudCover != nil {
		rec.SetAttribute(eodata.AttrCloudCover, strconv.FormatFloat(*p.CloudCover, 'f', -1, 64))
	}
	if p.RelativeOrbitNumber != nil {
		rec.SetAttribute(eodata.AttrRelativeOrbit, strconv.Itoa(*p.RelativeOrbitNumber))
	}
	if p.TileID != "" {
		rec.SetAttribute(eodata.AttrTileID, p.TileID)
	}
	if p.Services.Download.Size > 0 {
		rec.SetAttribute(eodata.AttrSize, strconv.FormatInt(p.Services.Download.Size, 10))
	}
	return rec, nil
}

// polygon returns the footprint of the feature. Only the first polygon of a multi polygon is kept.
func (f restoFeature) polygon() (eodata.Polygon, bool) {
	var coords [][][]float64
	switch f.Geometry.Type {
	case "Polygon":
		if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
			return eodata.Polygon{}, false
		}
	case "MultiPolygon":
		var multi [][][][]float64
		if err := json.Unmarshal(f.Geometry.Coordinates, &multi); err != nil || len(multi) == 0 {
			return eodata.Polygon{}, false
		}
		coords = multi[0]
	default:
		return eodata.Polygon{}, false
	}
	poly, err := eodata.PolygonFromCoordinates(coords)
	if err != nil {
		return eodata.Polygon{}, false
	}
	return poly, true
}
