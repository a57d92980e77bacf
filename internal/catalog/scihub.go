package catalog

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

type sciHub struct {
	endpoint string
	sensor   eodata.Sensor
	descs    []ParamDescriptor
}

func newSciHub(base string, sensor eodata.Sensor) *sciHub {
	descs := []ParamDescriptor{
		{Name: ParamPlatform, Remote: "platformname", Type: eodata.TypeString, Required: true, Default: string(sensor)},
		{Name: ParamProductType, Remote: "producttype", Type: eodata.TypeArray},
		{Name: ParamAcquisition, Remote: "beginposition", Type: eodata.TypeDate},
		{Name: ParamFootprint, Remote: "footprint", Type: eodata.TypeGeometry},
		{Name: ParamRelativeOrbit, Remote: "relativeorbitnumber", Type: eodata.TypeNumber},
	}

	switch sensor {
	case eodata.Sentinel1:
		descs = append(descs,
			ParamDescriptor{Name: ParamPolarisation, Remote: "polarisationmode", Type: eodata.TypeString},
			ParamDescriptor{Name: ParamSensorMode, Remote: "sensoroperationalmode", Type: eodata.TypeString},
			ParamDescriptor{Name: ParamCloudCover, Type: eodata.TypeNumber, clause: skipClause},
		)
	case eodata.Sentinel2:
		descs = append(descs,
			ParamDescriptor{Name: ParamCloudCover, Remote: "cloudcoverpercentage", Type: eodata.TypeNumber, clause: thresholdClause},
			ParamDescriptor{Name: ParamTile, Remote: "filename", Type: eodata.TypeString, clause: tileClause},
		)
	default:
		descs = append(descs, ParamDescriptor{Name: ParamCloudCover, Type: eodata.TypeNumber, clause: skipClause})
	}

	return &sciHub{
		endpoint: base + "/search",
		sensor:   sensor,
		descs:    descs,
	}
}

func (s *sciHub) Sensor() eodata.Sensor          { return s.sensor }
func (s *sciHub) Descriptors() []ParamDescriptor { return s.descs }
func (s *sciHub) FiltersCloudCover() bool        { return s.sensor == eodata.Sentinel2 }

func (s *sciHub) BuildRequest(params eodata.Parameters, page PageRequest) (string, url.Values, error) {
	q, err := BuildSolrQuery(s.descs, params)
	if err != nil {
		return "", nil, err
	}
	return s.endpoint, url.Values{
		"q":       {q},
		"rows":    {strconv.Itoa(page.Rows)},
		"start":   {strconv.Itoa(page.Offset)},
		"orderby": {"beginposition asc"},
	}, nil
}

func (s *sciHub) ParsePage(r io.Reader) (Page, error) {
	return ParseSolrFeed(r)
}

func skipClause(string, eodata.Parameter) string { return "" }

// thresholdClause renders a single cloud cover value as an inclusive upper bound.
func thresholdClause(remote string, p eodata.Parameter) string {
	if p.IsInterval() {
		return fmt.Sprintf("%s:[%s TO %s]", remote, formatBound(p.Min), formatBound(p.Max))
	}
	return fmt.Sprintf("%s:[0 TO %s]", remote, formatBound(p.Value))
}

func tileClause(remote string, p eodata.Parameter) string {
	return fmt.Sprintf("%s:*_T%s_*", remote, tilegrid.Normalize(fmt.Sprint(p.Value)))
}
