package catalog

import (
	"github.com/ubuntu/eofetch/internal/eodata"
)

// Logical parameter names accepted by every strategy.
const (
	ParamPlatform      = "platformName"
	ParamProductType   = "productType"
	ParamAcquisition   = "beginPosition"
	ParamFootprint     = "footprint"
	ParamCloudCover    = "cloudcoverpercentage"
	ParamTile          = "tileId"
	ParamRelativeOrbit = "relativeOrbitNumber"
	ParamPolarisation  = "polarisationMode"
	ParamSensorMode    = "sensorOperationalMode"
)

// ParamDescriptor declares a parameter supported by a provider.
type ParamDescriptor struct {
	// Name is the logical name callers use.
	Name string
	// Remote is the provider side name. It defaults to Name.
	Remote   string
	Type     eodata.ParamType
	Required bool
	// Default is used when the caller does not supply the parameter.
	Default any

	// clause overrides how the parameter is rendered in a Solr query. An empty clause is skipped.
	clause func(remote string, p eodata.Parameter) string
}

func (d ParamDescriptor) remote() string {
	if d.Remote != "" {
		return d.Remote
	}
	return d.Name
}

// resolve checks params against the descriptor table and returns them in descriptor order,
// with defaults filled in. It fails before any network call on unknown, mistyped or missing parameters.
func resolve(descs []ParamDescriptor, params eodata.Parameters) (eodata.Parameters, error) {
	known := make(map[string]ParamDescriptor, len(descs))
	for _, d := range descs {
		known[d.Name] = d
	}
	for _, p := range params {
		d, ok := known[p.Name]
		if !ok {
			return nil, eodata.ParameterErrorf("unsupported parameter %q", p.Name)
		}
		if p.Type != d.Type {
			return nil, eodata.ParameterErrorf("parameter %q is a %s, got %s", p.Name, d.Type, p.Type)
		}
	}

	var resolved eodata.Parameters
	for _, d := range descs {
		p, ok := params.Get(d.Name)
		if !ok {
			if d.Default == nil && !d.Required {
				continue
			}
			p = eodata.Parameter{Name: d.Name, Type: d.Type, Value: d.Default}
		}
		p.Optional = !d.Required
		if err := p.Validate(); err != nil {
			return nil, err
		}
		resolved = append(resolved, p)
	}
	return resolved, nil
}
