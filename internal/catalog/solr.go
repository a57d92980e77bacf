package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// solrDateLayout is the date format understood by Solr range queries.
const solrDateLayout = "2006-01-02T15:04:05.000Z"

// BuildSolrQuery AND-combines one clause per supplied parameter.
// Parameters must already have been resolved against descs.
func BuildSolrQuery(descs []ParamDescriptor, params eodata.Parameters) (string, error) {
	byName := make(map[string]ParamDescriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	var clauses []string
	for _, p := range params {
		if p.Optional && !p.HasValue() && !p.IsInterval() {
			continue
		}
		d, ok := byName[p.Name]
		if !ok {
			return "", eodata.ParameterErrorf("unsupported parameter %q", p.Name)
		}

		var c string
		if d.clause != nil {
			c = d.clause(d.remote(), p)
		} else {
			var err error
			if c, err = clause(d.remote(), p); err != nil {
				return "", err
			}
		}
		if c != "" {
			clauses = append(clauses, c)
		}
	}
	return strings.Join(clauses, " AND "), nil
}

func clause(name string, p eodata.Parameter) (string, error) {
	switch p.Type {
	case eodata.TypeArray:
		values, ok := p.Value.([]string)
		if !ok {
			return "", eodata.ParameterErrorf("parameter %q: expected a list of strings, got %T", p.Name, p.Value)
		}
		terms := make([]string, 0, len(values))
		for _, v := range values {
			terms = append(terms, name+":"+quote(v))
		}
		return "(" + strings.Join(terms, " OR ") + ")", nil

	case eodata.TypeDate:
		if !p.IsInterval() {
			return fmt.Sprintf("%s:[%s TO NOW]", name, formatBound(p.Value)), nil
		}
		return fmt.Sprintf("%s:[%s TO %s]", name, formatBound(p.Min), formatBound(p.Max)), nil

	case eodata.TypeNumber:
		if p.IsInterval() {
			return fmt.Sprintf("%s:[%s TO %s]", name, formatBound(p.Min), formatBound(p.Max)), nil
		}
		return name + ":" + formatBound(p.Value), nil

	case eodata.TypeGeometry:
		poly, ok := p.Value.(eodata.Polygon)
		if !ok {
			return "", eodata.ParameterErrorf("parameter %q: expected a polygon, got %T", p.Name, p.Value)
		}
		return fmt.Sprintf("%s:\"Intersects(%s)\"", name, poly.WKT()), nil

	default:
		return name + ":" + quote(fmt.Sprint(p.Value)), nil
	}
}

// formatBound renders a single value or interval bound. A missing bound is open ended.
func formatBound(v any) string {
	switch v := v.(type) {
	case nil:
		return "*"
	case time.Time:
		if v.IsZero() {
			return "*"
		}
		return v.UTC().Format(solrDateLayout)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t") {
		return strconv.Quote(s)
	}
	return s
}
