package eodata

import (
	"fmt"
	"time"
)

// ParamType is the type of a query parameter value.
type ParamType int

const (
	// TypeString is a free text value.
	TypeString ParamType = iota
	// TypeNumber is a float64 value.
	TypeNumber
	// TypeDate is a time.Time value.
	TypeDate
	// TypeGeometry is a Polygon value.
	TypeGeometry
	// TypeArray is a []string value.
	TypeArray
)

func (t ParamType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeDate:
		return "date"
	case TypeGeometry:
		return "geometry"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("ParamType(%d)", int(t))
	}
}

// Parameter is a named, typed query parameter holding either a single value or a min/max interval.
type Parameter struct {
	Name     string
	Type     ParamType
	Optional bool

	Value any
	Min   any
	Max   any
}

// String returns a single valued string parameter.
func String(name, value string) Parameter {
	return Parameter{Name: name, Type: TypeString, Value: value}
}

// Number returns a single valued number parameter.
func Number(name string, value float64) Parameter {
	return Parameter{Name: name, Type: TypeNumber, Value: value}
}

// NumberRange returns a number interval parameter.
func NumberRange(name string, minValue, maxValue float64) Parameter {
	return Parameter{Name: name, Type: TypeNumber, Min: minValue, Max: maxValue}
}

// Date returns a single valued date parameter.
func Date(name string, value time.Time) Parameter {
	return Parameter{Name: name, Type: TypeDate, Value: value}
}

// DateRange returns a date interval parameter. A zero bound is treated as absent.
func DateRange(name string, from, to time.Time) Parameter {
	p := Parameter{Name: name, Type: TypeDate}
	if !from.IsZero() {
		p.Min = from
	}
	if !to.IsZero() {
		p.Max = to
	}
	return p
}

// Array returns an array parameter.
func Array(name string, values ...string) Parameter {
	return Parameter{Name: name, Type: TypeArray, Value: values}
}

// Geometry returns a geometry parameter.
func Geometry(name string, value Polygon) Parameter {
	return Parameter{Name: name, Type: TypeGeometry, Value: value}
}

// IsInterval reports whether the parameter carries at least one interval bound.
func (p Parameter) IsInterval() bool {
	return p.Min != nil || p.Max != nil
}

// HasValue reports whether the parameter carries a single value.
func (p Parameter) HasValue() bool {
	switch v := p.Value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []string:
		return len(v) > 0
	case time.Time:
		return !v.IsZero()
	case Polygon:
		return len(v.Rings) > 0
	default:
		return true
	}
}

// Validate checks that a required parameter carries a value.
// An interval parameter is satisfied when either bound is present.
func (p Parameter) Validate() error {
	if p.IsInterval() || p.HasValue() || p.Optional {
		return nil
	}
	return ParameterErrorf("required parameter %q has no value", p.Name)
}

// Parameters is an ordered set of query parameters.
type Parameters []Parameter

// Get returns the parameter with the given name.
func (ps Parameters) Get(name string) (Parameter, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Set adds a parameter, replacing any parameter with the same name.
func (ps *Parameters) Set(p Parameter) {
	for i := range *ps {
		if (*ps)[i].Name == p.Name {
			(*ps)[i] = p
			return
		}
	}
	*ps = append(*ps, p)
}
