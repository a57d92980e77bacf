// Package eodata holds the data model shared by the catalog, discovery and download components:
// product records, query parameters, geometries and the error taxonomy.
package eodata

import (
	"strconv"
	"time"
)

// Attribute is a single named product attribute.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Common attribute names.
const (
	AttrCloudCover    = "cloudcoverpercentage"
	AttrRelativeOrbit = "relativeorbitnumber"
	AttrTileID        = "tileid"
	AttrProductPath   = "path"
	AttrSize          = "size"
	AttrPlatform      = "platformname"
)

// ProductRecord describes one remote product.
// ID and Name are the product identity and never change after creation.
type ProductRecord struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	AcquisitionDate time.Time   `json:"acquisitionDate"`
	Footprint       string      `json:"footprint,omitempty"`
	Location        string      `json:"location,omitempty"`
	ProductType     string      `json:"productType,omitempty"`
	Sensor          string      `json:"sensor,omitempty"`
	Attributes      []Attribute `json:"attributes,omitempty"`
	Files           []string    `json:"files,omitempty"`
}

// Attribute returns the value of the named attribute.
func (p ProductRecord) Attribute(name string) (string, bool) {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttribute sets the named attribute, replacing any previous value.
func (p *ProductRecord) SetAttribute(name, value string) {
	for i, a := range p.Attributes {
		if a.Name == name {
			p.Attributes[i].Value = value
			return
		}
	}
	p.Attributes = append(p.Attributes, Attribute{Name: name, Value: value})
}

// CloudCover returns the cloud cover percentage of the product, if known.
func (p ProductRecord) CloudCover() (float64, bool) {
	v, ok := p.Attribute(AttrCloudCover)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
