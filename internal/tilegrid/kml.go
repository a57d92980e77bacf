package tilegrid

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"gopkg.in/yaml.v3"
)

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// FromKML builds a grid from the KML tiling grids published for Sentinel-2 (MGRS) and Landsat 8 (WRS-2).
//
// Each Placemark is a tile. Its code is the zero padded PATH and ROW extended data when present,
// and the Placemark name otherwise. Its rectangle bounds every coordinate of its geometries.
func FromKML(r io.Reader) (*Grid, error) {
	d := xml.NewDecoder(r)
	g := &Grid{tiles: make(map[string]eodata.BBox)}

	var (
		in              bool
		name, path, row string
		box             eodata.BBox
		hasBox          bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not decode KML: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "Placemark":
				in, name, path, row, hasBox = true, "", "", "", false
			case !in:
			case t.Name.Local == "name" && name == "":
				if err := d.DecodeElement(&name, &t); err != nil {
					return nil, fmt.Errorf("could not decode placemark name: %v", err)
				}
			case t.Name.Local == "SimpleData":
				var sd kmlData
				if err := d.DecodeElement(&sd, &t); err != nil {
					return nil, fmt.Errorf("could not decode placemark data: %v", err)
				}
				switch strings.ToUpper(sd.Name) {
				case "PATH":
					path = strings.TrimSpace(sd.Value)
				case "ROW":
					row = strings.TrimSpace(sd.Value)
				}
			case t.Name.Local == "coordinates":
				var raw string
				if err := d.DecodeElement(&raw, &t); err != nil {
					return nil, fmt.Errorf("could not decode coordinates: %v", err)
				}
				b, err := boundsOf(raw)
				if err != nil {
					return nil, fmt.Errorf("placemark %q: %v", name, err)
				}
				if hasBox {
					box = box.Union(b)
				} else {
					box, hasBox = b, true
				}
			}

		case xml.EndElement:
			if t.Name.Local != "Placemark" || !in {
				continue
			}
			in = false
			code, err := placemarkCode(name, path, row)
			if err != nil {
				return nil, err
			}
			if !hasBox {
				return nil, fmt.Errorf("tile %s has no geometry", code)
			}
			if _, dup := g.tiles[code]; dup {
				return nil, fmt.Errorf("tile %s is defined more than once", code)
			}
			g.tiles[code] = box
			g.codes = append(g.codes, code)
		}
	}

	if len(g.codes) == 0 {
		return nil, errors.New("KML document has no placemark")
	}
	slices.Sort(g.codes)
	return g, nil
}

func placemarkCode(name, path, row string) (string, error) {
	if path == "" && row == "" {
		if code := Normalize(name); code != "" {
			return code, nil
		}
		return "", errors.New("placemark has neither name nor PATH/ROW data")
	}
	p, err := strconv.Atoi(path)
	if err != nil {
		return "", fmt.Errorf("invalid PATH %q: %v", path, err)
	}
	r, err := strconv.Atoi(row)
	if err != nil {
		return "", fmt.Errorf("invalid ROW %q: %v", row, err)
	}
	return fmt.Sprintf("%03d%03d", p, r), nil
}

// boundsOf returns the rectangle of a KML coordinates list: "lon,lat[,alt] lon,lat[,alt] ...".
func boundsOf(raw string) (eodata.BBox, error) {
	var b eodata.BBox
	points := strings.Fields(raw)
	if len(points) == 0 {
		return b, errors.New("empty coordinates")
	}
	for i, pt := range points {
		parts := strings.Split(pt, ",")
		if len(parts) < 2 {
			return b, fmt.Errorf("invalid point %q", pt)
		}
		x, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return b, fmt.Errorf("invalid longitude %q: %v", parts[0], err)
		}
		y, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return b, fmt.Errorf("invalid latitude %q: %v", parts[1], err)
		}
		if i == 0 {
			b = eodata.BBox{MinX: x, MinY: y, MaxX: x, MaxY: y}
			continue
		}
		b.MinX, b.MaxX = min(b.MinX, x), max(b.MaxX, x)
		b.MinY, b.MaxY = min(b.MinY, y), max(b.MaxY, y)
	}
	return b, nil
}

// WriteYAML writes the grid as a tile table that Load reads back.
func (g *Grid) WriteYAML(w io.Writer) error {
	tiles := &yaml.Node{Kind: yaml.MappingNode}
	for _, code := range g.codes {
		b := g.tiles[code]
		rect := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
			rect.Content = append(rect.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(v, 'f', -1, 64)})
		}
		tiles.Content = append(tiles.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: code}, rect)
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "tiles"}, tiles,
	}}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("could not encode tile table: %v", err)
	}
	return enc.Close()
}
