package eodata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BBox is an axis aligned rectangle, in degrees.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether b and o overlap. Touching edges count as an intersection.
func (b BBox) Intersects(o BBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Union returns the smallest rectangle containing b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Valid reports whether the minimum corner is not above the maximum one.
func (b BBox) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Polygon returns the rectangle as a closed polygon.
func (b BBox) Polygon() Polygon {
	return Polygon{Rings: [][]Point{{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}, {b.MinX, b.MinY},
	}}}
}

// Point is a longitude/latitude pair.
type Point struct {
	X, Y float64
}

// Polygon is a set of outer rings. A MULTIPOLYGON is represented with one ring per member.
type Polygon struct {
	Rings [][]Point
}

// BBox returns the bounding rectangle of all the rings.
func (p Polygon) BBox() BBox {
	b := BBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, r := range p.Rings {
		for _, pt := range r {
			b.MinX = math.Min(b.MinX, pt.X)
			b.MinY = math.Min(b.MinY, pt.Y)
			b.MaxX = math.Max(b.MaxX, pt.X)
			b.MaxY = math.Max(b.MaxY, pt.Y)
		}
	}
	return b
}

// WKT returns the well known text form of the polygon.
func (p Polygon) WKT() string {
	ring := func(r []Point) string {
		pts := make([]string, 0, len(r))
		for _, pt := range r {
			pts = append(pts, formatFloat(pt.X)+" "+formatFloat(pt.Y))
		}
		return "(" + strings.Join(pts, ",") + ")"
	}

	if len(p.Rings) == 1 {
		return "POLYGON(" + ring(p.Rings[0]) + ")"
	}
	polys := make([]string, 0, len(p.Rings))
	for _, r := range p.Rings {
		polys = append(polys, "("+ring(r)+")")
	}
	return "MULTIPOLYGON(" + strings.Join(polys, ",") + ")"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseWKT parses a POLYGON or MULTIPOLYGON well known text. Inner rings (holes) are ignored.
func ParseWKT(s string) (Polygon, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	var body string
	var multi bool
	switch {
	case strings.HasPrefix(upper, "MULTIPOLYGON"):
		body, multi = s[len("MULTIPOLYGON"):], true
	case strings.HasPrefix(upper, "POLYGON"):
		body = s[len("POLYGON"):]
	default:
		return Polygon{}, fmt.Errorf("unsupported geometry %q", truncate(s, 20))
	}

	groups, err := splitGroups(strings.TrimSpace(body))
	if err != nil {
		return Polygon{}, err
	}

	var p Polygon
	if !multi {
		groups = groups[:1]
	} else {
		outer := make([]string, 0, len(groups))
		for _, g := range groups {
			rings, err := splitGroups(g)
			if err != nil {
				return Polygon{}, err
			}
			outer = append(outer, rings[0])
		}
		groups = outer
	}

	for _, g := range groups {
		if !multi {
			rings, err := splitGroups(g)
			if err != nil {
				return Polygon{}, err
			}
			g = rings[0]
		}
		ring, err := parseRing(g)
		if err != nil {
			return Polygon{}, err
		}
		p.Rings = append(p.Rings, ring)
	}
	return p, nil
}

// splitGroups returns the content of each top level parenthesised group of s, which must itself be parenthesised.
func splitGroups(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("malformed geometry near %q", truncate(s, 20))
	}
	s = s[1 : len(s)-1]

	var groups []string
	depth, start := 0, -1
	for i, c := range s {
		switch c {
		case '(':
			if depth == 0 {
				start = i
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parenthesis in geometry")
			}
			if depth == 0 {
				groups = append(groups, s[start:i+1])
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parenthesis in geometry")
	}
	if len(groups) == 0 {
		// Innermost level: s is the coordinate list itself.
		return []string{s}, nil
	}
	return groups, nil
}

func parseRing(s string) ([]Point, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	var ring []Point
	for _, pair := range strings.Split(s, ",") {
		fields := strings.Fields(pair)
		if len(fields) < 2 {
			return nil, fmt.Errorf("invalid coordinate %q", pair)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %v", pair, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %v", pair, err)
		}
		ring = append(ring, Point{X: x, Y: y})
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring has %d points, at least 3 are required", len(ring))
	}
	return ring, nil
}

// PolygonFromCoordinates builds a polygon from GeoJSON Polygon coordinates. Only the outer ring is kept.
func PolygonFromCoordinates(coords [][][]float64) (Polygon, error) {
	if len(coords) == 0 {
		return Polygon{}, fmt.Errorf("empty coordinates")
	}
	var ring []Point
	for _, c := range coords[0] {
		if len(c) < 2 {
			return Polygon{}, fmt.Errorf("invalid position %v", c)
		}
		ring = append(ring, Point{X: c[0], Y: c[1]})
	}
	return Polygon{Rings: [][]Point{ring}}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
