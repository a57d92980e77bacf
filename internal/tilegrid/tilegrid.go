// Package tilegrid provides the static spatial index of a sensor tiling scheme.
//
// A Grid maps tile codes (MGRS tiles for Sentinel-2, WRS-2 path/row for Landsat 8) to their bounding rectangle.
// It is loaded once and never modified afterwards, so it can be shared by concurrent queries.
package tilegrid

import (
	"embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var packaged embed.FS

// Grid is a read-only mapping of tile codes to bounding rectangles.
type Grid struct {
	tiles map[string]eodata.BBox
	codes []string
}

type tileTable struct {
	Tiles map[string][]float64 `yaml:"tiles"`
}

// Load parses a YAML tile table of the form "tiles: {CODE: [minx, miny, maxx, maxy]}".
func Load(r io.Reader) (*Grid, error) {
	var t tileTable
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("could not decode tile table: %v", err)
	}

	g := &Grid{tiles: make(map[string]eodata.BBox, len(t.Tiles))}
	for code, v := range t.Tiles {
		if len(v) != 4 {
			return nil, fmt.Errorf("tile %s: expected 4 coordinates, got %d", code, len(v))
		}
		b := eodata.BBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
		if !b.Valid() {
			return nil, fmt.Errorf("tile %s: invalid rectangle %v", code, v)
		}
		code = Normalize(code)
		if _, dup := g.tiles[code]; dup {
			return nil, fmt.Errorf("tile %s is defined more than once", code)
		}
		g.tiles[code] = b
		g.codes = append(g.codes, code)
	}
	slices.Sort(g.codes)
	return g, nil
}

// LoadFile loads a tile table from a file.
func LoadFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open tile table: %v", err)
	}
	defer f.Close()
	return Load(f)
}

// Sentinel2 loads the packaged Sentinel-2 tile table.
func Sentinel2() (*Grid, error) {
	return loadPackaged("data/sentinel2.yaml")
}

// Landsat8 loads the packaged Landsat 8 path/row table.
func Landsat8() (*Grid, error) {
	return loadPackaged("data/landsat8.yaml")
}

func loadPackaged(name string) (*Grid, error) {
	f, err := packaged.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Normalize returns the canonical form of a tile code: upper case, without the "T" prefix of Sentinel-2 tiles.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 6 && code[0] == 'T' {
		return code[1:]
	}
	return code
}

// Intersecting returns, sorted, the codes of every tile whose rectangle intersects bbox.
func (g *Grid) Intersecting(bbox eodata.BBox) []string {
	var res []string
	for _, code := range g.codes {
		if g.tiles[code].Intersects(bbox) {
			res = append(res, code)
		}
	}
	return res
}

// Extent returns the rectangle of a tile.
func (g *Grid) Extent(code string) (eodata.BBox, bool) {
	b, ok := g.tiles[Normalize(code)]
	return b, ok
}

// BoundingBox returns the union of the rectangles of the given tiles. Unknown codes are ignored.
// It returns false if no code is known.
func (g *Grid) BoundingBox(codes ...string) (eodata.BBox, bool) {
	var acc eodata.BBox
	found := false
	for _, c := range codes {
		b, ok := g.Extent(c)
		if !ok {
			continue
		}
		if !found {
			acc, found = b, true
			continue
		}
		acc = acc.Union(b)
	}
	return acc, found
}

// Codes returns all the tile codes, sorted.
func (g *Grid) Codes() []string {
	return slices.Clone(g.codes)
}

// Len returns the number of tiles of the grid.
func (g *Grid) Len() int {
	return len(g.codes)
}
