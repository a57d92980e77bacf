// Package discovery finds products by walking the prefix tree of an object store,
// instead of querying a catalog.
//
// Branches outside the acquisition window are pruned at each date level, and a cheap per leaf
// check runs before any product record is materialized.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

// Query selects the products to discover.
type Query struct {
	Sensor eodata.Sensor
	// Tiles are the tile codes to walk. When empty, they are the tiles of the grid intersecting AOI.
	Tiles []string
	AOI   *eodata.Polygon

	// Start and End bound the acquisition date, inclusively. A zero bound is open.
	Start time.Time
	End   time.Time

	// MaxCloudCover keeps only products whose cloud cover is at most this value, when set.
	MaxCloudCover *float64
	// RelativeOrbit keeps only products of this relative orbit, when non zero.
	RelativeOrbit int
	// ProductTypes keeps only Landsat products of these processing levels (L1TP, L1GT, L1GS), when set.
	ProductTypes []string

	// Limit stops the traversal once that many products are found, when positive.
	Limit int
}

// Discovery walks an object store laid out per sensor.
type Discovery struct {
	lister Lister
	grid   *tilegrid.Grid
	logger *slog.Logger
}

type options struct {
	logger *slog.Logger
}

// Options represents an optional function to override Discovery default values.
type Options func(*options)

// WithLogger sets the logger of the discovery.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a discovery over lister. grid resolves area of interests to tiles and may be nil
// when queries always name their tiles.
func New(lister Lister, grid *tilegrid.Grid, args ...Options) *Discovery {
	opts := options{logger: slog.Default()}
	for _, opt := range args {
		opt(&opts)
	}
	return &Discovery{
		lister: lister,
		grid:   grid,
		logger: opts.logger,
	}
}

// Search returns the products matching q, in traversal order.
// A branch that cannot be listed is logged and skipped.
func (d *Discovery) Search(ctx context.Context, q Query) (res *Results, err error) {
	defer decorate.OnError(&err, "%s discovery failed", q.Sensor)

	tiles, err := d.tiles(q)
	if err != nil {
		return nil, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, eodata.ParameterErrorf("end date %s is before start date %s", q.End.Format(time.DateOnly), q.Start.Format(time.DateOnly))
	}

	w := walk{Discovery: d, q: q, results: NewResults()}
	for _, tile := range tiles {
		if w.full() {
			break
		}
		switch q.Sensor {
		case eodata.Sentinel2:
			err = w.sentinel2(ctx, tile)
		case eodata.Landsat8:
			err = w.landsat8(ctx, tile)
		default:
			return nil, eodata.ParameterErrorf("discovery is not supported for %s", q.Sensor)
		}
		if err != nil {
			return nil, err
		}
	}

	d.logger.Info("Discovery completed", "sensor", q.Sensor, "tiles", len(tiles), "products", w.results.Len())
	return w.results, nil
}

func (d *Discovery) tiles(q Query) ([]string, error) {
	if len(q.Tiles) > 0 {
		tiles := make([]string, 0, len(q.Tiles))
		for _, t := range q.Tiles {
			tiles = append(tiles, tilegrid.Normalize(t))
		}
		return tiles, nil
	}
	if q.AOI == nil {
		return nil, eodata.ParameterErrorf("either tiles or an area of interest is required")
	}
	if d.grid == nil {
		return nil, eodata.ParameterErrorf("no tile grid to resolve the area of interest")
	}
	tiles := d.grid.Intersecting(q.AOI.BBox())
	if len(tiles) == 0 {
		return nil, eodata.ParameterErrorf("no tile intersects the area of interest")
	}
	return tiles, nil
}

// walk holds the state of one Search call.
type walk struct {
	*Discovery
	q       Query
	results *Results
}

func (w *walk) full() bool {
	return w.q.Limit > 0 && w.results.Len() >= w.q.Limit
}

// children lists prefix and returns its children sorted by numeric name.
// A listing failure is logged and returns no child.
func (w *walk) children(ctx context.Context, prefix string) ([]child, error) {
	prefixes, err := w.lister.ListPrefixes(ctx, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("Skipping branch which could not be listed", "prefix", prefix, "error", err)
		return nil, nil
	}

	var cs []child
	for _, p := range prefixes {
		name := path.Base(strings.TrimSuffix(p, "/"))
		n, err := strconv.Atoi(name)
		if err != nil {
			n = -1
		}
		cs = append(cs, child{prefix: p, name: name, n: n})
	}
	slices.SortStableFunc(cs, func(a, b child) int {
		if a.n != b.n {
			return a.n - b.n
		}
		return strings.Compare(a.name, b.name)
	})
	return cs, nil
}

type child struct {
	prefix string
	name   string
	n      int
}

// granularity is a date level of the prefix tree.
type granularity int

const (
	year granularity = iota
	month
	day
)

// inWindow reports whether t, known at granularity g, can fall within [Start, End].
func (w *walk) inWindow(t time.Time, g granularity) bool {
	key := func(t time.Time) int {
		switch g {
		case year:
			return t.Year()
		case month:
			return t.Year()*100 + int(t.Month())
		default:
			return t.Year()*10000 + int(t.Month())*100 + t.Day()
		}
	}
	if !w.q.Start.IsZero() && key(t) < key(w.q.Start) {
		return false
	}
	if !w.q.End.IsZero() && key(t) > key(w.q.End) {
		return false
	}
	return true
}

func (w *walk) cloudAccepted(cc float64) bool {
	return w.q.MaxCloudCover == nil || cc <= *w.q.MaxCloudCover
}

func (w *walk) orbitAccepted(name string) bool {
	return w.q.RelativeOrbit <= 0 || strings.Contains(name, fmt.Sprintf("_R%03d", w.q.RelativeOrbit))
}
