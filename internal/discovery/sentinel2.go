package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// tileInfo is the subset of a Sentinel-2 tileInfo.json used to accept a leaf.
type tileInfo struct {
	Path                  string   `json:"path"`
	ProductName           string   `json:"productName"`
	ProductPath           string   `json:"productPath"`
	CloudyPixelPercentage *float64 `json:"cloudyPixelPercentage"`
	TileGeometry          struct {
		Type        string        `json:"type"`
		Coordinates [][][]float64 `json:"coordinates"`
		CRS         struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	} `json:"tileGeometry"`
}

// productInfo is the subset of a Sentinel-2 productInfo.json used to build a record.
type productInfo struct {
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Timestamp  time.Time `json:"timestamp"`
	Datastrips []struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"datastrips"`
}

// sentinel2 walks tiles/{UTM zone}/{latitude band}/{square}/{year}/{month}/{day}/{sequence}/.
func (w *walk) sentinel2(ctx context.Context, tile string) error {
	root, err := sentinel2Prefix(tile)
	if err != nil {
		return err
	}

	years, err := w.children(ctx, root)
	if err != nil {
		return err
	}
	for _, y := range years {
		if w.full() || y.n < 0 || !w.inWindow(time.Date(y.n, 1, 1, 0, 0, 0, 0, time.UTC), year) {
			continue
		}
		months, err := w.children(ctx, y.prefix)
		if err != nil {
			return err
		}
		for _, m := range months {
			if w.full() || m.n < 1 || m.n > 12 || !w.inWindow(time.Date(y.n, time.Month(m.n), 1, 0, 0, 0, 0, time.UTC), month) {
				continue
			}
			days, err := w.children(ctx, m.prefix)
			if err != nil {
				return err
			}
			for _, d := range days {
				if w.full() || d.n < 1 || !w.inWindow(time.Date(y.n, time.Month(m.n), d.n, 0, 0, 0, 0, time.UTC), day) {
					continue
				}
				seqs, err := w.children(ctx, d.prefix)
				if err != nil {
					return err
				}
				for _, s := range seqs {
					if w.full() {
						break
					}
					if err := w.sentinel2Leaf(ctx, tile, s.prefix); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func sentinel2Prefix(tile string) (string, error) {
	if len(tile) != 5 {
		return "", eodata.ParameterErrorf("invalid Sentinel-2 tile %q", tile)
	}
	zone, err := strconv.Atoi(tile[:2])
	if err != nil || zone < 1 || zone > 60 {
		return "", eodata.ParameterErrorf("invalid UTM zone in Sentinel-2 tile %q", tile)
	}
	return fmt.Sprintf("tiles/%d/%s/%s/", zone, tile[2:3], tile[3:]), nil
}

// sentinel2Leaf accepts one acquisition. Failures to read the leaf only skip it.
func (w *walk) sentinel2Leaf(ctx context.Context, tile, leaf string) error {
	var ti tileInfo
	if !w.getJSON(ctx, leaf+"tileInfo.json", &ti) {
		return ctx.Err()
	}
	if ti.CloudyPixelPercentage != nil && !w.cloudAccepted(*ti.CloudyPixelPercentage) {
		w.logger.Debug("Skipping acquisition above cloud cover threshold", "leaf", leaf, "cloud", *ti.CloudyPixelPercentage)
		return nil
	}
	if ti.ProductName != "" && !w.orbitAccepted(ti.ProductName) {
		return nil
	}
	if _, dup := w.results.Get(ti.ProductName); dup {
		return nil
	}

	var pi productInfo
	if !w.getJSON(ctx, strings.TrimSuffix(ti.ProductPath, "/")+"/productInfo.json", &pi) {
		return ctx.Err()
	}
	if !w.orbitAccepted(pi.Name) {
		return nil
	}

	rec := eodata.ProductRecord{
		ID:              pi.ID,
		Name:            pi.Name,
		AcquisitionDate: pi.Timestamp.UTC(),
		Location:        ti.ProductPath,
		ProductType:     sentinel2ProductType(pi.Name),
		Sensor:          string(eodata.Sentinel2),
	}
	if w.grid != nil {
		if b, ok := w.grid.Extent(tile); ok {
			rec.Footprint = b.Polygon().WKT()
		}
	}
	if rec.Footprint == "" && len(ti.TileGeometry.Coordinates) > 0 {
		if poly, err := eodata.PolygonFromCoordinates(ti.TileGeometry.Coordinates); err == nil {
			rec.Footprint = poly.WKT()
			rec.SetAttribute("crs", ti.TileGeometry.CRS.Properties.Name)
		}
	}
	rec.SetAttribute(eodata.AttrPlatform, string(eodata.Sentinel2))
	rec.SetAttribute(eodata.AttrTileID, tile)
	rec.SetAttribute(eodata.AttrProductPath, ti.ProductPath)
	if ti.CloudyPixelPercentage != nil {
		rec.SetAttribute(eodata.AttrCloudCover, strconv.FormatFloat(*ti.CloudyPixelPercentage, 'f', -1, 64))
	}
	if orbit, ok := relativeOrbit(pi.Name); ok {
		rec.SetAttribute(eodata.AttrRelativeOrbit, strconv.Itoa(orbit))
	}
	if len(pi.Datastrips) > 0 {
		rec.SetAttribute("datastrip", pi.Datastrips[0].ID)
	}

	if w.results.Add(rec) {
		w.logger.Debug("Discovered product", "product", rec.Name, "tile", tile)
	}
	return nil
}

// getJSON fetches and decodes key, logging and reporting false on failure.
func (w *walk) getJSON(ctx context.Context, key string, v any) bool {
	data, err := w.lister.Get(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Skipping product whose metadata could not be fetched", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		w.logger.Warn("Skipping product with invalid metadata", "key", key, "error", err)
		return false
	}
	return true
}

// sentinel2ProductType maps a product name level to its catalog product type.
func sentinel2ProductType(name string) string {
	switch {
	case strings.Contains(name, "MSIL2A"):
		return "S2MSI2A"
	case strings.Contains(name, "MSIL1C"):
		return "S2MSI1C"
	default:
		return ""
	}
}

// relativeOrbit returns the orbit number encoded as _Rnnn_ in a product name.
func relativeOrbit(name string) (int, bool) {
	for _, part := range strings.Split(name, "_") {
		if len(part) == 4 && part[0] == 'R' {
			if n, err := strconv.Atoi(part[1:]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
