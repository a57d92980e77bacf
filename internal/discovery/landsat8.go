package discovery

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

var (
	// collectionName matches LC08_L1TP_PPPRRR_YYYYMMDD_YYYYMMDD_CC_TX.
	collectionName = regexp.MustCompile(`^LC08_(L1TP|L1GT|L1GS)_(\d{6})_(\d{8})_`)
	// preCollectionName matches LC8PPPRRRYYYYDDDGSIVV.
	preCollectionName = regexp.MustCompile(`^LC8(\d{6})(\d{4})(\d{3})`)
)

// mtl is the subset of a Landsat-8 MTL.json used to accept and describe a product.
type mtl struct {
	L1MetadataFile struct {
		ProductMetadata struct {
			DateAcquired    string  `json:"DATE_ACQUIRED"`
			SceneCenterTime string  `json:"SCENE_CENTER_TIME"`
			DataType        string  `json:"DATA_TYPE"`
			CornerULLat     float64 `json:"CORNER_UL_LAT_PRODUCT"`
			CornerULLon     float64 `json:"CORNER_UL_LON_PRODUCT"`
			CornerURLat     float64 `json:"CORNER_UR_LAT_PRODUCT"`
			CornerURLon     float64 `json:"CORNER_UR_LON_PRODUCT"`
			CornerLLLat     float64 `json:"CORNER_LL_LAT_PRODUCT"`
			CornerLLLon     float64 `json:"CORNER_LL_LON_PRODUCT"`
			CornerLRLat     float64 `json:"CORNER_LR_LAT_PRODUCT"`
			CornerLRLon     float64 `json:"CORNER_LR_LON_PRODUCT"`
			WRSPath         int     `json:"WRS_PATH"`
			WRSRow          int     `json:"WRS_ROW"`
		} `json:"PRODUCT_METADATA"`
		ImageAttributes struct {
			CloudCover *float64 `json:"CLOUD_COVER"`
		} `json:"IMAGE_ATTRIBUTES"`
	} `json:"L1_METADATA_FILE"`
}

// landsat8 lists the product folders of c1/L8/{path}/{row}/.
func (w *walk) landsat8(ctx context.Context, tile string) error {
	if len(tile) != 6 {
		return eodata.ParameterErrorf("invalid Landsat-8 path/row %q", tile)
	}
	if _, err := strconv.Atoi(tile); err != nil {
		return eodata.ParameterErrorf("invalid Landsat-8 path/row %q", tile)
	}

	folders, err := w.children(ctx, fmt.Sprintf("c1/L8/%s/%s/", tile[:3], tile[3:]))
	if err != nil {
		return err
	}
	for _, f := range folders {
		if w.full() {
			break
		}
		date, level, ok := parseLandsatName(f.name)
		if !ok {
			w.logger.Debug("Ignoring unknown Landsat-8 folder", "prefix", f.prefix)
			continue
		}
		if !w.inWindow(date, day) {
			continue
		}
		if level != "" && !w.typeAccepted(level) {
			continue
		}
		if err := w.landsat8Product(ctx, tile, f, date, level); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) landsat8Product(ctx context.Context, tile string, f child, date time.Time, level string) error {
	var m mtl
	if !w.getJSON(ctx, f.prefix+f.name+"_MTL.json", &m) {
		return ctx.Err()
	}
	cc := m.L1MetadataFile.ImageAttributes.CloudCover
	if cc != nil && !w.cloudAccepted(*cc) {
		w.logger.Debug("Skipping product above cloud cover threshold", "product", f.name, "cloud", *cc)
		return nil
	}

	pm := m.L1MetadataFile.ProductMetadata
	if t, err := time.Parse(time.DateOnly+"T15:04:05.9999999Z", pm.DateAcquired+"T"+pm.SceneCenterTime); err == nil {
		date = t
	}
	if level == "" {
		level = pm.DataType
		if !w.typeAccepted(level) {
			return nil
		}
	}

	rec := eodata.ProductRecord{
		ID:              f.name,
		Name:            f.name,
		AcquisitionDate: date.UTC(),
		Location:        f.prefix,
		ProductType:     level,
		Sensor:          string(eodata.Landsat8),
	}
	if pm.CornerULLat != 0 || pm.CornerULLon != 0 {
		rec.Footprint = eodata.Polygon{Rings: [][]eodata.Point{{
			{X: pm.CornerULLon, Y: pm.CornerULLat},
			{X: pm.CornerURLon, Y: pm.CornerURLat},
			{X: pm.CornerLRLon, Y: pm.CornerLRLat},
			{X: pm.CornerLLLon, Y: pm.CornerLLLat},
			{X: pm.CornerULLon, Y: pm.CornerULLat},
		}}}.WKT()
	} else if w.grid != nil {
		if b, ok := w.grid.Extent(tile); ok {
			rec.Footprint = b.Polygon().WKT()
		}
	}
	rec.SetAttribute(eodata.AttrPlatform, string(eodata.Landsat8))
	rec.SetAttribute(eodata.AttrTileID, tile)
	rec.SetAttribute(eodata.AttrProductPath, f.prefix)
	if cc != nil {
		rec.SetAttribute(eodata.AttrCloudCover, strconv.FormatFloat(*cc, 'f', -1, 64))
	}

	if w.results.Add(rec) {
		w.logger.Debug("Discovered product", "product", rec.Name, "tile", tile)
	}
	return nil
}

// parseLandsatName returns the acquisition date and processing level of a product folder name.
// The level is unknown for pre-collection names.
func parseLandsatName(name string) (time.Time, string, bool) {
	if m := collectionName.FindStringSubmatch(name); m != nil {
		d, err := time.Parse("20060102", m[3])
		if err != nil {
			return time.Time{}, "", false
		}
		return d, m[1], true
	}
	if m := preCollectionName.FindStringSubmatch(name); m != nil {
		y, _ := strconv.Atoi(m[2])
		doy, _ := strconv.Atoi(m[3])
		if doy < 1 || doy > 366 {
			return time.Time{}, "", false
		}
		return time.Date(y, 1, doy, 0, 0, 0, 0, time.UTC), "", true
	}
	return time.Time{}, "", false
}

func (w *walk) typeAccepted(level string) bool {
	return len(w.q.ProductTypes) == 0 || slices.Contains(w.q.ProductTypes, level)
}
