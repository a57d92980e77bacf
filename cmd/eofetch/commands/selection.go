package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/ubuntu/eofetch/internal/eodata"
)

// selection holds the product filters shared by search and discover.
type selection struct {
	Sensor       string
	Start        string
	End          string
	Tiles        []string
	BBox         string
	AOI          string
	CloudCover   float64
	Orbit        int
	ProductTypes []string
	Limit        int
}

func addSelectionFlags(cmd *cobra.Command, s *selection) {
	cmd.Flags().StringVarP(&s.Sensor, "sensor", "s", "S2", "sensor of the products: S1, S2, S3 or L8")
	cmd.Flags().StringVar(&s.Start, "start", "", "first acquisition date, as YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&s.End, "end", "", "last acquisition date, as YYYY-MM-DD or RFC 3339, inclusive")
	cmd.Flags().StringSliceVarP(&s.Tiles, "tile", "t", nil, "tile codes of the products")
	cmd.Flags().StringVar(&s.BBox, "bbox", "", "area of interest as min-lon,min-lat,max-lon,max-lat")
	cmd.Flags().StringVar(&s.AOI, "aoi", "", "area of interest as a WKT polygon or multipolygon")
	cmd.Flags().Float64Var(&s.CloudCover, "cloud-cover", -1, "maximum cloud cover percentage, negative for no limit")
	cmd.Flags().IntVar(&s.Orbit, "orbit", 0, "relative orbit number, 0 for any")
	cmd.Flags().StringSliceVar(&s.ProductTypes, "product-type", nil, "product types to keep")
	cmd.Flags().IntVarP(&s.Limit, "limit", "l", 0, "maximum number of products, 0 for the default")
}

// checkSelection rejects inconsistent filters and output formats as usage errors.
func (a App) checkSelection(s selection, format string) error {
	err := checkFormat(format)
	if err == nil && s.BBox != "" && s.AOI != "" {
		err = errors.New("--bbox and --aoi are mutually exclusive")
	}
	if err != nil {
		a.cmd.SilenceUsage = false
	}
	return err
}

func (s selection) sensor() (eodata.Sensor, error) {
	return eodata.ParseSensor(s.Sensor)
}

// window returns the acquisition bounds. A date only end bound covers the whole day.
func (s selection) window() (start, end time.Time, err error) {
	if s.Start != "" {
		if start, _, err = parseDate(s.Start); err != nil {
			return start, end, fmt.Errorf("invalid start date: %v", err)
		}
	}
	if s.End != "" {
		var dateOnly bool
		if end, dateOnly, err = parseDate(s.End); err != nil {
			return start, end, fmt.Errorf("invalid end date: %v", err)
		}
		if dateOnly {
			end = end.Add(24*time.Hour - time.Millisecond)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("end date %s is before start date %s", s.End, s.Start)
	}
	return start, end, nil
}

func parseDate(v string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(time.RFC3339, v)
	return t, false, err
}

// area returns the area of interest, or nil when none is set.
func (s selection) area() (*eodata.Polygon, error) {
	switch {
	case s.AOI != "":
		p, err := eodata.ParseWKT(s.AOI)
		if err != nil {
			return nil, fmt.Errorf("invalid area of interest: %v", err)
		}
		return &p, nil
	case s.BBox != "":
		b, err := parseBBox(s.BBox)
		if err != nil {
			return nil, err
		}
		p := b.Polygon()
		return &p, nil
	default:
		return nil, nil
	}
}

func parseBBox(v string) (eodata.BBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return eodata.BBox{}, fmt.Errorf("invalid bounding box %q: want 4 comma separated values", v)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return eodata.BBox{}, fmt.Errorf("invalid bounding box %q: %v", v, err)
		}
		vals[i] = f
	}
	b := eodata.BBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if !b.Valid() {
		return eodata.BBox{}, fmt.Errorf("invalid bounding box %q: minimum corner above maximum corner", v)
	}
	return b, nil
}

// maxCloudCover returns the cloud cover threshold, or nil when unset.
func (s selection) maxCloudCover() *float64 {
	if s.CloudCover < 0 {
		return nil
	}
	cc := s.CloudCover
	return &cc
}
