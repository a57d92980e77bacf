package product

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Band is one raster of a granule. Resolution is empty for Level-1C products.
type Band struct {
	Name       string
	Resolution string
}

// l1cBands are the rasters of a Level-1C granule.
var l1cBands = []Band{
	{Name: "B01"}, {Name: "B02"}, {Name: "B03"}, {Name: "B04"}, {Name: "B05"}, {Name: "B06"}, {Name: "B07"},
	{Name: "B08"}, {Name: "B8A"}, {Name: "B09"}, {Name: "B10"}, {Name: "B11"}, {Name: "B12"},
}

// l2aBands are the rasters of a Level-2A granule, per resolution folder.
var l2aBands = func() []Band {
	sets := []struct {
		res   string
		names []string
	}{
		{"R10m", []string{"AOT", "B02", "B03", "B04", "B08", "TCI", "WVP"}},
		{"R20m", []string{"AOT", "B01", "B02", "B03", "B04", "B05", "B06", "B07", "B11", "B12", "B8A", "SCL", "TCI", "WVP"}},
		{"R60m", []string{"AOT", "B01", "B02", "B03", "B04", "B05", "B06", "B07", "B09", "B11", "B12", "B8A", "SCL", "TCI", "WVP"}},
	}
	var bands []Band
	for _, s := range sets {
		for _, n := range s.names {
			bands = append(bands, Band{Name: n, Resolution: s.res})
		}
	}
	return bands
}()

var versionSuffix = regexp.MustCompile(`_N\d{2}\.\d{2}$`)

// naming derives the local file names of a product from its name.
// Products named before the end of 2016 follow the long "OPER" naming.
type naming struct {
	name    string
	legacy  bool
	level   string
	sensing string
}

func newNaming(name string) naming {
	n := naming{name: name, level: "L1C"}
	parts := strings.Split(name, "_")
	if len(parts) > 1 && parts[1] == "OPER" {
		n.legacy = true
		for _, p := range parts {
			if strings.HasPrefix(p, "MSIL") {
				n.level = strings.TrimPrefix(p, "MSI")
			}
			if strings.HasPrefix(p, "V") && len(p) == 16 {
				n.sensing = p[1:]
			}
		}
		return n
	}
	if len(parts) > 2 {
		n.level = strings.TrimPrefix(parts[1], "MSI")
		n.sensing = parts[2]
	}
	return n
}

// date returns the sensing date of the product.
func (n naming) date() (time.Time, error) {
	if len(n.sensing) < 8 {
		return time.Time{}, fmt.Errorf("no sensing date in product name %q", n.name)
	}
	return time.Parse("20060102", n.sensing[:8])
}

func (n naming) metadataFile() string {
	if n.legacy {
		return strings.Replace(n.name, "PRD_MSI", "MTD_SAF", 1) + ".xml"
	}
	return "MTD_MSI" + n.level + ".xml"
}

func (n naming) bands() []Band {
	if n.level == "L2A" {
		return l2aBands
	}
	return l1cBands
}

func (n naming) tileMetadataFile(g granule) string {
	if n.legacy {
		return strings.Replace(versionSuffix.ReplaceAllString(g.ID, ""), "_MSI_", "_MTD_", 1) + ".xml"
	}
	return "MTD_TL.xml"
}

// bandFile returns the path of a band relative to the granule IMG_DATA folder.
func (n naming) bandFile(g granule, b Band) string {
	if n.legacy {
		return versionSuffix.ReplaceAllString(g.ID, "") + "_" + b.Name + ".jp2"
	}
	if b.Resolution != "" {
		return b.Resolution + "/T" + g.Tile + "_" + n.sensing + "_" + b.Name + "_" + strings.TrimPrefix(b.Resolution, "R") + ".jp2"
	}
	return "T" + g.Tile + "_" + n.sensing + "_" + b.Name + ".jp2"
}

// datastripFolder returns the folder name of a datastrip under DATASTRIP.
func (n naming) datastripFolder(id string) string {
	id = versionSuffix.ReplaceAllString(id, "")
	if n.legacy {
		return id
	}
	if i := strings.Index(id, "_DS_"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func (n naming) datastripFile(id string) string {
	if n.legacy {
		return strings.Replace(versionSuffix.ReplaceAllString(id, ""), "_MSI_", "_MTD_", 1) + ".xml"
	}
	return "MTD_DS.xml"
}

// awsPath returns the products/{yyyy}/{m}/{d}/{name} key of the product in the public bucket.
func (n naming) awsPath() (string, error) {
	d, err := n.date()
	if err != nil {
		return "", err
	}
	return "products/" + strconv.Itoa(d.Year()) + "/" + strconv.Itoa(int(d.Month())) + "/" + strconv.Itoa(d.Day()) + "/" + n.name, nil
}
