package product

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// FileKind is the role of a file in a product.
type FileKind int

// File kinds.
const (
	FileMetadata FileKind = iota
	FileProductAux
	FileTileMetadata
	FileBand
	FileMask
	FileDatastrip
)

// File is a logical file of a product.
type File struct {
	Kind FileKind
	// Path is the local path relative to the product folder.
	Path string

	Tile      string
	Band      Band
	Mask      string
	Datastrip string
}

// Layout locates the files of products on a provider.
type Layout interface {
	// Open returns the locator of p's files. It may fetch a remote index, and returns an error
	// matching eodata.ErrNotFound when the product does not exist.
	Open(ctx context.Context, c Client, p eodata.ProductRecord) (Locator, error)
}

// Locator returns the remote URL of a file of one product.
type Locator interface {
	URL(f File) (string, error)
}

// AWSLayout is the layout of the Sentinel-2 public buckets: products/{yyyy}/{m}/{d}/{name}/ for product
// level files, and tiles/{zone}/{band}/{square}/{yyyy}/{m}/{d}/{seq}/ for granule files.
type AWSLayout struct {
	base string
}

// NewAWSLayout returns the layout of the bucket served at bucketURL.
func NewAWSLayout(bucketURL string) (*AWSLayout, error) {
	u, err := url.Parse(bucketURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bucket URL %q", bucketURL)
	}
	return &AWSLayout{base: strings.TrimSuffix(u.String(), "/")}, nil
}

type awsProductInfo struct {
	Tiles []struct {
		Path string `json:"path"`
	} `json:"tiles"`
	Datastrips []struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"datastrips"`
}

// Open fetches the productInfo.json index of p.
func (l *AWSLayout) Open(ctx context.Context, c Client, p eodata.ProductRecord) (Locator, error) {
	productPath, _ := p.Attribute(eodata.AttrProductPath)
	if productPath == "" && strings.HasPrefix(p.Location, "products/") {
		productPath = p.Location
	}
	if productPath == "" {
		var err error
		if productPath, err = newNaming(p.Name).awsPath(); err != nil {
			return nil, eodata.ParameterErrorf("%v", err)
		}
	}
	productPath = strings.Trim(productPath, "/")

	resp, err := c.Get(ctx, l.base+"/"+productPath+"/productInfo.json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &eodata.TransportError{Op: "read", URL: l.base + "/" + productPath + "/productInfo.json", Err: err}
	}
	var info awsProductInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: invalid product info of %s: %v", eodata.ErrProvider, p.Name, err)
	}

	loc := &awsLocator{
		base:        l.base,
		productPath: productPath,
		tiles:       make(map[string]string),
		datastrips:  make(map[string]string),
	}
	for _, t := range info.Tiles {
		if code, ok := awsTileCode(t.Path); ok {
			loc.tiles[code] = strings.Trim(t.Path, "/")
		}
	}
	for _, ds := range info.Datastrips {
		loc.datastrips[ds.ID] = strings.Trim(ds.Path, "/")
		if loc.firstDatastrip == "" {
			loc.firstDatastrip = ds.ID
		}
	}
	return loc, nil
}

// awsTileCode returns the tile code of a tiles/{zone}/{band}/{square}/... path.
func awsTileCode(p string) (string, bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 4 || parts[0] != "tiles" {
		return "", false
	}
	zone, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%02d%s%s", zone, parts[2], parts[3]), true
}

type awsLocator struct {
	base           string
	productPath    string
	tiles          map[string]string
	datastrips     map[string]string
	firstDatastrip string
}

func (l *awsLocator) URL(f File) (string, error) {
	switch f.Kind {
	case FileMetadata:
		return l.base + "/" + l.productPath + "/metadata.xml", nil
	case FileProductAux:
		return l.base + "/" + l.productPath + "/" + strings.ToLower(path.Base(f.Path)), nil
	case FileDatastrip:
		dsPath, ok := l.datastrips[f.Datastrip]
		if !ok {
			dsPath, ok = l.datastrips[l.firstDatastrip]
		}
		if !ok {
			return "", fmt.Errorf("%w: no datastrip %q in product index", eodata.ErrNotFound, f.Datastrip)
		}
		return l.base + "/" + dsPath + "/metadata.xml", nil
	}

	tilePath, ok := l.tiles[f.Tile]
	if !ok {
		return "", fmt.Errorf("%w: no tile %q in product index", eodata.ErrNotFound, f.Tile)
	}
	switch f.Kind {
	case FileTileMetadata:
		return l.base + "/" + tilePath + "/metadata.xml", nil
	case FileBand:
		if f.Band.Resolution != "" {
			return l.base + "/" + tilePath + "/" + f.Band.Resolution + "/" + f.Band.Name + ".jp2", nil
		}
		return l.base + "/" + tilePath + "/" + f.Band.Name + ".jp2", nil
	case FileMask:
		return l.base + "/" + tilePath + "/qi/" + awsMaskName(f.Mask), nil
	default:
		return "", fmt.Errorf("unsupported file kind %d", f.Kind)
	}
}

// awsMaskName returns the bucket name of a mask listed in a tile metadata.
// Legacy masks, such as S2A_OPER_MSK_CLOUDS_SGS__..._B00_MSIL1C.gml, are stored as MSK_CLOUDS_B00.gml.
func awsMaskName(mask string) string {
	if strings.Contains(mask, "/") {
		return path.Base(mask)
	}
	tokens := strings.Split(mask, "_")
	if len(tokens) < 10 {
		return mask
	}
	return tokens[2] + "_" + tokens[3] + "_" + tokens[9] + ".gml"
}

// SciHubLayout is the OData node layout of SciHub like providers, where every file is addressed through
// the node path of the SAFE folder.
type SciHubLayout struct {
	// BaseURL is the provider root. Requests carry the provider credential, so product locations
	// must share its scheme and host.
	BaseURL string
}

// Open derives the node root from the product location. Relative locations are resolved against BaseURL.
func (l SciHubLayout) Open(_ context.Context, _ Client, p eodata.ProductRecord) (Locator, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(p.Location, "/$value"), "/")
	if !strings.Contains(base, "/Products('") {
		return nil, eodata.ParameterErrorf("product %s has no OData location", p.Name)
	}

	provider, err := url.Parse(l.BaseURL)
	if err != nil || provider.Host == "" {
		return nil, eodata.ParameterErrorf("invalid provider URL %q", l.BaseURL)
	}
	loc, err := url.Parse(base)
	if err != nil {
		return nil, eodata.ParameterErrorf("product %s has an invalid location: %v", p.Name, err)
	}
	if !loc.IsAbs() {
		loc = provider.ResolveReference(loc)
		base = loc.String()
	}
	if loc.Scheme != provider.Scheme || !strings.EqualFold(loc.Host, provider.Host) {
		return nil, eodata.ParameterErrorf("product %s is located on %s://%s, outside of provider %s",
			p.Name, loc.Scheme, loc.Host, provider.Redacted())
	}
	return sciHubLocator{base: base, root: p.Name + ".SAFE"}, nil
}

type sciHubLocator struct {
	base string
	root string
}

func (l sciHubLocator) URL(f File) (string, error) {
	var b strings.Builder
	b.WriteString(l.base)
	for _, seg := range append([]string{l.root}, strings.Split(f.Path, "/")...) {
		if seg == "" {
			continue
		}
		b.WriteString("/Nodes('" + url.PathEscape(seg) + "')")
	}
	b.WriteString("/$value")
	return b.String(), nil
}

// Datastrips returns the datastrip ids listed in the product index.
func (l *awsLocator) Datastrips() []string {
	if l.firstDatastrip == "" {
		return nil
	}
	return []string{l.firstDatastrip}
}
