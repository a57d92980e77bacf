package product

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

// granule is one tile entry of the product metadata.
type granule struct {
	ID        string
	Folder    string
	Tile      string
	Datastrip string
}

var (
	granuleElement = regexp.MustCompile(`(?s)[ \t]*<Granules?\s[^>]*>.*?</Granules?>[ \t]*\r?\n?`)
	tileCode       = regexp.MustCompile(`_T(\d{2}[A-Z]{3})(?:_|$)`)
)

// parseGranules returns the Granule (or legacy Granules) entries of a product metadata document.
func parseGranules(data []byte) ([]granule, error) {
	var (
		granules []granule
		cur      *granule
		inImage  bool
		text     strings.Builder
	)

	d := eodata.NewXMLDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid product metadata: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Granule", "Granules":
				cur = &granule{}
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "granuleIdentifier":
						cur.ID = a.Value
					case "datastripIdentifier":
						cur.Datastrip = a.Value
					}
				}
			case "IMAGE_FILE", "IMAGE_ID":
				if cur != nil && cur.Folder == "" {
					inImage = true
					text.Reset()
				}
			}
		case xml.CharData:
			if inImage {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "IMAGE_FILE", "IMAGE_ID":
				if inImage {
					inImage = false
					// IMAGE_FILE is GRANULE/<folder>/IMG_DATA/<band>.
					if parts := strings.Split(strings.TrimSpace(text.String()), "/"); len(parts) > 2 && parts[0] == "GRANULE" {
						cur.Folder = parts[1]
					}
				}
			case "Granule", "Granules":
				if cur == nil {
					continue
				}
				if cur.Folder == "" {
					cur.Folder = cur.ID
				}
				if m := tileCode.FindStringSubmatch(cur.ID); m != nil {
					cur.Tile = m[1]
				} else if m := tileCode.FindStringSubmatch(cur.Folder); m != nil {
					cur.Tile = m[1]
				}
				granules = append(granules, *cur)
				cur = nil
			}
		}
	}
	return granules, nil
}

// filterGranules removes from a product metadata document every granule entry not in tiles.
// The rest of the document is kept byte for byte.
func filterGranules(data []byte, tiles []string) ([]byte, []granule, error) {
	allowed := make(map[string]bool, len(tiles))
	for _, t := range tiles {
		allowed[tilegrid.Normalize(t)] = true
	}

	var (
		kept    []granule
		lastErr error
	)
	out := granuleElement.ReplaceAllFunc(data, func(entry []byte) []byte {
		gs, err := parseGranules(entry)
		if err != nil || len(gs) != 1 {
			lastErr = fmt.Errorf("invalid granule entry: %v", err)
			return entry
		}
		if !allowed[gs[0].Tile] {
			return nil
		}
		kept = append(kept, gs[0])
		return entry
	})
	if lastErr != nil {
		return nil, nil, lastErr
	}
	return out, kept, nil
}

// parseMasks returns the MASK_FILENAME entries of a tile metadata document.
func parseMasks(data []byte) ([]string, error) {
	var (
		masks  []string
		inMask bool
		text   strings.Builder
	)

	d := eodata.NewXMLDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return masks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid tile metadata: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "MASK_FILENAME" {
				inMask = true
				text.Reset()
			}
		case xml.CharData:
			if inMask {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "MASK_FILENAME" {
				inMask = false
				if m := strings.TrimSpace(text.String()); m != "" {
					masks = append(masks, m)
				}
			}
		}
	}
}
