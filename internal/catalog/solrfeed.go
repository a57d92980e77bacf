package catalog

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

type feedState int

const (
	stateOutside feedState = iota
	stateEntry
	stateField
)

// fragment is one value read from a feed entry.
type fragment struct {
	kind  string
	name  string
	value string
}

// solrParser is the state machine turning Atom+Solr tokens into product records.
type solrParser struct {
	state feedState
	// parent is the state to go back to when the current field ends.
	parent feedState
	// depth counts elements nested inside the current field.
	depth int
	field fragment
	text  strings.Builder

	fragments []fragment
	page      Page
}

// ParseSolrFeed decodes an OpenSearch Atom feed carrying Solr typed fields.
func ParseSolrFeed(r io.Reader) (Page, error) {
	p := solrParser{page: Page{Total: -1}}
	d := eodata.NewXMLDecoder(r)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Page{}, fmt.Errorf("%w: invalid feed: %v", eodata.ErrProvider, err)
		}
		if err := p.step(tok); err != nil {
			return Page{}, err
		}
	}
	if p.state != stateOutside {
		return Page{}, fmt.Errorf("%w: truncated feed", eodata.ErrProvider)
	}
	return p.page, nil
}

func (p *solrParser) step(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		p.start(t)
	case xml.CharData:
		if p.state == stateField && p.depth == 0 {
			p.text.Write(t)
		}
	case xml.EndElement:
		return p.end(t)
	}
	return nil
}

func (p *solrParser) start(t xml.StartElement) {
	switch p.state {
	case stateOutside:
		switch t.Name.Local {
		case "entry":
			p.state = stateEntry
			p.fragments = nil
		case "totalResults":
			p.enterField(fragment{kind: "totalResults"})
		}

	case stateEntry:
		switch t.Name.Local {
		case "link":
			// Alternative and icon links point to metadata, not to the product itself.
			if attr(t, "rel") == "" {
				p.fragments = append(p.fragments, fragment{kind: "link", value: attr(t, "href")})
			}
		case "id", "title":
			p.enterField(fragment{kind: t.Name.Local})
		case "str", "date", "double", "int", "long", "bool":
			p.enterField(fragment{kind: t.Name.Local, name: attr(t, "name")})
		}

	case stateField:
		p.depth++
	}
}

func (p *solrParser) enterField(f fragment) {
	p.parent = p.state
	p.state = stateField
	p.field = f
	p.depth = 0
	p.text.Reset()
}

func (p *solrParser) end(t xml.EndElement) error {
	switch p.state {
	case stateField:
		if p.depth > 0 {
			p.depth--
			return nil
		}
		f := p.field
		f.value = strings.TrimSpace(p.text.String())
		p.state = p.parent
		if f.kind == "totalResults" {
			n, err := strconv.Atoi(f.value)
			if err != nil {
				return fmt.Errorf("%w: invalid total results %q", eodata.ErrProvider, f.value)
			}
			p.page.Total = n
			return nil
		}
		p.fragments = append(p.fragments, f)

	case stateEntry:
		if t.Name.Local != "entry" {
			return nil
		}
		rec, err := recordFromFragments(p.fragments)
		if err != nil {
			return err
		}
		p.page.Records = append(p.page.Records, rec)
		p.state = stateOutside
	}
	return nil
}

func recordFromFragments(fragments []fragment) (eodata.ProductRecord, error) {
	var rec eodata.ProductRecord
	for _, f := range fragments {
		switch f.kind {
		case "id":
			rec.ID = f.value
		case "title":
			rec.Name = f.value
		case "link":
			if rec.Location == "" {
				rec.Location = f.value
			}
		default:
			if f.name == "" {
				continue
			}
			switch f.name {
			case "identifier":
				if rec.Name == "" {
					rec.Name = f.value
				}
			case "footprint":
				rec.Footprint = f.value
				continue
			case "gmlfootprint":
				continue
			case "beginposition":
				d, err := time.Parse(time.RFC3339Nano, f.value)
				if err != nil {
					return rec, fmt.Errorf("%w: invalid acquisition date %q", eodata.ErrProvider, f.value)
				}
				rec.AcquisitionDate = d.UTC()
			case "producttype":
				rec.ProductType = f.value
			case "platformname":
				rec.Sensor = f.value
			}
			rec.SetAttribute(f.name, f.value)
		}
	}
	if rec.ID == "" || rec.Name == "" {
		return rec, fmt.Errorf("%w: feed entry without identity", eodata.ErrProvider)
	}
	return rec, nil
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
