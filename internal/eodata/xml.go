package eodata

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NewXMLDecoder returns a decoder reading r as UTF-8.
// A UTF-8 or UTF-16 byte order mark is honoured and stripped before decoding.
func NewXMLDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	d.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		// The body is already transcoded to UTF-8 at this point.
		case "utf-16", "utf16", "utf-16le", "utf-16be", "utf8":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return d
}
