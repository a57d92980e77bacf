package fileutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseJSON decodes the single JSON document read from r into v.
// Anything but whitespace after the document is an error, so a truncated or concatenated response is not
// mistaken for a complete one.
func ParseJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("couldn't parse JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("couldn't parse JSON: unexpected data after the document")
	}
	return nil
}
