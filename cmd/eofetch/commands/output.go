package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatNames = "names"
)

func checkFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatNames:
		return nil
	default:
		return fmt.Errorf("unknown output format %q: want %s, %s or %s", f, formatTable, formatJSON, formatNames)
	}
}

// writeRecords prints records in format. The JSON form can be read back by fetch --records.
func writeRecords(w io.Writer, format string, records []eodata.ProductRecord) error {
	switch format {
	case formatJSON:
		if records == nil {
			records = []eodata.ProductRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case formatNames:
		for _, r := range records {
			if _, err := fmt.Fprintln(w, r.Name); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDATE\tCLOUD\tTYPE")
	for _, r := range records {
		cloud := "-"
		if cc, ok := r.CloudCover(); ok {
			cloud = strconv.FormatFloat(cc, 'f', 2, 64)
		}
		typ := r.ProductType
		if typ == "" {
			typ = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.AcquisitionDate.UTC().Format(time.DateOnly), cloud, typ)
	}
	return tw.Flush()
}

// readRecords decodes records written by writeRecords in JSON form.
func readRecords(r io.Reader) ([]eodata.ProductRecord, error) {
	var records []eodata.ProductRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("invalid product records: %v", err)
	}
	return records, nil
}
