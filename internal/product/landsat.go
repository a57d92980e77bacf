package product

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// landsatSuffixes are the files of a Landsat-8 Collection-1 scene, appended to the scene name.
var landsatSuffixes = []string{
	"_B1.TIF", "_B2.TIF", "_B3.TIF", "_B4.TIF", "_B5.TIF", "_B6.TIF", "_B7.TIF", "_B8.TIF", "_B9.TIF",
	"_B10.TIF", "_B11.TIF", "_BQA.TIF", "_MTL.txt", "_ANG.txt",
}

// downloadLandsat fetches the flat file list of a Landsat-8 scene into dest/<name>.
func (d *Downloader) downloadLandsat(ctx context.Context, p eodata.ProductRecord, dest string) (Result, error) {
	aws, ok := d.layout.(*AWSLayout)
	if !ok {
		return Result{}, eodata.ParameterErrorf("Landsat-8 products can only be fetched from a bucket layout")
	}
	prefix, _ := p.Attribute(eodata.AttrProductPath)
	if prefix == "" {
		prefix = p.Location
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return Result{}, eodata.ParameterErrorf("product %s has no location", p.Name)
	}

	files := p.Files
	if len(files) == 0 {
		for _, s := range landsatSuffixes {
			files = append(files, p.Name+s)
		}
	}

	root := filepath.Join(dest, p.Name)
	_, err := os.Stat(root)
	created := errors.Is(err, fs.ErrNotExist)
	if err := os.MkdirAll(root, 0750); err != nil {
		return Result{}, err
	}

	var (
		warnings []error
		fetched  int
	)
	for _, name := range files {
		if !isName(name) {
			err := fmt.Errorf("%w: invalid scene file name %q", eodata.ErrProvider, name)
			d.logger.Warn("Could not fetch file", "product", p.Name, "file", name, "error", err)
			warnings = append(warnings, err)
			continue
		}
		err := d.fetch(ctx, p.Name, aws.base+"/"+prefix+"/"+name, filepath.Join(root, name), d.mode)
		if err == nil {
			fetched++
			continue
		}
		if ctx.Err() != nil || isFatal(err) {
			return Result{}, err
		}
		d.logger.Warn("Could not fetch file", "product", p.Name, "file", name, "error", err)
		warnings = append(warnings, fmt.Errorf("%s: %w", name, err))
	}

	if fetched == 0 {
		if created {
			if err := os.RemoveAll(root); err != nil {
				return Result{}, err
			}
		}
		return Result{Status: NotFound, Warnings: warnings}, nil
	}
	if len(warnings) > 0 {
		return Result{Status: CompletedWithWarnings, Path: root, Warnings: warnings}, nil
	}
	return Result{Status: Completed, Path: root}, nil
}
