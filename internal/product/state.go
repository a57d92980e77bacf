package product

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/fileutils"
)

// stateFn is one step of a product download. It returns the next step, or nil once the product is done.
type stateFn func(ctx context.Context) (stateFn, error)

// auxFiles are optional product level files.
var auxFiles = []string{"INSPIRE.xml", "manifest.safe"}

// datastripIndex is implemented by locators which know the datastrips of a product from a remote index.
type datastripIndex interface {
	Datastrips() []string
}

type job struct {
	*Downloader

	product eodata.ProductRecord
	locator Locator
	naming  naming
	root    string
	tiles   []string
	// created is set when the product folder did not exist before this job.
	created bool

	metadata string
	granules []granule
	status   Status
	warnings []error
}

func (j *job) run(ctx context.Context) (Result, error) {
	j.status = Completed
	for state := j.fetchMetadata; state != nil; {
		var err error
		if state, err = state(ctx); err != nil {
			return Result{}, err
		}
	}

	res := Result{Status: j.status, Warnings: j.warnings}
	if j.status == Completed && len(j.warnings) > 0 {
		res.Status = CompletedWithWarnings
	}
	if res.Status == Completed || res.Status == CompletedWithWarnings {
		res.Path = j.root
	}
	return res, nil
}

// warn records a file failure. Cancellation and rejected credentials abort the product instead.
func (j *job) warn(f File, err error) error {
	if isFatal(err) {
		return err
	}
	j.logger.Warn("Could not fetch file", "product", j.product.Name, "file", f.Path, "error", err)
	j.warnings = append(j.warnings, fmt.Errorf("%s: %w", f.Path, err))
	return nil
}

func (j *job) get(ctx context.Context, f File) error {
	local, err := j.localPath(f.Path)
	if err != nil {
		return err
	}
	u, err := j.locator.URL(f)
	if err != nil {
		return err
	}
	return j.fetch(ctx, j.product.Name, u, local, j.mode)
}

// localPath returns where the product relative path p is stored. Paths leaving the product folder are
// rejected: they come from provider documents.
func (j *job) localPath(p string) (string, error) {
	rel := filepath.FromSlash(p)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q leaves the product folder", eodata.ErrProvider, p)
	}
	return filepath.Join(j.root, rel), nil
}

// discard removes the product folder when this job created it. A folder of a previous run is left untouched.
func (j *job) discard() error {
	if !j.created {
		return nil
	}
	return os.RemoveAll(j.root)
}

// fetchMetadata stages the product metadata next to its final place. It is always fetched whole:
// filtering rewrites it, so a local copy is never a prefix of the remote one.
func (j *job) fetchMetadata(ctx context.Context) (stateFn, error) {
	f := File{Kind: FileMetadata, Path: j.naming.metadataFile()}
	if _, err := os.Stat(j.root); errors.Is(err, fs.ErrNotExist) {
		j.created = true
	}
	if err := os.MkdirAll(j.root, 0750); err != nil {
		return nil, err
	}
	j.metadata = filepath.Join(j.root, f.Path)

	u, err := j.locator.URL(f)
	if err != nil {
		return nil, errors.Join(err, j.discard())
	}
	if err := j.fetch(ctx, j.product.Name, u, j.staged(), ModeOverwrite); err != nil {
		_ = os.Remove(j.staged())
		if !errors.Is(err, eodata.ErrNotFound) && !isMissing(err) {
			return nil, err
		}
		j.logger.Info("Product metadata not found", "product", j.product.Name, "error", err)
		if err := j.discard(); err != nil {
			return nil, err
		}
		j.status = NotFound
		return nil, nil
	}
	return j.filter, nil
}

// staged is where the product metadata is downloaded before being filtered.
func (j *job) staged() string {
	return j.metadata + ".part"
}

func (j *job) filter(context.Context) (stateFn, error) {
	defer os.Remove(j.staged())

	data, err := os.ReadFile(j.staged())
	if err != nil {
		return nil, err
	}

	if len(j.tiles) == 0 {
		if j.granules, err = parseGranules(data); err != nil {
			return nil, fmt.Errorf("%w: %v", eodata.ErrProvider, err)
		}
		if err := os.Rename(j.staged(), j.metadata); err != nil {
			return nil, err
		}
		return j.fetchAux, nil
	}

	out, kept, err := filterGranules(data, j.tiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eodata.ErrProvider, err)
	}
	if len(kept) == 0 {
		j.logger.Info("No requested tile in product", "product", j.product.Name, "tiles", j.tiles)
		if err := j.discard(); err != nil {
			return nil, err
		}
		j.status = Rejected
		return nil, nil
	}
	if err := fileutils.AtomicWrite(j.metadata, out); err != nil {
		return nil, err
	}
	j.granules = kept
	return j.fetchAux, nil
}

func (j *job) fetchAux(ctx context.Context) (stateFn, error) {
	for _, name := range auxFiles {
		f := File{Kind: FileProductAux, Path: name}
		if err := j.get(ctx, f); err != nil {
			if err := j.warn(f, err); err != nil {
				return nil, err
			}
		}
	}
	return j.fetchTiles, nil
}

func (j *job) fetchTiles(ctx context.Context) (stateFn, error) {
	for _, g := range j.granules {
		if err := j.fetchTile(ctx, g); err != nil {
			return nil, err
		}
	}
	return j.fetchDatastrip, nil
}

func (j *job) fetchTile(ctx context.Context, g granule) error {
	granuleDir := path.Join("GRANULE", g.Folder)
	if !isName(g.Folder) {
		j.logger.Warn("Skipping tile with an invalid folder", "product", j.product.Name, "tile", g.Tile, "folder", g.Folder)
		return j.warn(File{Kind: FileTileMetadata, Path: "GRANULE/" + g.Folder, Tile: g.Tile},
			fmt.Errorf("%w: invalid granule folder %q", eodata.ErrProvider, g.Folder))
	}
	for _, sub := range []string{"AUX_DATA", "IMG_DATA", "QI_DATA"} {
		if err := os.MkdirAll(filepath.Join(j.root, filepath.FromSlash(granuleDir), sub), 0750); err != nil {
			return err
		}
	}

	mtd := File{Kind: FileTileMetadata, Path: path.Join(granuleDir, j.naming.tileMetadataFile(g)), Tile: g.Tile}
	if err := j.get(ctx, mtd); err != nil {
		j.logger.Warn("Skipping tile without metadata", "product", j.product.Name, "tile", g.Tile)
		return j.warn(mtd, err)
	}

	for _, b := range j.naming.bands() {
		f := File{Kind: FileBand, Path: path.Join(granuleDir, "IMG_DATA", j.naming.bandFile(g, b)), Tile: g.Tile, Band: b}
		if err := j.get(ctx, f); err != nil {
			if err := j.warn(f, err); err != nil {
				return err
			}
		}
	}

	data, err := os.ReadFile(filepath.Join(j.root, filepath.FromSlash(mtd.Path)))
	if err != nil {
		return err
	}
	masks, err := parseMasks(data)
	if err != nil {
		return j.warn(mtd, err)
	}
	for _, m := range masks {
		f := File{Kind: FileMask, Tile: g.Tile, Mask: m, Path: path.Join(granuleDir, "QI_DATA", m)}
		if path.Base(m) != m {
			f.Path = m
		}
		if err := j.get(ctx, f); err != nil {
			if err := j.warn(f, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *job) fetchDatastrip(ctx context.Context) (stateFn, error) {
	var id string
	for _, g := range j.granules {
		if g.Datastrip != "" {
			id = g.Datastrip
			break
		}
	}
	if idx, ok := j.locator.(datastripIndex); ok && id == "" {
		if ids := idx.Datastrips(); len(ids) > 0 {
			id = ids[0]
		}
	}
	if id == "" {
		j.warnings = append(j.warnings, errors.New("no datastrip in product metadata"))
		return nil, nil
	}

	folder := j.naming.datastripFolder(id)
	dir := path.Join("DATASTRIP", folder)
	f := File{Kind: FileDatastrip, Datastrip: id, Path: path.Join(dir, j.naming.datastripFile(id))}
	if !isName(folder) {
		return nil, j.warn(f, fmt.Errorf("%w: invalid datastrip folder %q", eodata.ErrProvider, folder))
	}
	if err := os.MkdirAll(filepath.Join(j.root, filepath.FromSlash(dir), "QI_DATA"), 0750); err != nil {
		return nil, err
	}
	if err := j.get(ctx, f); err != nil {
		return nil, j.warn(f, err)
	}
	return nil, nil
}

// isName reports whether s is a single local path element.
func isName(s string) bool {
	return s != "." && filepath.IsLocal(s) && !strings.ContainsAny(s, `/\`)
}

// isMissing reports whether err is a provider answer meaning the file does not exist.
func isMissing(err error) bool {
	var pe *eodata.ProviderError
	return errors.As(err, &pe) && (pe.Status == 404 || pe.Status == 403)
}

// isFatal reports whether err must abort the whole product rather than a single file.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, eodata.ErrAuthentication)
}
