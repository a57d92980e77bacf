package product

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/fileutils"
	"gocloud.dev/blob"

	// Supported archive schemes.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Archive is a local product archive, where products are stored under yyyy/MM/dd/<name>.
type Archive struct {
	bucket *blob.Bucket
	// root is the archive folder when the archive is on the local file system.
	root string
}

// OpenArchive opens the archive at the bucket URL u, such as file:///srv/archive or s3://bucket.
func OpenArchive(ctx context.Context, u string) (a *Archive, err error) {
	defer decorate.OnError(&err, "could not open archive %q", u)

	parsed, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	b, err := blob.OpenBucket(ctx, u)
	if err != nil {
		return nil, err
	}

	a = &Archive{bucket: b}
	if parsed.Scheme == "file" {
		a.root = filepath.FromSlash(parsed.Path)
	}
	return a, nil
}

// NewArchive returns an archive on an already opened bucket.
func NewArchive(b *blob.Bucket) *Archive {
	return &Archive{bucket: b}
}

// Close closes the underlying bucket.
func (a *Archive) Close() error {
	return a.bucket.Close()
}

// dir returns the archive folder of p.
func (a *Archive) dir(p eodata.ProductRecord) (string, error) {
	d := p.AcquisitionDate
	if d.IsZero() {
		var err error
		if d, err = newNaming(p.Name).date(); err != nil {
			return "", err
		}
	}
	return d.UTC().Format("2006/01/02"), nil
}

// entries returns the keys of p in the archive, relative to its date folder.
func (a *Archive) entries(ctx context.Context, p eodata.ProductRecord) (dir string, keys []string, err error) {
	if dir, err = a.dir(p); err != nil {
		return "", nil, err
	}

	iter := a.bucket.List(&blob.ListOptions{Prefix: dir + "/" + p.Name})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}
		if obj.IsDir {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, dir+"/")
		top, _, _ := strings.Cut(rel, "/")
		if top != p.Name && top != p.Name+".SAFE" {
			continue
		}
		keys = append(keys, rel)
	}
	return dir, keys, nil
}

// fromArchive copies or links p from the archive into dest. found is false when p is not archived.
func (d *Downloader) fromArchive(ctx context.Context, p eodata.ProductRecord, dest string) (local string, found bool, err error) {
	if d.archive == nil {
		return "", false, eodata.ParameterErrorf("fetch mode %s requires an archive", d.mode)
	}
	if d.mode == ModeSymlink && d.archive.root == "" {
		return "", false, eodata.ParameterErrorf("fetch mode %s requires a file system archive", d.mode)
	}

	dir, keys, err := d.archive.entries(ctx, p)
	if err != nil {
		d.logger.Warn("Could not look up product in archive", "product", p.Name, "error", err)
		return "", false, nil
	}
	if len(keys) == 0 {
		return "", false, nil
	}

	if d.mode == ModeSymlink {
		return d.archive.link(dir, keys, dest)
	}
	return d.archive.copy(ctx, dir, keys, dest)
}

func (a *Archive) copy(ctx context.Context, dir string, keys []string, dest string) (string, bool, error) {
	for _, rel := range keys {
		if err := a.copyObject(ctx, dir+"/"+rel, filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			return "", false, err
		}
	}
	top, _, _ := strings.Cut(keys[0], "/")
	return filepath.Join(dest, top), true, nil
}

func (a *Archive) copyObject(ctx context.Context, key, local string) (err error) {
	defer decorate.OnError(&err, "could not copy %s from archive", key)

	if err := os.MkdirAll(filepath.Dir(local), 0750); err != nil {
		return err
	}
	r, err := a.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	_, err = fileutils.CopyContext(ctx, f, r, copyBufferSize, nil)
	return errors.Join(err, f.Close())
}

// link creates one symbolic link per top level entry of the product.
func (a *Archive) link(dir string, keys []string, dest string) (string, bool, error) {
	linked := make(map[string]bool)
	var first string
	for _, rel := range keys {
		top, _, _ := strings.Cut(rel, "/")
		if linked[top] {
			continue
		}
		linked[top] = true
		if first == "" {
			first = top
		}

		target := filepath.Join(a.root, filepath.FromSlash(path.Join(dir, top)))
		local := filepath.Join(dest, top)
		if err := os.RemoveAll(local); err != nil {
			return "", false, err
		}
		if err := os.Symlink(target, local); err != nil {
			return "", false, fmt.Errorf("could not link %s: %v", target, err)
		}
	}
	return filepath.Join(dest, first), true, nil
}
