// Package file stores download queue items as one TOML file each in a directory.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/fileutils"
)

const ext = ".toml"

// Store is a directory of queue items.
type Store struct {
	dir string
	log *slog.Logger
}

type options struct {
	logger *slog.Logger
}

// Options represents an optional function to override Store default values.
type Options func(*options)

// WithLogger sets the logger of the store.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a store in dir, which is created if needed.
func New(dir string, args ...Options) (*Store, error) {
	opts := options{logger: slog.Default()}
	for _, opt := range args {
		opt(&opts)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("could not create queue directory: %v", err)
	}
	return &Store{dir: dir, log: opts.logger}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", eodata.ParameterErrorf("invalid item id %q", id)
	}
	return filepath.Join(s.dir, id+ext), nil
}

// Save writes item atomically, replacing any previous version.
func (s *Store) Save(_ context.Context, item downloads.Item) error {
	p, err := s.path(item.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(item); err != nil {
		return fmt.Errorf("could not encode queue item: %v", err)
	}
	return fileutils.AtomicWrite(p, buf.Bytes())
}

// Load reads the item with the given id.
func (s *Store) Load(_ context.Context, id string) (downloads.Item, error) {
	p, err := s.path(id)
	if err != nil {
		return downloads.Item{}, err
	}
	return s.read(p)
}

func (s *Store) read(p string) (downloads.Item, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return downloads.Item{}, fmt.Errorf("%w: queue item %s", eodata.ErrNotFound, filepath.Base(p))
	}
	if err != nil {
		return downloads.Item{}, err
	}

	var item downloads.Item
	if _, err := toml.Decode(string(data), &item); err != nil {
		return downloads.Item{}, fmt.Errorf("invalid queue item %s: %v", filepath.Base(p), err)
	}
	return item, nil
}

// Remove deletes the item with the given id.
func (s *Store) Remove(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Restore returns every stored item, sorted by id. Invalid files are logged and skipped.
func (s *Store) Restore(ctx context.Context) ([]downloads.Item, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("could not read queue directory: %v", err)
	}

	var items []downloads.Item
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		item, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("Skipping queue item", "file", e.Name(), "error", err)
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b downloads.Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}
