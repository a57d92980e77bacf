// Package product downloads Sentinel-2 products file by file and assembles them in the SAFE layout.
//
// A product runs through a fixed sequence of states: the top level metadata is fetched first,
// then filtered on the requested tiles, then each retained tile is fetched, and finally the datastrip
// metadata. Per file failures do not abort the product: they are reported as warnings on the result.
package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

// Status is the outcome of a product download.
type Status int

const (
	// Completed means every file of the product was fetched.
	Completed Status = iota
	// CompletedWithWarnings means some files could not be fetched.
	CompletedWithWarnings
	// Rejected means no tile of the product matched the requested tiles.
	Rejected
	// NotFound means the product metadata does not exist on the provider.
	NotFound
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case CompletedWithWarnings:
		return "completed-with-warnings"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not-found"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of a product download.
type Result struct {
	Status Status
	// Path is the local product folder, empty when nothing was kept.
	Path     string
	Warnings []error
}

// Client fetches remote files.
type Client interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.RequestOption) (*http.Response, error)
}

// Downloader fetches products through a layout.
type Downloader struct {
	client     Client
	layout     Layout
	mode       FetchMode
	archive    *Archive
	sink       ProgressSink
	attempts   int
	credential credentials.Credential
	logger     *slog.Logger

	retryBackoff    time.Duration
	retryMaxBackoff time.Duration
}

type options struct {
	mode            FetchMode
	archive         *Archive
	sink            ProgressSink
	attempts        int
	retryBackoff    time.Duration
	retryMaxBackoff time.Duration
	credential      credentials.Credential
	logger          *slog.Logger
}

// Options represents an optional function to override Downloader default values.
type Options func(*options)

// WithFetchMode sets how existing local files and the local archive are handled.
func WithFetchMode(m FetchMode) Options {
	return func(o *options) {
		o.mode = m
	}
}

// WithArchive sets the local archive used by the copy and symlink fetch modes.
func WithArchive(a *Archive) Options {
	return func(o *options) {
		o.archive = a
	}
}

// WithProgress sets the sink receiving download progress.
func WithProgress(s ProgressSink) Options {
	return func(o *options) {
		o.sink = s
	}
}

// WithAttempts sets the number of attempts made for each file.
func WithAttempts(n int) Options {
	return func(o *options) {
		o.attempts = max(n, 1)
	}
}

// WithRetryBackoff sets the bounds of the jittered exponential delay between two attempts of a file.
func WithRetryBackoff(backoff, maxBackoff time.Duration) Options {
	return func(o *options) {
		o.retryBackoff = backoff
		o.retryMaxBackoff = maxBackoff
	}
}

// WithCredential authenticates every request with c.
func WithCredential(c credentials.Credential) Options {
	return func(o *options) {
		o.credential = c
	}
}

// WithLogger sets the logger of the downloader.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a downloader fetching files through client, located by layout.
func New(client Client, layout Layout, args ...Options) *Downloader {
	opts := options{
		mode:            ModeOverwrite,
		attempts:        constants.DefaultRetryAttempts,
		retryBackoff:    500 * time.Millisecond,
		retryMaxBackoff: 10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}
	if opts.sink == nil {
		opts.sink = NewLogSink(opts.logger)
	}

	return &Downloader{
		client:     client,
		layout:     layout,
		mode:       opts.mode,
		archive:    opts.archive,
		sink:       opts.sink,
		attempts:   opts.attempts,
		credential: opts.credential,
		logger:     opts.logger,

		retryBackoff:    opts.retryBackoff,
		retryMaxBackoff: opts.retryMaxBackoff,
	}
}

// Download fetches p under dest. When tiles is not empty, only the granules of those tiles are kept.
//
// An error is returned when the download cannot proceed at all: cancellation, rejected credentials
// or an unwritable destination. Missing or failing individual files only add warnings to the result.
func (d *Downloader) Download(ctx context.Context, p eodata.ProductRecord, dest string, tiles []string) (res Result, err error) {
	defer decorate.OnError(&err, "download of %s failed", p.Name)

	if p.Name == "" {
		return Result{}, eodata.ParameterErrorf("product without name")
	}
	if !isName(p.Name) {
		return Result{}, eodata.ParameterErrorf("invalid product name %q", p.Name)
	}
	if err := os.MkdirAll(dest, 0750); err != nil {
		return Result{}, fmt.Errorf("could not create destination: %v", err)
	}

	d.sink.Started(p.Name)
	defer func() { d.sink.Ended(p.Name, err) }()

	if d.mode == ModeCopy || d.mode == ModeSymlink {
		path, found, err := d.fromArchive(ctx, p, dest)
		if err != nil {
			return Result{}, err
		}
		if found {
			return Result{Status: Completed, Path: path}, nil
		}
		d.logger.Warn("Product not in the local archive, downloading it", "product", p.Name)
	}

	if eodata.Sensor(p.Sensor) == eodata.Landsat8 || strings.HasPrefix(p.Name, "LC08_") || strings.HasPrefix(p.Name, "LC8") {
		return d.downloadLandsat(ctx, p, dest)
	}

	loc, err := d.layout.Open(ctx, d.client, p)
	if err != nil {
		if errors.Is(err, eodata.ErrNotFound) {
			d.logger.Info("Product not found", "product", p.Name, "error", err)
			return Result{Status: NotFound}, nil
		}
		return Result{}, err
	}

	j := &job{
		Downloader: d,
		product:    p,
		locator:    loc,
		naming:     newNaming(p.Name),
		root:       filepath.Join(dest, p.Name+".SAFE"),
		tiles:      tiles,
	}
	return j.run(ctx)
}
