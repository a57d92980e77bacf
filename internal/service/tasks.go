package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/product"
)

// ProviderLookup returns the current configuration of a provider.
type ProviderLookup interface {
	Provider(id string) (config.Provider, bool)
}

// CredentialLookup returns the credential of a provider.
type CredentialLookup interface {
	Lookup(provider string) (credentials.Credential, bool)
}

// Builder turns queue items into download tasks, using the provider configuration current at build time.
type Builder struct {
	providers ProviderLookup
	creds     CredentialLookup
	client    product.Client
	sink      product.ProgressSink
	log       *slog.Logger
}

// NewBuilder returns a task builder. creds and sink may be nil.
func NewBuilder(providers ProviderLookup, creds CredentialLookup, client product.Client, sink product.ProgressSink, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		providers: providers,
		creds:     creds,
		client:    client,
		sink:      sink,
		log:       log,
	}
}

// Task returns the task downloading every product of item into its destination.
//
// Products are downloaded one after the other. The task fails when any product fails, after trying
// every other one, unless the download is cancelled.
func (b *Builder) Task(item downloads.Item) (t downloads.Task, err error) {
	defer decorate.OnError(&err, "could not prepare download %s", item.ID)

	p, ok := b.providers.Provider(item.ProviderID)
	if !ok {
		return nil, fmt.Errorf("%w %q", downloads.ErrUnknownProvider, item.ProviderID)
	}
	records, err := item.Records()
	if err != nil {
		return nil, eodata.ParameterErrorf("%v", err)
	}
	layout, err := layoutOf(p)
	if err != nil {
		return nil, err
	}

	archiveURL := item.LocalArchive
	if archiveURL == "" {
		archiveURL = p.LocalArchive
	}
	if (p.FetchMode == product.ModeCopy || p.FetchMode == product.ModeSymlink) && archiveURL == "" {
		return nil, eodata.ParameterErrorf("fetch mode %s of %s needs a local archive", p.FetchMode, p.ID)
	}

	opts := []product.Options{
		product.WithFetchMode(p.FetchMode),
		product.WithLogger(b.log.With("provider", p.ID)),
	}
	if b.sink != nil {
		opts = append(opts, product.WithProgress(b.sink))
	}
	if b.creds != nil {
		if c, ok := b.creds.Lookup(p.ID); ok {
			opts = append(opts, product.WithCredential(c))
		}
	}

	return func(ctx context.Context) (err error) {
		if archiveURL != "" && (p.FetchMode == product.ModeCopy || p.FetchMode == product.ModeSymlink) {
			a, err := product.OpenArchive(ctx, archiveURL)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()
			opts = append(slices.Clone(opts), product.WithArchive(a))
		}
		d := product.New(b.client, layout, opts...)

		var errs []error
		for _, rec := range records {
			res, err := d.Download(ctx, rec, item.Destination, item.Tiles)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				errs = append(errs, err)
				continue
			}
			b.log.Info("Product downloaded", "provider", p.ID, "product", rec.Name, "status", res.Status, "path", res.Path, "warnings", len(res.Warnings))
		}
		return errors.Join(errs...)
	}, nil
}

// Restore rebuilds the task of an item restored from the queue store.
func (b *Builder) Restore(_ context.Context, item downloads.Item) (downloads.Task, error) {
	return b.Task(item)
}

// layoutOf returns the file layout of the products of p.
func layoutOf(p config.Provider) (product.Layout, error) {
	switch p.Kind {
	case config.KindAWS:
		return product.NewAWSLayout(p.BaseURL)
	case config.KindSciHub:
		return product.SciHubLayout{BaseURL: p.BaseURL}, nil
	default:
		return nil, eodata.ParameterErrorf("provider %s of kind %s does not support product downloads", p.ID, p.Kind)
	}
}
